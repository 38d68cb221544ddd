package providersync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"findash/internal/domain/account"
	"findash/internal/domain/connection"
	"findash/internal/domain/downloadlog"
	"findash/internal/domain/transaction"
	"findash/internal/infrastructure/provider"
)

// maxCursorResets bounds how many times a rejected cursor is discarded
// before the sync gives up.
const maxCursorResets = 1

// syncStats accumulates what a sync stored for the download log
type syncStats struct {
	added    int
	modified int
	removed  int
	skipped  int
	earliest time.Time
	latest   time.Time
}

func (st *syncStats) observe(date time.Time) {
	if st.earliest.IsZero() || date.Before(st.earliest) {
		st.earliest = date
	}
	if date.After(st.latest) {
		st.latest = date
	}
}

// syncCursor runs the incremental cursor protocol for one account.
// full discards the stored cursor first.
func (s *Service) syncCursor(ctx context.Context, conn *connection.Connection, client provider.ClientInterface, acc *account.Account, full bool) (int, error) {
	logger := s.logger.With(
		zap.String("connection_id", conn.ID),
		zap.String("account_id", acc.ID))

	var cursor string
	if acc.SyncCursor != nil && !full {
		cursor = *acc.SyncCursor
	}
	if full && acc.SyncCursor != nil {
		if err := s.accounts.SaveCursor(ctx, acc.ID, nil); err != nil {
			return 0, err
		}
	}

	for resets := 0; ; resets++ {
		stats, final, err := s.cursorLoop(ctx, conn, client, acc, cursor)
		if err == nil {
			if err := s.accounts.MarkSynced(ctx, acc.ID, &final, s.now().UTC()); err != nil {
				return stats.added, err
			}
			s.logDownload(ctx, acc.ID, stats, nil)
			if stats.skipped > 0 {
				logger.Warn("skipped invalid transactions", zap.Int("count", stats.skipped))
			}
			logger.Info("transaction sync complete",
				zap.Int("added", stats.added),
				zap.Int("modified", stats.modified),
				zap.Int("removed", stats.removed))
			return stats.added, nil
		}

		switch {
		case provider.IsCursorInvalid(err) && resets < maxCursorResets:
			logger.Warn("sync cursor rejected, restarting from scratch", zap.Error(err))
			if err := s.accounts.SaveCursor(ctx, acc.ID, nil); err != nil {
				return 0, err
			}
			cursor = ""
			continue
		case provider.IsCursorInvalid(err):
			err = fmt.Errorf("%w: %v", ErrCursorDesync, err)
		case provider.IsCredentialInvalid(err):
			err = s.disconnect(ctx, conn, err)
		}

		s.logDownload(ctx, acc.ID, stats, err)
		return 0, err
	}
}

// cursorLoop pages through the feed starting at cursor. The cursor is
// committed after every page so an interrupted run resumes where it stopped.
func (s *Service) cursorLoop(ctx context.Context, conn *connection.Connection, client provider.ClientInterface, acc *account.Account, cursor string) (*syncStats, string, error) {
	stats := &syncStats{}

	for {
		callCtx, cancel := s.callContext(ctx)
		page, err := client.SyncTransactions(callCtx, conn.AccessToken, cursor, s.cfg.TransactionPageSize)
		cancel()
		if err != nil {
			return stats, cursor, err
		}

		records := make([]provider.Transaction, 0, len(page.Added)+len(page.Modified))
		records = append(records, page.Added...)
		records = append(records, page.Modified...)

		upserts := make([]*transaction.Transaction, 0, len(records))
		for i, rec := range records {
			if rec.AccountID != acc.ExternalID {
				continue
			}
			txn, err := toTransaction(acc, rec)
			if err != nil {
				stats.skipped++
				s.logger.Debug("skipping transaction", zap.String("external_id", rec.TransactionID), zap.Error(err))
				continue
			}
			upserts = append(upserts, txn)
			if i < len(page.Added) {
				stats.added++
				stats.observe(txn.Date)
			} else {
				stats.modified++
			}
		}
		if err := s.transactions.Upsert(ctx, upserts); err != nil {
			return stats, cursor, err
		}

		var removed []string
		for _, rec := range page.Removed {
			if rec.AccountID != "" && rec.AccountID != acc.ExternalID {
				continue
			}
			removed = append(removed, rec.TransactionID)
		}
		n, err := s.transactions.DeleteByExternalIDs(ctx, acc.ID, removed)
		if err != nil {
			return stats, cursor, err
		}
		stats.removed += int(n)

		cursor = page.NextCursor
		if err := s.accounts.SaveCursor(ctx, acc.ID, &cursor); err != nil {
			return stats, cursor, err
		}

		if !page.HasMore {
			return stats, cursor, nil
		}
	}
}

func toTransaction(acc *account.Account, rec provider.Transaction) (*transaction.Transaction, error) {
	if err := provider.ValidateRecord(rec); err != nil {
		return nil, err
	}
	date, err := rec.ParsedDate()
	if err != nil {
		return nil, err
	}

	amount := provider.AmountValue(rec.Amount)
	if acc.InvertTransactions {
		amount = -amount
	}

	txn := &transaction.Transaction{
		AccountID:  acc.ID,
		ExternalID: rec.TransactionID,
		Date:       date,
		Name:       rec.Name,
		Amount:     amount,
		Category:   rec.PrimaryCategory(),
		Pending:    rec.Pending,
	}
	if rec.MerchantName != nil {
		txn.MerchantName = *rec.MerchantName
	}
	if err := txn.Validate(); err != nil {
		return nil, err
	}

	extended := map[string]json.RawMessage{}
	if isPresent(rec.Location) {
		extended["location"] = rec.Location
	}
	if isPresent(rec.PaymentMeta) {
		extended["payment_meta"] = rec.PaymentMeta
	}
	if len(extended) > 0 {
		raw, err := json.Marshal(extended)
		if err != nil {
			return nil, fmt.Errorf("failed to encode extended attributes: %w", err)
		}
		txn.Extended = raw
	}
	return txn, nil
}

func isPresent(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// logDownload records the sync outcome. Failures to write the log are only logged.
func (s *Service) logDownload(ctx context.Context, accountID string, stats *syncStats, syncErr error) {
	if s.downloadLogs == nil {
		return
	}

	entry := &downloadlog.Entry{AccountID: accountID, Status: downloadlog.StatusSuccess}
	if stats != nil {
		entry.Count = stats.added
		if !stats.earliest.IsZero() {
			start, end := stats.earliest, stats.latest
			entry.StartDate = &start
			entry.EndDate = &end
		}
	}
	if syncErr != nil {
		entry.Status = downloadlog.StatusError
		entry.ErrorMessage = syncErr.Error()
	}

	if err := s.downloadLogs.Create(ctx, entry); err != nil {
		s.logger.Warn("failed to write download log", zap.String("account_id", accountID), zap.Error(err))
	}
}
