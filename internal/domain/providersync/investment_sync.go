package providersync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"findash/internal/domain/account"
	"findash/internal/domain/connection"
	"findash/internal/domain/transaction"
	"findash/internal/infrastructure/provider"
)

// investmentExtended is stored verbatim in the transaction's extended bag
type investmentExtended struct {
	Security *provider.Security `json:"security,omitempty"`
	Quantity float64            `json:"quantity"`
	Price    float64            `json:"price"`
	Fees     *float64           `json:"fees,omitempty"`
	Type     string             `json:"type,omitempty"`
	Subtype  string             `json:"subtype,omitempty"`
}

// syncInvestments replaces the trailing window of an investment account.
// The whole window is fetched before anything is written, so a failure on
// any page leaves the stored history untouched.
func (s *Service) syncInvestments(ctx context.Context, conn *connection.Connection, client provider.ClientInterface, acc *account.Account) (int, error) {
	logger := s.logger.With(
		zap.String("connection_id", conn.ID),
		zap.String("account_id", acc.ID))

	if err := s.checkItem(ctx, conn, client); err != nil {
		s.logDownload(ctx, acc.ID, nil, err)
		return 0, err
	}

	now := s.now().UTC()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	start := end.AddDate(0, -s.cfg.InvestmentWindowMonths, 0)

	var records []provider.InvestmentTransaction
	securities := make(map[string]provider.Security)

	for offset := 0; ; {
		callCtx, cancel := s.callContext(ctx)
		page, err := client.GetInvestmentTransactions(callCtx, conn.AccessToken, start, end, offset, s.cfg.InvestmentPageSize)
		cancel()
		if err != nil {
			if provider.IsCredentialInvalid(err) {
				err = s.disconnect(ctx, conn, err)
			} else {
				err = fmt.Errorf("failed to fetch investment transactions at offset %d: %w", offset, err)
			}
			s.logDownload(ctx, acc.ID, nil, err)
			return 0, err
		}

		for _, sec := range page.Securities {
			securities[sec.SecurityID] = sec
		}
		for _, rec := range page.InvestmentTransactions {
			if rec.AccountID == acc.ExternalID {
				records = append(records, rec)
			}
		}

		offset += len(page.InvestmentTransactions)
		if len(page.InvestmentTransactions) == 0 || offset >= page.TotalInvestmentTransactions {
			break
		}
	}

	stats := &syncStats{}
	txns := make([]*transaction.Transaction, 0, len(records))
	for _, rec := range records {
		txn, err := toInvestmentTransaction(acc, rec, securities)
		if err != nil {
			stats.skipped++
			continue
		}
		txns = append(txns, txn)
		stats.added++
		stats.observe(txn.Date)
	}

	window := transaction.Window{Start: start, End: end}
	if err := s.transactions.ReplaceWindow(ctx, acc.ID, window, txns); err != nil {
		err = fmt.Errorf("failed to replace investment window: %w", err)
		s.logDownload(ctx, acc.ID, nil, err)
		return 0, err
	}

	if err := s.accounts.MarkSynced(ctx, acc.ID, acc.SyncCursor, now); err != nil {
		return len(txns), err
	}
	s.logDownload(ctx, acc.ID, stats, nil)

	if stats.skipped > 0 {
		logger.Warn("skipped invalid investment transactions", zap.Int("count", stats.skipped))
	}
	logger.Info("investment sync complete", zap.Int("stored", len(txns)))
	return len(txns), nil
}

// checkItem verifies the credential before a long pagination run.
func (s *Service) checkItem(ctx context.Context, conn *connection.Connection, client provider.ClientInterface) error {
	callCtx, cancel := s.callContext(ctx)
	resp, err := client.GetItem(callCtx, conn.AccessToken)
	cancel()
	if err != nil {
		if provider.IsCredentialInvalid(err) {
			return s.disconnect(ctx, conn, err)
		}
		return fmt.Errorf("failed to check item status: %w", err)
	}
	if resp.Item.Error != nil && provider.IsCredentialInvalid(resp.Item.Error) {
		return s.disconnect(ctx, conn, resp.Item.Error)
	}
	return nil
}

func toInvestmentTransaction(acc *account.Account, rec provider.InvestmentTransaction, securities map[string]provider.Security) (*transaction.Transaction, error) {
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
		ExternalID: rec.InvestmentTransactionID,
		Date:       date,
		Name:       rec.Name,
		Amount:     amount,
		Category:   rec.Type,
	}
	if err := txn.Validate(); err != nil {
		return nil, err
	}

	ext := investmentExtended{
		Quantity: rec.Quantity.Float(),
		Price:    rec.Price.Float(),
		Type:     rec.Type,
		Subtype:  rec.Subtype,
	}
	if !rec.Quantity.IsFinite() {
		ext.Quantity = 0
	}
	if !rec.Price.IsFinite() {
		ext.Price = 0
	}
	if rec.Fees != nil && rec.Fees.IsFinite() {
		fees := rec.Fees.Float()
		ext.Fees = &fees
	}
	if rec.SecurityID != nil {
		if sec, ok := securities[*rec.SecurityID]; ok {
			if sec.ClosePrice != nil && !sec.ClosePrice.IsFinite() {
				sec.ClosePrice = nil
			}
			ext.Security = &sec
		}
	}

	raw, err := json.Marshal(ext)
	if err != nil {
		return nil, fmt.Errorf("failed to encode extended attributes: %w", err)
	}
	txn.Extended = raw
	return txn, nil
}
