// Package testutils provides in-memory repositories and provider fakes for
// exercising the sync and duplicate services without a database.
package testutils

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"findash/internal/domain/account"
	"findash/internal/domain/balance"
	"findash/internal/domain/connection"
	"findash/internal/domain/downloadlog"
	"findash/internal/domain/transaction"
)

// Store is a thread-safe in-memory system of record. Each repository view
// shares the same data, so cross-aggregate effects (reassigning snapshots,
// deleting accounts) are visible everywhere.
type Store struct {
	mu           sync.Mutex
	connections  map[string]*connection.Connection
	accounts     map[string]*account.Account
	snapshots    []*balance.Snapshot
	transactions map[string]map[string]*transaction.Transaction // account -> external -> txn
	logs         []*downloadlog.Entry
	memberships  map[string][]string // account -> groups

	Disconnected []string
	// FoldErr, when set, fails every account fold before anything moves
	FoldErr error
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		connections:  make(map[string]*connection.Connection),
		accounts:     make(map[string]*account.Account),
		transactions: make(map[string]map[string]*transaction.Transaction),
		memberships:  make(map[string][]string),
	}
}

// AddConnection seeds a connection
func (s *Store) AddConnection(c *connection.Connection) *connection.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Status == "" {
		c.Status = connection.StatusActive
	}
	cp := *c
	s.connections[c.ID] = &cp
	return c
}

// AddAccount seeds an account
func (s *Store) AddAccount(a *account.Account) *account.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.accounts[a.ID] = &cp
	return a
}

// AddSnapshot seeds a balance snapshot
func (s *Store) AddSnapshot(accountID string, current float64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, &balance.Snapshot{
		ID: uuid.NewString(), AccountID: accountID, Current: current, CapturedAt: at,
	})
}

// AddTransaction seeds a transaction
func (s *Store) AddTransaction(t *transaction.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putTransaction(t)
}

// AddMembership seeds a derived-group membership
func (s *Store) AddMembership(accountID, groupID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberships[accountID] = append(s.memberships[accountID], groupID)
}

// Connection returns a copy of a connection, or nil
func (s *Store) Connection(id string) *connection.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connections[id]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}

// Account returns a copy of an account, or nil
func (s *Store) Account(id string) *account.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil
	}
	cp := *a
	return &cp
}

// Snapshots returns the snapshots of an account
func (s *Store) Snapshots(accountID string) []*balance.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*balance.Snapshot
	for _, snap := range s.snapshots {
		if snap.AccountID == accountID {
			cp := *snap
			out = append(out, &cp)
		}
	}
	return out
}

// Transactions returns the transactions of an account sorted by external ID
func (s *Store) Transactions(accountID string) []*transaction.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*transaction.Transaction
	for _, t := range s.transactions[accountID] {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out
}

// Logs returns every download log entry written
func (s *Store) Logs() []*downloadlog.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*downloadlog.Entry, len(s.logs))
	copy(out, s.logs)
	return out
}

// Memberships returns the groups an account belongs to
func (s *Store) Memberships(accountID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.memberships[accountID]...)
}

func (s *Store) putTransaction(t *transaction.Transaction) {
	byExt, ok := s.transactions[t.AccountID]
	if !ok {
		byExt = make(map[string]*transaction.Transaction)
		s.transactions[t.AccountID] = byExt
	}
	cp := *t
	if existing, ok := byExt[t.ExternalID]; ok {
		cp.ID = existing.ID
		cp.CreatedAt = existing.CreatedAt
	} else if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	byExt[t.ExternalID] = &cp
}

// Connections returns the connection repository view
func (s *Store) Connections() connection.Repository { return &connectionRepo{s} }

// Accounts returns the account repository view
func (s *Store) Accounts() account.Repository { return &accountRepo{s} }

// Balances returns the balance repository view
func (s *Store) Balances() balance.Repository { return &balanceRepo{s} }

// TransactionRepo returns the transaction repository view
func (s *Store) TransactionRepo() transaction.Repository { return &transactionRepo{s} }

// DownloadLogs returns the download log repository view
func (s *Store) DownloadLogs() downloadlog.Repository { return &downloadLogRepo{s} }

type connectionRepo struct{ s *Store }

func (r *connectionRepo) GetByID(_ context.Context, id string) (*connection.Connection, error) {
	if c := r.s.Connection(id); c != nil {
		return c, nil
	}
	return nil, connection.ErrConnectionNotFound
}

func (r *connectionRepo) ListByUserID(_ context.Context, userID int64) ([]*connection.Connection, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*connection.Connection
	for _, c := range r.s.connections {
		if c.UserID == userID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *connectionRepo) ListActiveByInstitution(ctx context.Context, userID int64, institutionID string) ([]*connection.Connection, error) {
	all, _ := r.ListByUserID(ctx, userID)
	var out []*connection.Connection
	for _, c := range all {
		if c.InstitutionID == institutionID && c.IsActive() {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *connectionRepo) ListUserIDsWithActive(_ context.Context) ([]int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	seen := make(map[int64]struct{})
	var out []int64
	for _, c := range r.s.connections {
		if !c.IsActive() {
			continue
		}
		if _, ok := seen[c.UserID]; !ok {
			seen[c.UserID] = struct{}{}
			out = append(out, c.UserID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (r *connectionRepo) Upsert(_ context.Context, c *connection.Connection) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *c
	r.s.connections[c.ID] = &cp
	return nil
}

func (r *connectionRepo) MarkDisconnected(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.connections[id]
	if !ok {
		return connection.ErrConnectionNotFound
	}
	now := time.Now()
	c.Status = connection.StatusDisconnected
	c.DisconnectedAt = &now
	r.s.Disconnected = append(r.s.Disconnected, id)
	return nil
}

type accountRepo struct{ s *Store }

func (r *accountRepo) GetByID(_ context.Context, id string) (*account.Account, error) {
	if a := r.s.Account(id); a != nil {
		return a, nil
	}
	return nil, account.ErrAccountNotFound
}

func (r *accountRepo) GetByIDs(ctx context.Context, ids []string) ([]*account.Account, error) {
	var out []*account.Account
	for _, id := range ids {
		if a := r.s.Account(id); a != nil {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *accountRepo) list(match func(*account.Account) bool) []*account.Account {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*account.Account
	for _, a := range r.s.accounts {
		if match(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *accountRepo) ListByUserID(_ context.Context, userID int64) ([]*account.Account, error) {
	r.s.mu.Lock()
	owned := make(map[string]bool)
	for _, c := range r.s.connections {
		owned[c.ID] = c.UserID == userID
	}
	r.s.mu.Unlock()
	return r.list(func(a *account.Account) bool { return owned[a.ConnectionID] }), nil
}

func (r *accountRepo) ListByConnectionID(_ context.Context, connectionID string) ([]*account.Account, error) {
	return r.list(func(a *account.Account) bool { return a.ConnectionID == connectionID }), nil
}

func (r *accountRepo) ListByInstitution(_ context.Context, userID int64, institutionID string) ([]*account.Account, error) {
	r.s.mu.Lock()
	match := make(map[string]bool)
	for _, c := range r.s.connections {
		match[c.ID] = c.UserID == userID && c.InstitutionID == institutionID
	}
	r.s.mu.Unlock()
	return r.list(func(a *account.Account) bool { return match[a.ConnectionID] }), nil
}

func (r *accountRepo) CountByConnectionID(ctx context.Context, connectionID string) (int, error) {
	accs, _ := r.ListByConnectionID(ctx, connectionID)
	return len(accs), nil
}

func (r *accountRepo) mutate(id string, fn func(a *account.Account)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return account.ErrAccountNotFound
	}
	fn(a)
	return nil
}

func (r *accountRepo) UpdateLiabilities(_ context.Context, id string, u account.LiabilityUpdate) error {
	return r.mutate(id, func(a *account.Account) {
		if u.LastStatementBalance != nil {
			a.LastStatementBalance = u.LastStatementBalance
		}
		if u.MinimumPaymentAmount != nil {
			a.MinimumPaymentAmount = u.MinimumPaymentAmount
		}
		if u.NextPaymentDueDate != nil {
			a.NextPaymentDueDate = u.NextPaymentDueDate
		}
		if u.NextMonthlyPayment != nil {
			a.NextMonthlyPayment = u.NextMonthlyPayment
		}
	})
}

func (r *accountRepo) SaveCursor(_ context.Context, id string, cursor *string) error {
	return r.mutate(id, func(a *account.Account) { a.SyncCursor = copyString(cursor) })
}

func (r *accountRepo) MarkSynced(_ context.Context, id string, cursor *string, syncedAt time.Time) error {
	return r.mutate(id, func(a *account.Account) {
		a.SyncCursor = copyString(cursor)
		a.LastSyncedAt = &syncedAt
	})
}

func (r *accountRepo) Fold(_ context.Context, fromID, toID string) (*account.FoldResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FoldErr != nil {
		return nil, r.s.FoldErr
	}
	if _, ok := r.s.accounts[fromID]; !ok {
		return nil, account.ErrAccountNotFound
	}

	var res account.FoldResult
	keeperHasSnapshots := false
	for _, snap := range r.s.snapshots {
		if snap.AccountID == toID {
			keeperHasSnapshots = true
			break
		}
	}
	kept := r.s.snapshots[:0]
	for _, snap := range r.s.snapshots {
		if snap.AccountID == fromID {
			if keeperHasSnapshots {
				continue
			}
			snap.AccountID = toID
			res.Snapshots++
		}
		kept = append(kept, snap)
	}
	r.s.snapshots = kept

	for ext, t := range r.s.transactions[fromID] {
		if _, dup := r.s.transactions[toID][ext]; dup {
			continue
		}
		t.AccountID = toID
		r.s.putTransaction(t)
		res.Transactions++
	}

	existing := make(map[string]bool)
	for _, g := range r.s.memberships[toID] {
		existing[g] = true
	}
	for _, g := range r.s.memberships[fromID] {
		if !existing[g] {
			r.s.memberships[toID] = append(r.s.memberships[toID], g)
			res.Memberships++
		}
	}

	delete(r.s.accounts, fromID)
	delete(r.s.transactions, fromID)
	delete(r.s.memberships, fromID)
	return &res, nil
}

type balanceRepo struct{ s *Store }

func (r *balanceRepo) Append(_ context.Context, snap *balance.Snapshot) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.accounts[snap.AccountID]; !ok {
		return fmt.Errorf("append snapshot: %w", account.ErrAccountNotFound)
	}
	cp := *snap
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	r.s.snapshots = append(r.s.snapshots, &cp)
	return nil
}

func (r *balanceRepo) Latest(_ context.Context, accountID string) (*balance.Snapshot, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var latest *balance.Snapshot
	for _, snap := range r.s.snapshots {
		if snap.AccountID == accountID && (latest == nil || snap.CapturedAt.After(latest.CapturedAt)) {
			latest = snap
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *balanceRepo) LatestCapturedAt(ctx context.Context, ids []string) (map[string]time.Time, error) {
	out := make(map[string]time.Time)
	for _, id := range ids {
		snap, _ := r.Latest(ctx, id)
		if snap != nil {
			out[id] = snap.CapturedAt
		}
	}
	return out, nil
}

type transactionRepo struct{ s *Store }

func (r *transactionRepo) Upsert(_ context.Context, txns []*transaction.Transaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range txns {
		if err := t.Validate(); err != nil {
			return err
		}
		r.s.putTransaction(t)
	}
	return nil
}

func (r *transactionRepo) DeleteByExternalIDs(_ context.Context, accountID string, ids []string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := r.s.transactions[accountID][id]; ok {
			delete(r.s.transactions[accountID], id)
			n++
		}
	}
	return n, nil
}

func (r *transactionRepo) ReplaceWindow(_ context.Context, accountID string, w transaction.Window, txns []*transaction.Transaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for ext, t := range r.s.transactions[accountID] {
		if !t.Date.Before(w.Start) && !t.Date.After(w.End) {
			delete(r.s.transactions[accountID], ext)
		}
	}
	for _, t := range txns {
		r.s.putTransaction(t)
	}
	return nil
}

type downloadLogRepo struct{ s *Store }

func (r *downloadLogRepo) Create(_ context.Context, e *downloadlog.Entry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *e
	cp.ID = uuid.NewString()
	cp.CreatedAt = time.Now()
	r.s.logs = append(r.s.logs, &cp)
	return nil
}

func (r *downloadLogRepo) ListByAccountID(_ context.Context, accountID string, limit int) ([]*downloadlog.Entry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*downloadlog.Entry
	for i := len(r.s.logs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if r.s.logs[i].AccountID == accountID {
			out = append(out, r.s.logs[i])
		}
	}
	return out, nil
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
