package cleanup

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/coinledger/backend/internal/ledger"
	"github.com/coinledger/backend/internal/models"
)

type fakeTx struct {
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) { return &fakeTx{}, nil }
func (t *fakeTx) Commit(ctx context.Context) error          { t.committed = true; return nil }
func (t *fakeTx) Rollback(ctx context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}
func (t *fakeTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *fakeTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *fakeTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *fakeTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *fakeTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }
func (t *fakeTx) Conn() *pgx.Conn                                              { return nil }

type fakePool struct {
	mu     sync.Mutex
	lastTx *fakeTx
}

func (p *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastTx = &fakeTx{}
	return p.lastTx, nil
}

type mockUsers struct {
	withdrawn []uuid.UUID
	err       error
}

func (m *mockUsers) MarkWithdrawnTx(_ context.Context, _ pgx.Tx, userID uuid.UUID) error {
	if m.err != nil {
		return m.err
	}
	m.withdrawn = append(m.withdrawn, userID)
	return nil
}

type mockWallets struct {
	wallets []*models.Wallet
}

func (m *mockWallets) ListByUserTx(_ context.Context, _ pgx.Tx, userID uuid.UUID) ([]*models.Wallet, error) {
	var out []*models.Wallet
	for _, w := range m.wallets {
		if w.UserID == userID {
			out = append(out, w)
		}
	}
	return out, nil
}

type mockWriter struct {
	changes []ledger.Change
	err     error
}

func (m *mockWriter) ApplyChangeTx(_ context.Context, _ pgx.Tx, c ledger.Change) (*models.HistoryEntry, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.changes = append(m.changes, c)
	return &models.HistoryEntry{ID: uuid.New()}, nil
}

type mockExpirer struct {
	expired []uuid.UUID
	err     error
}

func (m *mockExpirer) ExpireActiveByUserTx(_ context.Context, _ pgx.Tx, userID uuid.UUID, _ string) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.expired = append(m.expired, userID)
	return 1, nil
}

func TestCleanupAccount(t *testing.T) {
	user := uuid.New()
	users := &mockUsers{}
	wallets := &mockWallets{wallets: []*models.Wallet{
		{UserID: user, CurrencyType: models.CurrencyCoin, Balance: 200},
		{UserID: user, CurrencyType: models.CurrencyPoint, Balance: 0},
	}}
	writer := &mockWriter{}
	expirer := &mockExpirer{}
	pool := &fakePool{}
	o := NewOrchestrator(pool, DefaultHandlers(users, wallets, writer, expirer), nil)

	if err := o.CleanupAccount(context.Background(), user); err != nil {
		t.Fatalf("CleanupAccount: %v", err)
	}
	if len(users.withdrawn) != 1 || users.withdrawn[0] != user {
		t.Errorf("user not withdrawn: %v", users.withdrawn)
	}
	// Only the nonzero wallet is zeroed, through the ledger.
	if len(writer.changes) != 1 {
		t.Fatalf("zeroing changes: got %d, want 1", len(writer.changes))
	}
	c := writer.changes[0]
	if c.CurrencyType != models.CurrencyCoin || c.Method != models.ChangeMethodSet || c.Amount != 0 {
		t.Errorf("zeroing change: %+v", c)
	}
	if c.SourceType != models.SourceSystem {
		t.Errorf("zeroing source type: got %s, want system", c.SourceType)
	}
	if len(expirer.expired) != 1 {
		t.Errorf("open purchases not expired: %v", expirer.expired)
	}
	if !pool.lastTx.committed {
		t.Error("cleanup transaction not committed")
	}
}

func TestCleanupAccountRequiredHandlerFailure(t *testing.T) {
	user := uuid.New()
	users := &mockUsers{}
	wallets := &mockWallets{wallets: []*models.Wallet{
		{UserID: user, CurrencyType: models.CurrencyCoin, Balance: 200},
	}}
	writer := &mockWriter{err: errors.New("wallet row locked by another session")}
	expirer := &mockExpirer{}
	pool := &fakePool{}
	o := NewOrchestrator(pool, DefaultHandlers(users, wallets, writer, expirer), nil)

	err := o.CleanupAccount(context.Background(), user)
	if err == nil {
		t.Fatal("expected error from required handler")
	}
	if pool.lastTx.committed {
		t.Error("transaction committed despite required handler failure")
	}
	if !pool.lastTx.rolledBack {
		t.Error("transaction not rolled back")
	}
	// Handlers after the failing one never ran.
	if len(expirer.expired) != 0 {
		t.Errorf("later handler ran after required failure: %v", expirer.expired)
	}
}

func TestCleanupAccountOptionalHandlerFailure(t *testing.T) {
	user := uuid.New()
	users := &mockUsers{}
	wallets := &mockWallets{}
	writer := &mockWriter{}
	expirer := &mockExpirer{err: errors.New("purchase table unavailable")}
	pool := &fakePool{}
	o := NewOrchestrator(pool, DefaultHandlers(users, wallets, writer, expirer), nil)

	if err := o.CleanupAccount(context.Background(), user); err != nil {
		t.Fatalf("optional handler failure must not fail cleanup: %v", err)
	}
	if len(users.withdrawn) != 1 {
		t.Errorf("user not withdrawn: %v", users.withdrawn)
	}
	if !pool.lastTx.committed {
		t.Error("cleanup transaction not committed")
	}
}

func TestCleanupAccountHandlerOrder(t *testing.T) {
	var order []string
	pool := &fakePool{}
	o := NewOrchestrator(pool, []Handler{
		{Name: "first", Required: true, Run: func(context.Context, pgx.Tx, uuid.UUID) error {
			order = append(order, "first")
			return nil
		}},
		{Name: "second", Required: false, Run: func(context.Context, pgx.Tx, uuid.UUID) error {
			order = append(order, "second")
			return nil
		}},
		{Name: "third", Required: true, Run: func(context.Context, pgx.Tx, uuid.UUID) error {
			order = append(order, "third")
			return nil
		}},
	}, nil)

	if err := o.CleanupAccount(context.Background(), uuid.New()); err != nil {
		t.Fatalf("CleanupAccount: %v", err)
	}
	if len(order) != 3 || order[0] != "first" || order[1] != "second" || order[2] != "third" {
		t.Errorf("handler order: %v", order)
	}
}
