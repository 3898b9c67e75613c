package integration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"z402-facilitator/internal/core/domain"
	"z402-facilitator/internal/core/ports"
	"z402-facilitator/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// --- In-Memory Merchant Repo ---

type inMemoryMerchantRepo struct {
	mu        sync.RWMutex
	merchants map[uuid.UUID]*domain.Merchant
}

func newInMemoryMerchantRepo() *inMemoryMerchantRepo {
	return &inMemoryMerchantRepo{merchants: make(map[uuid.UUID]*domain.Merchant)}
}

func (r *inMemoryMerchantRepo) Create(ctx context.Context, m *domain.Merchant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.merchants {
		if existing.APIKey == m.APIKey {
			return fmt.Errorf("api key prefix already exists")
		}
	}
	cp := *m
	r.merchants[m.ID] = &cp
	return nil
}

func (r *inMemoryMerchantRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Merchant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.merchants[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (r *inMemoryMerchantRepo) GetByAPIKey(ctx context.Context, apiKey string) (*domain.Merchant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.merchants {
		if m.APIKey == apiKey {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

// --- In-Memory Payment Intent Repo ---

type inMemoryIntentRepo struct {
	mu      sync.RWMutex
	intents map[uuid.UUID]*domain.PaymentIntent
}

func newInMemoryIntentRepo() *inMemoryIntentRepo {
	return &inMemoryIntentRepo{intents: make(map[uuid.UUID]*domain.PaymentIntent)}
}

func (r *inMemoryIntentRepo) Create(ctx context.Context, intent *domain.PaymentIntent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.intents {
		if existing.Nonce == intent.Nonce {
			return fmt.Errorf("nonce already exists")
		}
	}
	cp := *intent
	r.intents[intent.ID] = &cp
	return nil
}

func (r *inMemoryIntentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentIntent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	intent, ok := r.intents[id]
	if !ok {
		return nil, nil
	}
	cp := *intent
	return &cp, nil
}

func (r *inMemoryIntentRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.PaymentIntent, error) {
	return r.GetByID(ctx, id)
}

func (r *inMemoryIntentRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.IntentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	intent, ok := r.intents[id]
	if !ok {
		return fmt.Errorf("payment intent not found: %s", id)
	}
	intent.Status = status
	intent.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *inMemoryIntentRepo) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, intent := range r.intents {
		if intent.Status == domain.IntentStatusCreated && !intent.ExpiresAt.After(now) {
			intent.Status = domain.IntentStatusExpired
			count++
		}
	}
	return count, nil
}

// --- In-Memory Transaction Repo ---

type inMemoryTransactionRepo struct {
	mu           sync.RWMutex
	transactions map[uuid.UUID]*domain.Transaction
}

func newInMemoryTransactionRepo() *inMemoryTransactionRepo {
	return &inMemoryTransactionRepo{transactions: make(map[uuid.UUID]*domain.Transaction)}
}

// Create enforces the tx_id uniqueness the real schema provides, mapping a
// second claim on the same on-chain id to the double-spend error.
func (r *inMemoryTransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.TxID != nil && *t.TxID != "" {
		for _, existing := range r.transactions {
			if existing.TxID != nil && *existing.TxID == *t.TxID {
				return apperror.ErrDoubleSpendDetected()
			}
		}
	}
	cp := *t
	r.transactions[t.ID] = &cp
	return nil
}

func (r *inMemoryTransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transactions[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r *inMemoryTransactionRepo) GetActiveByIntentID(ctx context.Context, tx pgx.Tx, intentID uuid.UUID) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *domain.Transaction
	for _, t := range r.transactions {
		if t.PaymentIntentID == nil || *t.PaymentIntentID != intentID {
			continue
		}
		switch t.Status {
		case domain.TransactionStatusFailed, domain.TransactionStatusExpired, domain.TransactionStatusRefunded:
			continue
		}
		if latest == nil || t.CreatedAt.After(latest.CreatedAt) {
			latest = t
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *inMemoryTransactionRepo) GetByTxID(ctx context.Context, txid string) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.transactions {
		if t.TxID != nil && *t.TxID == txid {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *inMemoryTransactionRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.TransactionStatus, failureReason *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transactions[id]
	if !ok {
		return fmt.Errorf("transaction not found: %s", id)
	}
	t.Status = status
	if failureReason != nil {
		t.FailureReason = failureReason
	}
	if status == domain.TransactionStatusSettled && t.SettledAt == nil {
		now := time.Now().UTC()
		t.SettledAt = &now
	}
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *inMemoryTransactionRepo) UpdateTxID(ctx context.Context, tx pgx.Tx, id uuid.UUID, txid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.transactions {
		if existing.ID != id && existing.TxID != nil && *existing.TxID == txid {
			return apperror.ErrDoubleSpendDetected()
		}
	}
	t, ok := r.transactions[id]
	if !ok {
		return fmt.Errorf("transaction not found: %s", id)
	}
	if t.TxID != nil && *t.TxID != "" {
		return apperror.ErrPaymentAlreadyProcessed()
	}
	t.TxID = &txid
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *inMemoryTransactionRepo) ListPendingWithoutTxID(ctx context.Context, limit int) ([]domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.Transaction
	for _, t := range r.transactions {
		if t.Status != domain.TransactionStatusPending {
			continue
		}
		if t.TxID != nil && *t.TxID != "" {
			continue
		}
		result = append(result, *t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *inMemoryTransactionRepo) UpdateLedgerState(ctx context.Context, tx pgx.Tx, id uuid.UUID, confirmations int, blockHeight *int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transactions[id]
	if !ok {
		return fmt.Errorf("transaction not found: %s", id)
	}
	t.Confirmations = confirmations
	if blockHeight != nil {
		t.BlockHeight = blockHeight
	}
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *inMemoryTransactionRepo) ListTrackable(ctx context.Context, limit int) ([]domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.Transaction
	for _, t := range r.transactions {
		if t.TxID == nil || *t.TxID == "" {
			continue
		}
		if t.Status != domain.TransactionStatusPending && t.Status != domain.TransactionStatusVerified {
			continue
		}
		result = append(result, *t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *inMemoryTransactionRepo) List(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.Transaction
	for _, t := range r.transactions {
		if t.MerchantID != params.MerchantID {
			continue
		}
		if params.Status != nil && t.Status != *params.Status {
			continue
		}
		if params.Resource != nil && t.Resource != *params.Resource {
			continue
		}
		result = append(result, *t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	total := int64(len(result))

	if params.Offset >= len(result) {
		return []domain.Transaction{}, total, nil
	}
	end := params.Offset + params.Limit
	if end > len(result) {
		end = len(result)
	}
	return result[params.Offset:end], total, nil
}

// --- In-Memory Webhook Delivery Repo ---

type inMemoryDeliveryRepo struct {
	mu         sync.RWMutex
	deliveries map[uuid.UUID]*domain.WebhookDelivery
	byKey      map[string]uuid.UUID
}

func newInMemoryDeliveryRepo() *inMemoryDeliveryRepo {
	return &inMemoryDeliveryRepo{
		deliveries: make(map[uuid.UUID]*domain.WebhookDelivery),
		byKey:      make(map[string]uuid.UUID),
	}
}

func (r *inMemoryDeliveryRepo) CreateOrGet(ctx context.Context, d *domain.WebhookDelivery) (*domain.WebhookDelivery, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byKey[d.IdempotencyKey]; ok {
		cp := *r.deliveries[id]
		return &cp, false, nil
	}
	cp := *d
	r.deliveries[d.ID] = &cp
	r.byKey[d.IdempotencyKey] = d.ID
	return d, true, nil
}

func (r *inMemoryDeliveryRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookDelivery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.deliveries[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (r *inMemoryDeliveryRepo) Update(ctx context.Context, d *domain.WebhookDelivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.deliveries[d.ID]; !ok {
		return fmt.Errorf("webhook delivery not found: %s", d.ID)
	}
	cp := *d
	r.deliveries[d.ID] = &cp
	return nil
}

func (r *inMemoryDeliveryRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.WebhookDelivery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var due []domain.WebhookDelivery
	for _, d := range r.deliveries {
		if d.IsTerminal() || d.NextAttemptAt == nil || d.NextAttemptAt.After(now) {
			continue
		}
		due = append(due, *d)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextAttemptAt.Before(*due[j].NextAttemptAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// --- In-Memory Refund Repo ---

type inMemoryRefundRepo struct {
	mu      sync.RWMutex
	refunds map[uuid.UUID]*domain.Refund
}

func newInMemoryRefundRepo() *inMemoryRefundRepo {
	return &inMemoryRefundRepo{refunds: make(map[uuid.UUID]*domain.Refund)}
}

func (r *inMemoryRefundRepo) Create(ctx context.Context, tx pgx.Tx, refund *domain.Refund) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.refunds {
		if existing.TransactionID == refund.TransactionID {
			return fmt.Errorf("refund already exists for transaction")
		}
	}
	cp := *refund
	r.refunds[refund.ID] = &cp
	return nil
}

func (r *inMemoryRefundRepo) GetByTransactionID(ctx context.Context, transactionID uuid.UUID) (*domain.Refund, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, refund := range r.refunds {
		if refund.TransactionID == transactionID {
			cp := *refund
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *inMemoryRefundRepo) Update(ctx context.Context, refund *domain.Refund) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.refunds[refund.ID]; !ok {
		return fmt.Errorf("refund not found: %s", refund.ID)
	}
	cp := *refund
	r.refunds[refund.ID] = &cp
	return nil
}

// --- In-Memory Audit Repo ---

type inMemoryAuditRepo struct {
	mu      sync.Mutex
	entries []domain.AuditLog
}

func newInMemoryAuditRepo() *inMemoryAuditRepo {
	return &inMemoryAuditRepo{}
}

func (r *inMemoryAuditRepo) Create(ctx context.Context, entry *domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

// --- Fake Ledger Client ---

// fakeLedger serves scripted chain state per txid.
type fakeLedger struct {
	mu  sync.RWMutex
	txs map[string]ports.LedgerTx
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{txs: make(map[string]ports.LedgerTx)}
}

func (l *fakeLedger) setTx(tx ports.LedgerTx) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.txs[tx.TxID] = tx
}

func (l *fakeLedger) GetTransaction(ctx context.Context, txid string) (*ports.LedgerTx, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	tx, ok := l.txs[txid]
	if !ok {
		return nil, apperror.ErrLedgerTxNotFound()
	}
	cp := tx
	return &cp, nil
}

// --- In-Memory Transactor (no-op tx) ---

type inMemoryTransactor struct{}

func newInMemoryTransactor() *inMemoryTransactor {
	return &inMemoryTransactor{}
}

func (t *inMemoryTransactor) Begin(ctx context.Context) (pgx.Tx, error) {
	return &noopTx{}, nil
}

// noopTx is a no-op pgx.Tx implementation for in-memory testing.
type noopTx struct{}

func (t *noopTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *noopTx) Commit(ctx context.Context) error          { return nil }
func (t *noopTx) Rollback(ctx context.Context) error        { return nil }
func (t *noopTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *noopTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *noopTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *noopTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *noopTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (t *noopTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (t *noopTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}
func (t *noopTx) Conn() *pgx.Conn { return nil }
