package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tallyhq/pos-core/internal/domain/payment"
)

const savePaymentSQL = `INSERT INTO payment_snapshots (id, organization_id, site_id, order_id, method, status, amount, refunded_amount, snapshot, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
	ON CONFLICT (id) DO UPDATE SET
		status = EXCLUDED.status,
		amount = EXCLUDED.amount,
		refunded_amount = EXCLUDED.refunded_amount,
		snapshot = EXCLUDED.snapshot,
		updated_at = now()`

const getPaymentSQL = `SELECT snapshot FROM payment_snapshots WHERE id = $1`

const listPaymentsByOrderSQL = `SELECT snapshot FROM payment_snapshots
	WHERE order_id = $1 ORDER BY updated_at`

// PaymentStore persists payment snapshots backed by PostgreSQL.
type PaymentStore struct {
	pool *pgxpool.Pool
}

// NewPaymentStore returns a PaymentStore that uses the given pool.
func NewPaymentStore(pool *pgxpool.Pool) *PaymentStore {
	return &PaymentStore{pool: pool}
}

// Save upserts the payment snapshot.
func (s *PaymentStore) Save(ctx context.Context, p *payment.Payment) error {
	snapshot, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshaling payment snapshot: %w", err)
	}

	_, err = s.pool.Exec(ctx, savePaymentSQL,
		p.ID, p.OrganizationID, p.SiteID, p.OrderID, string(p.Method),
		string(p.Status), p.Amount, p.RefundedAmount, snapshot,
	)
	if err != nil {
		return fmt.Errorf("saving payment %q: %w", p.ID, err)
	}

	return nil
}

// Get loads one payment snapshot by id.
func (s *PaymentStore) Get(ctx context.Context, id string) (*payment.Payment, error) {
	var snapshot []byte
	if err := s.pool.QueryRow(ctx, getPaymentSQL, id).Scan(&snapshot); err != nil {
		return nil, fmt.Errorf("loading payment %q: %w", id, err)
	}

	var p payment.Payment
	if err := json.Unmarshal(snapshot, &p); err != nil {
		return nil, fmt.Errorf("unmarshaling payment %q: %w", id, err)
	}
	return &p, nil
}

// ListByOrder returns all payments recorded against an order.
func (s *PaymentStore) ListByOrder(ctx context.Context, orderID string) ([]*payment.Payment, error) {
	rows, err := s.pool.Query(ctx, listPaymentsByOrderSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing payments for order %q: %w", orderID, err)
	}
	defer rows.Close()

	var payments []*payment.Payment
	for rows.Next() {
		var snapshot []byte
		if err := rows.Scan(&snapshot); err != nil {
			return nil, fmt.Errorf("scanning payment snapshot: %w", err)
		}
		var p payment.Payment
		if err := json.Unmarshal(snapshot, &p); err != nil {
			return nil, fmt.Errorf("unmarshaling payment snapshot: %w", err)
		}
		payments = append(payments, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating payments: %w", err)
	}

	return payments, nil
}
