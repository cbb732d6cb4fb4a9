package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tallyhq/pos-core/internal/domain/order"
)

const saveOrderSQL = `INSERT INTO order_snapshots (id, order_number, organization_id, site_id, status, grand_total, balance_due, closed_at, snapshot, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
	ON CONFLICT (id) DO UPDATE SET
		status = EXCLUDED.status,
		grand_total = EXCLUDED.grand_total,
		balance_due = EXCLUDED.balance_due,
		closed_at = EXCLUDED.closed_at,
		snapshot = EXCLUDED.snapshot,
		updated_at = now()`

const getOrderSQL = `SELECT snapshot FROM order_snapshots WHERE id = $1`

const listClosedOrdersSQL = `SELECT snapshot FROM order_snapshots
	WHERE site_id = $1 AND status = $2 AND closed_at >= $3 AND closed_at < $4
	ORDER BY closed_at`

// OrderStore persists order snapshots backed by PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore returns an OrderStore that uses the given pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Save upserts the order snapshot. The full entity is serialized to JSON for
// storage in the JSONB column.
func (s *OrderStore) Save(ctx context.Context, o *order.Order) error {
	snapshot, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshaling order snapshot: %w", err)
	}

	_, err = s.pool.Exec(ctx, saveOrderSQL,
		o.ID, o.Number, o.OrganizationID, o.SiteID, string(o.Status),
		o.Totals.GrandTotal, o.Totals.BalanceDue, o.ClosedAt, snapshot,
	)
	if err != nil {
		return fmt.Errorf("saving order %q: %w", o.ID, err)
	}

	return nil
}

// Get loads one order snapshot by id.
func (s *OrderStore) Get(ctx context.Context, id string) (*order.Order, error) {
	var snapshot []byte
	if err := s.pool.QueryRow(ctx, getOrderSQL, id).Scan(&snapshot); err != nil {
		return nil, fmt.Errorf("loading order %q: %w", id, err)
	}

	var o order.Order
	if err := json.Unmarshal(snapshot, &o); err != nil {
		return nil, fmt.Errorf("unmarshaling order %q: %w", id, err)
	}
	return &o, nil
}

// ListClosedByDate returns the orders a site closed within the business day
// starting at dayStart, in close order.
func (s *OrderStore) ListClosedByDate(ctx context.Context, siteID string, dayStart time.Time) ([]*order.Order, error) {
	dayEnd := businessDayEnd(dayStart)

	rows, err := s.pool.Query(ctx, listClosedOrdersSQL, siteID, string(order.StatusClosed), dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("listing closed orders for site %q: %w", siteID, err)
	}
	defer rows.Close()

	var orders []*order.Order
	for rows.Next() {
		var snapshot []byte
		if err := rows.Scan(&snapshot); err != nil {
			return nil, fmt.Errorf("scanning order snapshot: %w", err)
		}
		var o order.Order
		if err := json.Unmarshal(snapshot, &o); err != nil {
			return nil, fmt.Errorf("unmarshaling order snapshot: %w", err)
		}
		orders = append(orders, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating closed orders: %w", err)
	}

	return orders, nil
}

// businessDayEnd is the exclusive upper bound for a business day starting at
// dayStart. AddDate keeps the boundary on the next calendar day even when
// the location observes a DST transition during the day.
func businessDayEnd(dayStart time.Time) time.Time {
	return dayStart.AddDate(0, 0, 1)
}
