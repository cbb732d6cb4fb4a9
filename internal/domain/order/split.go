package order

import (
	"strconv"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/tallyhq/pos-core/internal/money"
)

var (
	// ErrEmptySplit is returned when a split-by-items request names no lines.
	ErrEmptySplit = errors.New("split requires at least one line")
	// ErrSplitAllLines is returned when a split would leave the source order
	// without any active lines.
	ErrSplitAllLines = errors.New("split must leave at least one line on the source order")
	// ErrInvalidSplitCount is returned when splitting by zero or fewer people.
	ErrInvalidSplitCount = errors.New("people count must be greater than 0")
	// ErrEmptySplitAmounts is returned when splitting by an empty amount list.
	ErrEmptySplitAmounts = errors.New("split amounts required")
	// ErrNegativeSplitAmount is returned when any requested share is negative.
	ErrNegativeSplitAmount = errors.New("split amount must not be negative")
)

// SplitPreview is the read-only result of a split-by-people or
// split-by-amounts calculation. Shares are surfaced even when the split is
// invalid so the caller can show the mismatch.
type SplitPreview struct {
	IsValid bool
	Shares  []decimal.Decimal
	Total   decimal.Decimal
}

// SplitByItems moves the named lines onto a brand-new child order and links
// the two. The transfer is exclusive: a line belongs to exactly one order at
// any time. The source must keep at least one active line.
//
// The caller provides the child's identity; hosting the returned child on its
// own actor is the caller's responsibility and is not transactional with this
// mutation.
func (o *Order) SplitByItems(childID string, lineIDs []string, requestedBy string, lineSuffix int) (*Order, error) {
	if err := o.mutable("split"); err != nil {
		return nil, err
	}
	if len(lineIDs) == 0 {
		return nil, ErrEmptySplit
	}

	requested := make(map[string]bool, len(lineIDs))
	for _, id := range lineIDs {
		requested[id] = true
	}
	for _, id := range lineIDs {
		line := o.findLine(id)
		if line == nil || line.Status == LineVoided {
			return nil, &LineNotFoundError{LineID: id}
		}
	}
	if len(requested) >= len(o.ActiveLines()) {
		return nil, ErrSplitAllLines
	}

	if lineSuffix <= 0 {
		lineSuffix = 1
	}
	child := New(CreateParams{
		ID:             childID,
		Number:         o.Number + "-S" + strconv.Itoa(lineSuffix),
		OrganizationID: o.OrganizationID,
		SiteID:         o.SiteID,
		CreatedBy:      requestedBy,
		Type:           o.Type,
		TableID:        o.TableID,
		TableNumber:    o.TableNumber,
		CustomerID:     o.CustomerID,
		GuestCount:     o.GuestCount,
	})
	child.ParentOrderID = o.ID
	child.ServerID = o.ServerID

	kept := o.Lines[:0]
	for i := range o.Lines {
		if requested[o.Lines[i].ID] {
			child.Lines = append(child.Lines, o.Lines[i])
			continue
		}
		kept = append(kept, o.Lines[i])
	}
	o.Lines = kept

	o.ChildOrders = append(o.ChildOrders, ChildOrder{
		OrderID:     child.ID,
		OrderNumber: child.Number,
	})

	o.recompute()
	child.recompute()
	if child.SentAt == nil && o.SentAt != nil {
		// Moved lines keep their sent status; mirror the timestamp so the
		// child is not reported as never fired.
		t := *o.SentAt
		child.SentAt = &t
		child.Status = StatusSent
	}

	return child, nil
}

// CalculateSplitByPeople divides the current balance due into n shares that
// sum to exactly the balance. A zero balance yields an invalid preview with
// no shares.
func (o *Order) CalculateSplitByPeople(n int) (SplitPreview, error) {
	if n <= 0 {
		return SplitPreview{}, ErrInvalidSplitCount
	}
	balance := o.Totals.BalanceDue
	if balance.IsZero() {
		return SplitPreview{IsValid: false, Total: balance}, nil
	}
	return SplitPreview{
		IsValid: true,
		Shares:  money.AllocateEven(balance, n),
		Total:   balance,
	}, nil
}

// CalculateSplitByAmounts checks whether the requested shares cover the
// balance due exactly. The computed shares are returned either way.
func (o *Order) CalculateSplitByAmounts(amounts []decimal.Decimal) (SplitPreview, error) {
	if len(amounts) == 0 {
		return SplitPreview{}, ErrEmptySplitAmounts
	}
	shares := make([]decimal.Decimal, len(amounts))
	for i, a := range amounts {
		if a.IsNegative() {
			return SplitPreview{}, ErrNegativeSplitAmount
		}
		shares[i] = money.Round(a)
	}

	balance := o.Totals.BalanceDue
	return SplitPreview{
		IsValid: money.Equal(money.Sum(shares), balance),
		Shares:  shares,
		Total:   balance,
	}, nil
}
