/*
Package ledger provides the multi-site asset inventory ledger.

PURPOSE:
  Tracks physical stock per (site, asset) pair. Four transaction kinds
  (purchase, transfer, assignment, expenditure) mutate running counters
  through the Engine, every mutation is mirrored by an append-only audit
  entry, and the Aggregator rolls the audit trail into daily snapshots.

KEY CONCEPTS IN THIS FILE (types.go):
  - SiteID / AssetID / TransactionID: Type-safe identifiers
  - Key: The (site, asset) pair every balance is keyed on
  - Actor: Opaque identity of whoever performed an action
  - LineItem: One (asset, quantity, unit price) line of a transaction

INVARIANTS:
  1. onHand == purchased + transferredIn - transferredOut - assigned - expended
  2. Every counter is >= 0 at all times
  3. Audit entries are never updated or deleted
  4. Counters change only through Engine operations

USAGE:
  svc, _ := ledger.NewService(ledger.ServiceParams{Store: store.NewMemory()})
  id, err := svc.ApplyTransaction(ctx, &ledger.Purchase{
      Site:  "site-a",
      Items: []ledger.LineItem{{Asset: "rifle", Quantity: 100}},
  })

SEE ALSO:
  - balance.go: Counter arithmetic and invariant checks
  - engine.go: The six typed ledger operations
  - service.go: Transaction controller and reversal coordinator
  - aggregator.go: Daily snapshot rollup
*/
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type SiteID string
type AssetID string
type TransactionID string
type ActorID string

// Key identifies a balance record.
type Key struct {
	Site  SiteID
	Asset AssetID
}

func (k Key) String() string { return fmt.Sprintf("%s/%s", k.Site, k.Asset) }

// Actor is the acting principal. The role is kept for attribution only.
type Actor struct {
	ID   ActorID `json:"id"`
	Role string  `json:"role,omitempty"`
}

// SystemActor attributes work done by scheduled jobs.
var SystemActor = Actor{ID: "system", Role: "system"}

// =============================================================================
// LINE ITEMS
// =============================================================================

// LineItem is one line of a transaction. UnitPrice is optional and only
// meaningful on purchases and transfers.
type LineItem struct {
	Asset     AssetID         `json:"asset"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Total returns quantity * unit price.
func (li LineItem) Total() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(li.Quantity))
}

func validateLines(items []LineItem) error {
	if len(items) == 0 {
		return &ValidationError{Field: "items", Reason: "at least one line item is required"}
	}
	for i, item := range items {
		if item.Asset == "" {
			return &ValidationError{Field: fmt.Sprintf("items[%d].asset", i), Reason: "asset is required"}
		}
		if item.Quantity <= 0 {
			return &ValidationError{Field: fmt.Sprintf("items[%d].quantity", i), Reason: "quantity must be positive"}
		}
		if item.UnitPrice.IsNegative() {
			return &ValidationError{Field: fmt.Sprintf("items[%d].unit_price", i), Reason: "unit price cannot be negative"}
		}
	}
	return nil
}
