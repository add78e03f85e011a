/*
balance.go - Balance record and counter arithmetic

PURPOSE:
  A Balance is the current on-hand quantity plus lifetime movement counters
  for one (site, asset) pair. This file holds the pure arithmetic behind each
  Engine operation; nothing here touches storage.

SIGNED QUANTITIES:
  Every operation accepts a signed quantity. Positive applies the movement,
  negative applies its exact inverse (used by reversals and purchase edits).

    qty > 0                          qty < 0
    purchase  purchased+, onHand+    purchased-, onHand-       (invariant)
    expend    expended+,  onHand-    expended-,  onHand+       (InsufficientExpended)
    assign    assigned+,  onHand-    assigned-,  onHand+       (InsufficientAssigned)
    convert   assigned-,  expended+  assigned+,  expended-     (InsufficientExpended)
    out       transferredOut+, onHand-   transferredOut- (clamped), onHand+
    in        transferredIn+,  onHand+   transferredIn- (clamped), onHand- (DestinationAlreadyConsumed)

  Every mutation ends with Check(), so a clamp can never leave the record
  inconsistent.
*/
package ledger

import "time"

// Balance is the counter tuple for one (site, asset) pair.
type Balance struct {
	Site           SiteID    `json:"site"`
	Asset          AssetID   `json:"asset"`
	OnHand         int64     `json:"on_hand"`
	Purchased      int64     `json:"purchased"`
	Expended       int64     `json:"expended"`
	Assigned       int64     `json:"assigned"`
	TransferredOut int64     `json:"transferred_out"`
	TransferredIn  int64     `json:"transferred_in"`
	Version        int64     `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewBalance returns the zero record for a key.
func NewBalance(site SiteID, asset AssetID, now time.Time) Balance {
	return Balance{Site: site, Asset: asset, CreatedAt: now, UpdatedAt: now}
}

func (b Balance) Key() Key { return Key{Site: b.Site, Asset: b.Asset} }

// Derived returns the onHand value implied by the movement counters.
func (b Balance) Derived() int64 {
	return b.Purchased + b.TransferredIn - b.TransferredOut - b.Assigned - b.Expended
}

// Check verifies non-negativity and the onHand identity.
func (b Balance) Check() error {
	fields := []struct {
		name  string
		value int64
	}{
		{"on_hand", b.OnHand},
		{"purchased", b.Purchased},
		{"expended", b.Expended},
		{"assigned", b.Assigned},
		{"transferred_out", b.TransferredOut},
		{"transferred_in", b.TransferredIn},
	}
	for _, f := range fields {
		if f.value < 0 {
			return &InvariantError{Key: b.Key(), Field: f.name, Value: f.value}
		}
	}
	if b.OnHand != b.Derived() {
		return &InvariantError{Key: b.Key(), Field: "on_hand", Value: b.OnHand}
	}
	return nil
}

// SameCounters reports whether two records hold identical counters,
// ignoring version and timestamps.
func (b Balance) SameCounters(other Balance) bool {
	return b.OnHand == other.OnHand &&
		b.Purchased == other.Purchased &&
		b.Expended == other.Expended &&
		b.Assigned == other.Assigned &&
		b.TransferredOut == other.TransferredOut &&
		b.TransferredIn == other.TransferredIn
}

// =============================================================================
// ARITHMETIC
// =============================================================================

func (b *Balance) applyPurchase(qty int64) error {
	if b.Purchased+qty < 0 {
		return &InvariantError{Key: b.Key(), Field: "purchased", Value: b.Purchased + qty}
	}
	if b.OnHand+qty < 0 {
		return &InvariantError{Key: b.Key(), Field: "on_hand", Value: b.OnHand + qty}
	}
	b.Purchased += qty
	b.OnHand += qty
	return nil
}

func (b *Balance) applyExpend(qty int64) error {
	if qty > 0 && b.OnHand < qty {
		return shortfall(ErrInsufficientStock, b.Key(), "on_hand", b.OnHand, qty)
	}
	if qty < 0 && b.Expended < -qty {
		return shortfall(ErrInsufficientExpended, b.Key(), "expended", b.Expended, -qty)
	}
	b.Expended += qty
	b.OnHand -= qty
	return nil
}

func (b *Balance) applyAssign(qty int64) error {
	if qty > 0 && b.OnHand < qty {
		return shortfall(ErrInsufficientStock, b.Key(), "on_hand", b.OnHand, qty)
	}
	if qty < 0 && b.Assigned < -qty {
		return shortfall(ErrInsufficientAssigned, b.Key(), "assigned", b.Assigned, -qty)
	}
	b.Assigned += qty
	b.OnHand -= qty
	return nil
}

// onHand is untouched: the quantity already left onHand at assignment time.
func (b *Balance) applyConvert(qty int64) error {
	if qty > 0 && b.Assigned < qty {
		return shortfall(ErrInsufficientAssigned, b.Key(), "assigned", b.Assigned, qty)
	}
	if qty < 0 && b.Expended < -qty {
		return shortfall(ErrInsufficientExpended, b.Key(), "expended", b.Expended, -qty)
	}
	b.Assigned -= qty
	b.Expended += qty
	return nil
}

func (b *Balance) applyTransferOut(qty int64) error {
	if qty > 0 {
		if b.OnHand < qty {
			return shortfall(ErrInsufficientStock, b.Key(), "on_hand", b.OnHand, qty)
		}
		b.TransferredOut += qty
		b.OnHand -= qty
		return nil
	}
	b.OnHand -= qty
	b.TransferredOut = clampAtZero(b.TransferredOut + qty)
	return nil
}

func (b *Balance) applyTransferIn(qty int64) error {
	if qty > 0 {
		b.TransferredIn += qty
		b.OnHand += qty
		return nil
	}
	if b.OnHand < -qty {
		return shortfall(ErrDestinationAlreadyConsumed, b.Key(), "on_hand", b.OnHand, -qty)
	}
	b.OnHand += qty
	b.TransferredIn = clampAtZero(b.TransferredIn + qty)
	return nil
}

func clampAtZero(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
