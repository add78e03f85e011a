package ledger

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// AUDIT TRAIL - Movement log, append-only
// =============================================================================

// AuditEntry records one signed movement. Reversals are new entries with
// negated quantities; entries are never updated or deleted.
type AuditEntry struct {
	ID              string        `json:"id"`
	Action          Kind          `json:"action"`
	Site            SiteID        `json:"site"`
	CounterpartSite SiteID        `json:"counterpart_site,omitempty"`
	Items           []LineItem    `json:"items"`
	Actor           Actor         `json:"actor"`
	TransactionID   TransactionID `json:"transaction_id"`
	AssignmentID    TransactionID `json:"assignment_id,omitempty"`
	Reversal        bool          `json:"reversal"`
	Remarks         string        `json:"remarks,omitempty"`
	Timestamp       time.Time     `json:"timestamp"`
}

// Touches reports whether the entry moves stock for the key.
func (e AuditEntry) Touches(key Key) bool {
	if e.Site != key.Site && e.CounterpartSite != key.Site {
		return false
	}
	for _, item := range e.Items {
		if item.Asset == key.Asset {
			return true
		}
	}
	return false
}

// newAuditEntry mirrors a transaction. sign is +1 when applying and -1 when
// compensating.
func newAuditEntry(t Transaction, sign int64, actor Actor, remarks string, at time.Time) AuditEntry {
	lines := t.Lines()
	items := make([]LineItem, len(lines))
	for i, line := range lines {
		items[i] = line
		items[i].Quantity = line.Quantity * sign
	}
	entry := AuditEntry{
		ID:            uuid.NewString(),
		Action:        t.Kind(),
		Items:         items,
		Actor:         actor,
		TransactionID: t.Base().ID,
		Reversal:      sign < 0,
		Remarks:       remarks,
		Timestamp:     at,
	}
	switch v := t.(type) {
	case *Purchase:
		entry.Site = v.Site
	case *Transfer:
		entry.Site = v.FromSite
		entry.CounterpartSite = v.ToSite
	case *Assignment:
		entry.Site = v.Site
	case *Expenditure:
		entry.Site = v.Site
		entry.AssignmentID = v.AssignmentID
	}
	return entry
}

// AuditFilter narrows QueryAuditTrail. Nil fields match everything. Site
// matches either side of a transfer.
type AuditFilter struct {
	Site          *SiteID
	Asset         *AssetID
	Kind          *Kind
	TransactionID *TransactionID
	From          *time.Time // inclusive
	To            *time.Time // exclusive
}

// Matches applies the filter in memory.
func (f AuditFilter) Matches(e AuditEntry) bool {
	if f.Site != nil && e.Site != *f.Site && e.CounterpartSite != *f.Site {
		return false
	}
	if f.Asset != nil {
		found := false
		for _, item := range e.Items {
			if item.Asset == *f.Asset {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Kind != nil && e.Action != *f.Kind {
		return false
	}
	if f.TransactionID != nil && e.TransactionID != *f.TransactionID {
		return false
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && !e.Timestamp.Before(*f.To) {
		return false
	}
	return true
}

// =============================================================================
// PAGINATION
// =============================================================================

const (
	DefaultPageSize = 25
	MaxPageSize     = 100
)

// Page is a 1-based page request.
type Page struct {
	Number int
	Size   int
}

// Normalize clamps the page into valid bounds.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	switch {
	case p.Size <= 0:
		p.Size = DefaultPageSize
	case p.Size > MaxPageSize:
		p.Size = MaxPageSize
	}
	return p
}

func (p Page) Offset() int { return (p.Number - 1) * p.Size }

// AuditPage is one page of entries, newest first.
type AuditPage struct {
	Entries []AuditEntry `json:"entries"`
	Total   int          `json:"total"`
	Page    int          `json:"page"`
	Size    int          `json:"size"`
}

func (p AuditPage) TotalPages() int {
	if p.Size == 0 {
		return 0
	}
	return (p.Total + p.Size - 1) / p.Size
}

// =============================================================================
// ACTIVITY - Counter deltas derived from audit entries
// =============================================================================

// Activity is the net movement of one (site, asset) pair over a window.
type Activity struct {
	Purchases    int64
	TransfersIn  int64
	TransfersOut int64
	Assigned     int64
	Expended     int64
}

// Net is the change in onHand the activity implies.
func (a Activity) Net() int64 {
	return a.Purchases + a.TransfersIn - a.TransfersOut - a.Assigned - a.Expended
}

// SummarizeActivity folds entries into counter deltas for key. A conversion
// (expenditure carrying an assignment id) moves stock from assigned to
// expended, so it nets out of Assigned on the day it happens.
func SummarizeActivity(key Key, entries []AuditEntry) Activity {
	var a Activity
	for _, e := range entries {
		for _, item := range e.Items {
			if item.Asset != key.Asset {
				continue
			}
			q := item.Quantity
			switch e.Action {
			case KindPurchase:
				if e.Site == key.Site {
					a.Purchases += q
				}
			case KindTransfer:
				if e.Site == key.Site {
					a.TransfersOut += q
				}
				if e.CounterpartSite == key.Site {
					a.TransfersIn += q
				}
			case KindAssignment:
				if e.Site == key.Site {
					a.Assigned += q
				}
			case KindExpenditure:
				if e.Site == key.Site {
					a.Expended += q
					if e.AssignmentID != "" {
						a.Assigned -= q
					}
				}
			}
		}
	}
	return a
}
