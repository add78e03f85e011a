package ledger

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// TRANSACTION KINDS
// =============================================================================

type Kind string

const (
	KindPurchase    Kind = "purchase"
	KindTransfer    Kind = "transfer"
	KindAssignment  Kind = "assignment"
	KindExpenditure Kind = "expenditure"
)

func (k Kind) Valid() bool {
	switch k {
	case KindPurchase, KindTransfer, KindAssignment, KindExpenditure:
		return true
	}
	return false
}

// Transaction is the sum type over the four transaction documents.
// Implemented by *Purchase, *Transfer, *Assignment and *Expenditure.
type Transaction interface {
	Kind() Kind
	Base() *Record
	Lines() []LineItem
	Validate() error
	isTransaction()
}

// Record holds the fields shared by every transaction kind.
type Record struct {
	ID         TransactionID `json:"id"`
	Actor      Actor         `json:"actor"`
	OccurredAt time.Time     `json:"occurred_at"`
	Remarks    string        `json:"remarks,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// =============================================================================
// VARIANTS
// =============================================================================

type Purchase struct {
	Record
	Site          SiteID     `json:"site"`
	InvoiceNumber string     `json:"invoice_number,omitempty"`
	Items         []LineItem `json:"items"`
}

func (p *Purchase) Kind() Kind        { return KindPurchase }
func (p *Purchase) Base() *Record     { return &p.Record }
func (p *Purchase) Lines() []LineItem { return p.Items }
func (p *Purchase) isTransaction()    {}

func (p *Purchase) Validate() error {
	if p.Site == "" {
		return &ValidationError{Field: "site", Reason: "site is required"}
	}
	return validateLines(p.Items)
}

type Transfer struct {
	Record
	FromSite      SiteID     `json:"from_site"`
	ToSite        SiteID     `json:"to_site"`
	InvoiceNumber string     `json:"invoice_number,omitempty"`
	Items         []LineItem `json:"items"`
}

func (t *Transfer) Kind() Kind        { return KindTransfer }
func (t *Transfer) Base() *Record     { return &t.Record }
func (t *Transfer) Lines() []LineItem { return t.Items }
func (t *Transfer) isTransaction()    {}

func (t *Transfer) Validate() error {
	if t.FromSite == "" {
		return &ValidationError{Field: "from_site", Reason: "source site is required"}
	}
	if t.ToSite == "" {
		return &ValidationError{Field: "to_site", Reason: "destination site is required"}
	}
	if t.FromSite == t.ToSite {
		return fmt.Errorf("%w: %s", ErrSameSiteTransfer, t.FromSite)
	}
	return validateLines(t.Items)
}

// AssignedItem is an assignment line. Expended flips to true once the whole
// line has been converted into expenditure.
type AssignedItem struct {
	Asset            AssetID `json:"asset"`
	Quantity         int64   `json:"quantity"`
	ExpendedQuantity int64   `json:"expended_quantity"`
	Expended         bool    `json:"is_expended"`
}

// Remaining is the quantity still held by personnel.
func (a AssignedItem) Remaining() int64 { return a.Quantity - a.ExpendedQuantity }

type Assignment struct {
	Record
	Site          SiteID         `json:"site"`
	AssignedTo    string         `json:"assigned_to"`
	Items         []AssignedItem `json:"items"`
	FullyExpended bool           `json:"is_expended"`
}

func (a *Assignment) Kind() Kind     { return KindAssignment }
func (a *Assignment) Base() *Record  { return &a.Record }
func (a *Assignment) isTransaction() {}

func (a *Assignment) Lines() []LineItem {
	lines := make([]LineItem, len(a.Items))
	for i, item := range a.Items {
		lines[i] = LineItem{Asset: item.Asset, Quantity: item.Quantity}
	}
	return lines
}

func (a *Assignment) Validate() error {
	if a.Site == "" {
		return &ValidationError{Field: "site", Reason: "site is required"}
	}
	if a.AssignedTo == "" {
		return &ValidationError{Field: "assigned_to", Reason: "assignee is required"}
	}
	return validateLines(a.Lines())
}

// HasConversions reports whether any line was (partially) converted.
func (a *Assignment) HasConversions() bool {
	for _, item := range a.Items {
		if item.ExpendedQuantity > 0 {
			return true
		}
	}
	return false
}

// RemainingFor sums the unconverted quantity for an asset across lines.
func (a *Assignment) RemainingFor(asset AssetID) (int64, bool) {
	var total int64
	found := false
	for _, item := range a.Items {
		if item.Asset == asset {
			found = true
			total += item.Remaining()
		}
	}
	return total, found
}

// markConverted distributes qty over the asset's lines in order. A negative
// qty gives it back, last line first.
func (a *Assignment) markConverted(asset AssetID, qty int64) {
	if qty >= 0 {
		for i := range a.Items {
			if qty == 0 {
				break
			}
			item := &a.Items[i]
			if item.Asset != asset {
				continue
			}
			take := min(item.Remaining(), qty)
			item.ExpendedQuantity += take
			qty -= take
		}
	} else {
		give := -qty
		for i := len(a.Items) - 1; i >= 0 && give > 0; i-- {
			item := &a.Items[i]
			if item.Asset != asset {
				continue
			}
			back := min(item.ExpendedQuantity, give)
			item.ExpendedQuantity -= back
			give -= back
		}
	}
	all := true
	for i := range a.Items {
		a.Items[i].Expended = a.Items[i].ExpendedQuantity >= a.Items[i].Quantity
		all = all && a.Items[i].Expended
	}
	a.FullyExpended = all
}

type Expenditure struct {
	Record
	Site       SiteID     `json:"site"`
	ExpendedBy string     `json:"expended_by,omitempty"`
	Items      []LineItem `json:"items"`

	// AssignmentID is set when the expenditure was converted from an
	// assignment line rather than drawn from onHand.
	AssignmentID TransactionID `json:"assignment_id,omitempty"`
}

func (e *Expenditure) Kind() Kind        { return KindExpenditure }
func (e *Expenditure) Base() *Record     { return &e.Record }
func (e *Expenditure) Lines() []LineItem { return e.Items }
func (e *Expenditure) isTransaction()    {}

func (e *Expenditure) Validate() error {
	if e.Site == "" {
		return &ValidationError{Field: "site", Reason: "site is required"}
	}
	return validateLines(e.Items)
}

// FromAssignment reports whether the expenditure came from a conversion.
func (e *Expenditure) FromAssignment() bool { return e.AssignmentID != "" }

// Sites returns every site a transaction touches.
func Sites(t Transaction) []SiteID {
	switch v := t.(type) {
	case *Purchase:
		return []SiteID{v.Site}
	case *Transfer:
		return []SiteID{v.FromSite, v.ToSite}
	case *Assignment:
		return []SiteID{v.Site}
	case *Expenditure:
		return []SiteID{v.Site}
	}
	return nil
}

// =============================================================================
// CODEC - JSON document with kind discriminator
// =============================================================================

// EncodeTransaction serializes a transaction document for storage.
func EncodeTransaction(t Transaction) (Kind, []byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s transaction: %w", t.Kind(), err)
	}
	return t.Kind(), data, nil
}

// cloneTransaction returns a deep copy through the document codec.
func cloneTransaction(t Transaction) (Transaction, error) {
	kind, data, err := EncodeTransaction(t)
	if err != nil {
		return nil, err
	}
	return DecodeTransaction(kind, data)
}

// copyTransaction overwrites dst with src. Both must be the same kind.
func copyTransaction(dst, src Transaction) {
	switch d := dst.(type) {
	case *Purchase:
		*d = *src.(*Purchase)
	case *Transfer:
		*d = *src.(*Transfer)
	case *Assignment:
		*d = *src.(*Assignment)
	case *Expenditure:
		*d = *src.(*Expenditure)
	}
}

// DecodeTransaction restores a document written by EncodeTransaction.
func DecodeTransaction(kind Kind, data []byte) (Transaction, error) {
	var t Transaction
	switch kind {
	case KindPurchase:
		t = &Purchase{}
	case KindTransfer:
		t = &Transfer{}
	case KindAssignment:
		t = &Assignment{}
	case KindExpenditure:
		t = &Expenditure{}
	default:
		return nil, fmt.Errorf("decode transaction: unknown kind %q", kind)
	}
	if err := json.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("decode %s transaction: %w", kind, err)
	}
	return t, nil
}
