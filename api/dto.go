/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Requests carry
  validator tags and are checked before anything reaches the ledger;
  responses mostly reuse the ledger types, which already carry JSON tags.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *Response: Response wrappers

TYPES:
  Transactions:
    TransactionRequest, LineItemRequest,
    UpdatePurchaseRequest, ConvertRequest, TransactionResponse

  Catalog:
    SiteRequest, AssetRequest

  Read models:
    AuditPageResponse

  Jobs:
    AggregateRequest, AggregateResponse

VALIDATION:
  Struct tags are enforced by go-playground/validator in decodeJSON.
  The ledger re-validates the resulting transaction, so the tags only
  need to catch malformed input early.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/transaction.go: Domain transaction variants
*/
package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/viratpk18/Military-Base-Management-System-Backend/ledger"
)

// =============================================================================
// TRANSACTIONS
// =============================================================================

// LineItemRequest is one asset line of a purchase, transfer or expenditure.
type LineItemRequest struct {
	Asset     string          `json:"asset" validate:"required,max=64"`
	Quantity  int64           `json:"quantity" validate:"gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// TransactionRequest is the body of POST /api/transactions. Which site
// fields are required depends on Kind.
type TransactionRequest struct {
	Kind          string            `json:"kind" validate:"required,oneof=purchase transfer assignment expenditure"`
	Site          string            `json:"site" validate:"required_unless=Kind transfer,max=64"`
	FromSite      string            `json:"from_site" validate:"required_if=Kind transfer,max=64"`
	ToSite        string            `json:"to_site" validate:"required_if=Kind transfer,max=64"`
	AssignedTo    string            `json:"assigned_to" validate:"required_if=Kind assignment,max=255"`
	ExpendedBy    string            `json:"expended_by" validate:"max=255"`
	InvoiceNumber string            `json:"invoice_number" validate:"max=64"`
	OccurredAt    *time.Time        `json:"occurred_at"`
	Remarks       string            `json:"remarks" validate:"max=1024"`
	Items         []LineItemRequest `json:"items" validate:"required,min=1,dive"`
}

// toTransaction builds the ledger variant named by Kind.
func (req TransactionRequest) toTransaction(actor ledger.Actor) (ledger.Transaction, error) {
	rec := ledger.Record{Actor: actor, Remarks: req.Remarks}
	if req.OccurredAt != nil {
		rec.OccurredAt = req.OccurredAt.UTC()
	}
	items := toLineItems(req.Items)

	switch ledger.Kind(req.Kind) {
	case ledger.KindPurchase:
		return &ledger.Purchase{
			Record:        rec,
			Site:          ledger.SiteID(req.Site),
			InvoiceNumber: req.InvoiceNumber,
			Items:         items,
		}, nil
	case ledger.KindTransfer:
		return &ledger.Transfer{
			Record:        rec,
			FromSite:      ledger.SiteID(req.FromSite),
			ToSite:        ledger.SiteID(req.ToSite),
			InvoiceNumber: req.InvoiceNumber,
			Items:         items,
		}, nil
	case ledger.KindAssignment:
		assigned := make([]ledger.AssignedItem, len(items))
		for i, item := range items {
			assigned[i] = ledger.AssignedItem{Asset: item.Asset, Quantity: item.Quantity}
		}
		return &ledger.Assignment{
			Record:     rec,
			Site:       ledger.SiteID(req.Site),
			AssignedTo: req.AssignedTo,
			Items:      assigned,
		}, nil
	case ledger.KindExpenditure:
		return &ledger.Expenditure{
			Record:     rec,
			Site:       ledger.SiteID(req.Site),
			ExpendedBy: req.ExpendedBy,
			Items:      items,
		}, nil
	}
	return nil, fmt.Errorf("%w: unknown kind %q", ledger.ErrInvalidTransaction, req.Kind)
}

func toLineItems(reqs []LineItemRequest) []ledger.LineItem {
	items := make([]ledger.LineItem, len(reqs))
	for i, r := range reqs {
		items[i] = ledger.LineItem{
			Asset:     ledger.AssetID(r.Asset),
			Quantity:  r.Quantity,
			UnitPrice: r.UnitPrice,
		}
	}
	return items
}

// UpdatePurchaseRequest replaces a purchase's lines.
type UpdatePurchaseRequest struct {
	Items         []LineItemRequest `json:"items" validate:"required,min=1,dive"`
	Remarks       *string           `json:"remarks" validate:"omitempty,max=1024"`
	InvoiceNumber *string           `json:"invoice_number" validate:"omitempty,max=64"`
}

// ConvertRequest moves part of an assignment line into expenditure.
type ConvertRequest struct {
	Asset      string `json:"asset" validate:"required,max=64"`
	Quantity   int64  `json:"quantity" validate:"gt=0"`
	ExpendedBy string `json:"expended_by" validate:"max=255"`
	Remarks    string `json:"remarks" validate:"max=1024"`
}

// TransactionResponse is returned by every write that creates a document.
type TransactionResponse struct {
	ID   ledger.TransactionID `json:"id"`
	Kind ledger.Kind          `json:"kind,omitempty"`
}

// TransactionDTO wraps a stored transaction with its kind.
type TransactionDTO struct {
	Kind        ledger.Kind        `json:"kind"`
	Transaction ledger.Transaction `json:"transaction"`
}

// =============================================================================
// CATALOG
// =============================================================================

type SiteRequest struct {
	ID       string `json:"id" validate:"required,max=64"`
	Name     string `json:"name" validate:"required,max=255"`
	State    string `json:"state" validate:"max=128"`
	District string `json:"district" validate:"max=128"`
}

type AssetRequest struct {
	ID          string `json:"id" validate:"required,max=64"`
	Name        string `json:"name" validate:"required,max=255"`
	Category    string `json:"category" validate:"required,oneof=weapon vehicle ammunition equipment"`
	Unit        string `json:"unit" validate:"max=16"`
	Description string `json:"description" validate:"max=1024"`
}

// =============================================================================
// READ MODELS
// =============================================================================

// AuditPageResponse is one page of the audit trail.
type AuditPageResponse struct {
	Entries    []ledger.AuditEntry `json:"entries"`
	Total      int                 `json:"total"`
	Page       int                 `json:"page"`
	Size       int                 `json:"size"`
	TotalPages int                 `json:"total_pages"`
}

func newAuditPageResponse(p ledger.AuditPage) AuditPageResponse {
	return AuditPageResponse{
		Entries:    p.Entries,
		Total:      p.Total,
		Page:       p.Page,
		Size:       p.Size,
		TotalPages: p.TotalPages(),
	}
}

// =============================================================================
// JOBS
// =============================================================================

// AggregateRequest selects the day (or inclusive range) to roll up.
// An empty body aggregates today.
type AggregateRequest struct {
	Date string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	From string `json:"from" validate:"omitempty,datetime=2006-01-02"`
	To   string `json:"to" validate:"omitempty,datetime=2006-01-02"`
}

type AggregateResponse struct {
	From      ledger.Day `json:"from"`
	To        ledger.Day `json:"to"`
	Snapshots int        `json:"snapshots"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}
