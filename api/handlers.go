/*
handlers.go - HTTP API handlers for the asset ledger

PURPOSE:
  Exposes the ledger service via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the ledger package.

ENDPOINTS:
  Transactions:
    POST   /api/transactions                 Apply a purchase/transfer/assignment/expenditure
    GET    /api/transactions/{id}            Get a stored transaction
    POST   /api/transactions/{id}/reverse    Reverse a transaction
    PUT    /api/purchases/{id}               Replace a purchase's lines
    POST   /api/assignments/{id}/convert     Convert assigned quantity to expenditure

  Read models:
    GET    /api/balances                     Current balances (site, asset, min_on_hand, max_on_hand)
    GET    /api/audit                        Paged audit trail (site, asset, kind, transaction_id, from, to)
    GET    /api/snapshots                    Daily snapshots (site, asset, from, to)

  Catalog:
    GET    /api/sites, POST /api/sites
    GET    /api/assets, POST /api/assets

  Admin:
    POST   /api/admin/aggregate              Run the daily aggregation
    POST   /api/admin/reconcile              Replay the audit trail against balances
    POST   /api/admin/scenarios/load         Load a demo scenario (see scenarios.go)

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input (go-playground/validator)
  3. Call the ledger service
  4. Serialize response
  5. Map ledger errors to HTTP status (see errors.go)

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 401: Missing actor on a write
  - 404: Transaction not found
  - 409: Insufficient quantity, destination consumed, version conflict
  - 422: Unknown site or asset
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/viratpk18/Military-Base-Management-System-Backend/ledger"
	"github.com/viratpk18/Military-Base-Management-System-Backend/logger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger reports backing store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HandlerParams groups the handler's dependencies.
type HandlerParams struct {
	Service    *ledger.Service
	Aggregator *ledger.Aggregator
	Reconciler *ledger.Reconciler
	Health     Pinger
	Logger     *logger.Logger

	// LowStock is the threshold for ?low_stock=true; balances strictly
	// below it are listed. Zero means
	// ledger.DefaultLowStockThreshold.
	LowStock int64
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	svc    *ledger.Service
	agg    *ledger.Aggregator
	rec    *ledger.Reconciler
	health Pinger
	logg   *logger.Logger

	lowStock int64
}

// NewHandler creates a new handler.
func NewHandler(p HandlerParams) *Handler {
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	lowStock := p.LowStock
	if lowStock <= 0 {
		lowStock = ledger.DefaultLowStockThreshold
	}
	return &Handler{
		svc:      p.Service,
		agg:      p.Aggregator,
		rec:      p.Reconciler,
		health:   p.Health,
		logg:     logg,
		lowStock: lowStock,
	}
}

// =============================================================================
// TRANSACTION ENDPOINTS
// =============================================================================

// ApplyTransaction records a new transaction of the kind named in the body.
// POST /api/transactions
func (h *Handler) ApplyTransaction(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, "")
}

// ApplyKind records a transaction whose kind is fixed by the route.
// POST /api/purchases, /api/transfers, /api/assignments, /api/expenditures
func (h *Handler) ApplyKind(kind ledger.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.apply(w, r, kind)
	}
}

func (h *Handler) apply(w http.ResponseWriter, r *http.Request, kind ledger.Kind) {
	var req TransactionRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	if kind != "" {
		req.Kind = string(kind)
	}
	if err := validate.Struct(&req); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	actor, _ := actorFrom(r.Context())

	t, err := req.toTransaction(actor)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	id, err := h.svc.ApplyTransaction(r.Context(), t)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, TransactionResponse{ID: id, Kind: t.Kind()})
}

// GetTransaction returns a stored transaction document.
// GET /api/transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := ledger.TransactionID(chi.URLParam(r, "id"))
	t, err := h.svc.GetTransaction(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TransactionDTO{Kind: t.Kind(), Transaction: t})
}

// ReverseTransaction undoes a transaction and removes its document.
// POST /api/transactions/{id}/reverse
func (h *Handler) ReverseTransaction(w http.ResponseWriter, r *http.Request) {
	id := ledger.TransactionID(chi.URLParam(r, "id"))
	actor, _ := actorFrom(r.Context())

	if err := h.svc.ReverseTransaction(r.Context(), id, actor); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":       id,
		"reversed": true,
	})
}

// ReverseKind reverses a transaction addressed through its kind's route.
// A document of another kind is reported as not found.
// DELETE /api/purchases/{id}, /api/transfers/{id}, ...
func (h *Handler) ReverseKind(kind ledger.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := ledger.TransactionID(chi.URLParam(r, "id"))
		t, err := h.svc.GetTransaction(r.Context(), id)
		if err != nil {
			h.writeLedgerError(w, r, err)
			return
		}
		if t.Kind() != kind {
			h.writeLedgerError(w, r, fmt.Errorf("%w: %s %s", ledger.ErrNotFound, kind, id))
			return
		}
		h.ReverseTransaction(w, r)
	}
}

// UpdatePurchase replaces the lines of an existing purchase.
// PUT /api/purchases/{id}
func (h *Handler) UpdatePurchase(w http.ResponseWriter, r *http.Request) {
	id := ledger.TransactionID(chi.URLParam(r, "id"))
	var req UpdatePurchaseRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	actor, _ := actorFrom(r.Context())

	err := h.svc.UpdatePurchase(r.Context(), id, ledger.PurchaseUpdate{
		Items:         toLineItems(req.Items),
		Remarks:       req.Remarks,
		InvoiceNumber: req.InvoiceNumber,
		Actor:         actor,
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TransactionResponse{ID: id, Kind: ledger.KindPurchase})
}

// ConvertAssignment converts part of an assignment line into expenditure.
// POST /api/assignments/{id}/convert (also /expend)
func (h *Handler) ConvertAssignment(w http.ResponseWriter, r *http.Request) {
	id := ledger.TransactionID(chi.URLParam(r, "id"))
	var req ConvertRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	actor, _ := actorFrom(r.Context())

	expID, err := h.svc.ConvertAssignmentLineToExpenditure(r.Context(), ledger.ConvertRequest{
		AssignmentID: id,
		Asset:        ledger.AssetID(req.Asset),
		Quantity:     req.Quantity,
		Actor:        actor,
		ExpendedBy:   req.ExpendedBy,
		Remarks:      req.Remarks,
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, TransactionResponse{ID: expID, Kind: ledger.KindExpenditure})
}

// =============================================================================
// READ ENDPOINTS
// =============================================================================

// QueryBalances lists current balances.
// GET /api/balances?site=&asset=&min_on_hand=&max_on_hand=&low_stock=&updated_from=&updated_to=
func (h *Handler) QueryBalances(w http.ResponseWriter, r *http.Request) {
	var (
		filter ledger.BalanceFilter
		err    error
	)
	if v := queryString(r, "site"); v != nil {
		site := ledger.SiteID(*v)
		filter.Site = &site
	}
	if v := queryString(r, "asset"); v != nil {
		asset := ledger.AssetID(*v)
		filter.Asset = &asset
	}
	if filter.MinOnHand, err = queryInt(r, "min_on_hand"); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	if filter.MaxOnHand, err = queryInt(r, "max_on_hand"); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	if v := queryString(r, "low_stock"); v != nil && filter.MaxOnHand == nil {
		threshold := h.lowStock
		if *v != "true" {
			n, perr := strconv.ParseInt(*v, 10, 64)
			if perr != nil || n < 0 {
				h.writeLedgerError(w, r, fmt.Errorf("%w: low_stock must be true or a non-negative integer", ledger.ErrInvalidTransaction))
				return
			}
			threshold = n
		}
		// Low stock is strictly below the threshold.
		ceiling := threshold - 1
		filter.MaxOnHand = &ceiling
	}
	if filter.UpdatedFrom, err = queryTime(r, "updated_from"); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	if filter.UpdatedTo, err = queryTime(r, "updated_to"); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	balances, err := h.svc.QueryBalances(r.Context(), filter)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	if balances == nil {
		balances = []ledger.Balance{}
	}
	writeJSON(w, http.StatusOK, balances)
}

// QueryAuditTrail returns one page of audit entries, newest first.
// GET /api/audit?site=&asset=&kind=&transaction_id=&from=&to=&page=&size=
func (h *Handler) QueryAuditTrail(w http.ResponseWriter, r *http.Request) {
	var (
		filter ledger.AuditFilter
		err    error
	)
	if v := queryString(r, "site"); v != nil {
		site := ledger.SiteID(*v)
		filter.Site = &site
	}
	if v := queryString(r, "asset"); v != nil {
		asset := ledger.AssetID(*v)
		filter.Asset = &asset
	}
	if v := queryString(r, "kind"); v != nil {
		kind := ledger.Kind(*v)
		filter.Kind = &kind
	}
	if v := queryString(r, "transaction_id"); v != nil {
		id := ledger.TransactionID(*v)
		filter.TransactionID = &id
	}
	if filter.From, err = queryTime(r, "from"); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	if filter.To, err = queryTime(r, "to"); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	var page ledger.Page
	number, err := queryInt(r, "page")
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	size, err := queryInt(r, "size")
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	if number != nil {
		page.Number = int(*number)
	}
	if size != nil {
		page.Size = int(*size)
	}

	result, err := h.svc.QueryAuditTrail(r.Context(), filter, page)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAuditPageResponse(result))
}

// QuerySnapshots lists daily snapshots.
// GET /api/snapshots?site=&asset=&from=&to=
func (h *Handler) QuerySnapshots(w http.ResponseWriter, r *http.Request) {
	var (
		filter ledger.SnapshotFilter
		err    error
	)
	if v := queryString(r, "site"); v != nil {
		site := ledger.SiteID(*v)
		filter.Site = &site
	}
	if v := queryString(r, "asset"); v != nil {
		asset := ledger.AssetID(*v)
		filter.Asset = &asset
	}
	if filter.From, err = queryDay(r, "from"); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	if filter.To, err = queryDay(r, "to"); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	snaps, err := h.svc.QuerySnapshots(r.Context(), filter)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	if snaps == nil {
		snaps = []ledger.DailySnapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

// =============================================================================
// CATALOG ENDPOINTS
// =============================================================================

// ListSites returns all sites.
// GET /api/sites
func (h *Handler) ListSites(w http.ResponseWriter, r *http.Request) {
	sites, err := h.svc.ListSites(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sites)
}

// CreateSite registers or renames a site.
// POST /api/sites
func (h *Handler) CreateSite(w http.ResponseWriter, r *http.Request) {
	var req SiteRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	site, err := h.svc.RegisterSite(r.Context(), ledger.Site{
		ID:       ledger.SiteID(req.ID),
		Name:     req.Name,
		State:    req.State,
		District: req.District,
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, site)
}

// ListAssets returns all catalogued assets.
// GET /api/assets
func (h *Handler) ListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := h.svc.ListAssets(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assets)
}

// CreateAsset registers an asset type.
// POST /api/assets
func (h *Handler) CreateAsset(w http.ResponseWriter, r *http.Request) {
	var req AssetRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	asset, err := h.svc.RegisterAsset(r.Context(), ledger.Asset{
		ID:          ledger.AssetID(req.ID),
		Name:        req.Name,
		Category:    ledger.AssetCategory(req.Category),
		Unit:        req.Unit,
		Description: req.Description,
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, asset)
}

// =============================================================================
// ADMIN ENDPOINTS
// =============================================================================

// RunAggregation rolls up one day, a range, or today.
// POST /api/admin/aggregate
func (h *Handler) RunAggregation(w http.ResponseWriter, r *http.Request) {
	var req AggregateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		h.writeLedgerError(w, r, err)
		return
	}
	if (req.From == "") != (req.To == "") {
		writeError(w, http.StatusBadRequest, CodeValidation, "from and to must be given together", nil)
		return
	}

	from, to := h.agg.Today(), h.agg.Today()
	var err error
	switch {
	case req.From != "":
		if from, err = ledger.ParseDay(req.From); err == nil {
			to, err = ledger.ParseDay(req.To)
		}
	case req.Date != "":
		from, err = ledger.ParseDay(req.Date)
		to = from
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, "Invalid date", err.Error())
		return
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, CodeValidation, "to must not be before from", nil)
		return
	}

	n, err := h.agg.Backfill(r.Context(), from, to)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AggregateResponse{From: from, To: to, Snapshots: n})
}

// Reconcile replays the audit trail against stored balances.
// POST /api/admin/reconcile
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.rec.Check(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	if report.Drifts == nil {
		report.Drifts = []ledger.Drift{}
	}
	writeJSON(w, http.StatusOK, report)
}

// Health reports liveness and, when configured, store reachability.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, CodeInternal, "Store unreachable", err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}

// writeLedgerError maps err onto a status and logs anything unexpected.
func (h *Handler) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errEmptyBody) {
		writeError(w, http.StatusBadRequest, CodeValidation, "Invalid request body", err.Error())
		return
	}
	status, code := classify(err)

	var details any
	switch {
	case code == CodeValidation:
		if fields := validationDetails(err); fields != nil {
			details = fields
		}
	case code == CodeInsufficient:
		details = shortfallDetails(err)
	}
	if status == http.StatusInternalServerError {
		h.logg.Error(r.Context(), "api.internal_error", err)
		writeError(w, status, code, "Internal error", nil)
		return
	}
	writeError(w, status, code, err.Error(), details)
}
