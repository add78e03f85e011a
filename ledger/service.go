/*
service.go - Transaction controller for the inventory ledger

PURPOSE:
  Service is the surface the request layer talks to. Each operation
  validates input, runs every balance mutation, the transaction document
  write and the matching audit entry inside one Store.WithTx unit, then
  records metrics and logs.

OPERATIONS:
  ApplyTransaction                    create purchase/transfer/assignment/expenditure
  UpdatePurchase                      reverse old lines, apply new lines
  ReverseTransaction                  exact inverse + compensating entry + delete
  ConvertAssignmentLineToExpenditure  assigned -> expended for one line
  QueryBalances / QueryAuditTrail / QuerySnapshots / GetTransaction

AUDIT MODES:
  coupled   The audit append runs inside the unit of work. An append
            failure rolls back the balance change and the document.
  deferred  The audit append runs after commit. A failure is logged as a
            consistency alert and counted; the committed balance stays.
            Reconciler.Check reports the resulting drift.

SEE ALSO:
  - engine.go: Balance arithmetic is delegated here, never done inline
  - reversal.go: Inverse computation per transaction kind
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/viratpk18/Military-Base-Management-System-Backend/logger"
	"github.com/viratpk18/Military-Base-Management-System-Backend/metrics"
)

type AuditMode string

const (
	AuditCoupled  AuditMode = "coupled"
	AuditDeferred AuditMode = "deferred"
)

func (m AuditMode) Valid() bool {
	return m == AuditCoupled || m == AuditDeferred
}

// ServiceParams configure the ledger service.
type ServiceParams struct {
	Store      Store
	References ReferenceChecker // defaults to the store's catalog
	Logger     *logger.Logger
	Metrics    *metrics.LedgerMetrics
	AuditMode  AuditMode
	MaxRetries int
	Clock      func() time.Time
}

type Service struct {
	store      Store
	refs       ReferenceChecker
	logg       *logger.Logger
	metrics    *metrics.LedgerMetrics
	auditMode  AuditMode
	maxRetries int
	clock      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	refs := params.References
	if refs == nil {
		refs = CatalogReferences(params.Store)
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	mode := params.AuditMode
	if mode == "" {
		mode = AuditCoupled
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("unknown audit mode %q", mode)
	}
	maxRetries := params.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	clock := params.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		store:      params.Store,
		refs:       refs,
		logg:       logg,
		metrics:    params.Metrics,
		auditMode:  mode,
		maxRetries: maxRetries,
		clock:      clock,
	}, nil
}

// =============================================================================
// UNIT-OF-WORK PLUMBING
// =============================================================================

// auditRecorder keeps audit entries in lockstep with the unit of work.
type auditRecorder struct {
	uow      UnitOfWork
	deferred bool
	pending  []AuditEntry
}

func (r *auditRecorder) record(ctx context.Context, entry AuditEntry) error {
	if r.deferred {
		r.pending = append(r.pending, entry)
		return nil
	}
	if err := r.uow.AppendAudit(ctx, entry); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

type unitFunc func(ctx context.Context, uow UnitOfWork, eng *Engine, audit *auditRecorder) error

// run executes fn atomically and handles deferred audit, metrics and logs.
// kind may be filled in by fn once the transaction is loaded.
func (s *Service) run(ctx context.Context, op string, kind *Kind, fn unitFunc) error {
	start := s.clock()
	var pending []AuditEntry

	err := s.store.WithTx(ctx, func(uow UnitOfWork) error {
		eng := NewEngine(uow, WithMaxRetries(s.maxRetries), WithClock(s.clock))
		rec := &auditRecorder{uow: uow, deferred: s.auditMode == AuditDeferred}
		if err := fn(ctx, uow, eng, rec); err != nil {
			return err
		}
		pending = rec.pending
		return nil
	})

	elapsed := s.clock().Sub(start)
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"event":       "ledger." + op,
		"kind":        string(*kind),
		"duration_ms": elapsed.Milliseconds(),
	})

	if err != nil {
		outcome := metrics.OutcomeError
		if IsConflict(err) || IsClientError(err) || IsNotFound(err) {
			outcome = metrics.OutcomeRejected
			logCtx = s.logg.WithField(logCtx, "reason", err.Error())
			s.logg.Warn(logCtx, "ledger operation rejected")
		} else {
			s.logg.Error(logCtx, "ledger operation failed", err)
		}
		s.metrics.ObserveOperation(op, string(*kind), outcome, elapsed)
		return err
	}

	for _, entry := range pending {
		if aerr := s.store.AppendAudit(ctx, entry); aerr != nil {
			alertCtx := s.logg.WithFields(logCtx, map[string]any{
				"event":          "ledger.consistency_alert",
				"transaction_id": string(entry.TransactionID),
				"audit_id":       entry.ID,
			})
			s.logg.Error(alertCtx, "audit append failed after balance commit", aerr)
			s.metrics.IncConsistencyAlert()
		}
	}

	s.metrics.ObserveOperation(op, string(*kind), metrics.OutcomeSuccess, elapsed)
	s.logg.Info(logCtx, "ledger operation committed")
	return nil
}

func (s *Service) newRecord(actor Actor, occurredAt time.Time, remarks string) Record {
	now := s.clock()
	if occurredAt.IsZero() {
		occurredAt = now
	}
	return Record{
		ID:         TransactionID(uuid.NewString()),
		Actor:      actor,
		OccurredAt: occurredAt.UTC(),
		Remarks:    remarks,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// applyLines runs one engine call per line. sign is +1 to apply and -1 to
// invert.
func applyLines(ctx context.Context, eng *Engine, t Transaction, sign int64) error {
	for _, line := range t.Lines() {
		qty := line.Quantity * sign
		var err error
		switch v := t.(type) {
		case *Purchase:
			_, err = eng.Purchase(ctx, v.Site, line.Asset, qty)
		case *Transfer:
			_, err = eng.Transfer(ctx, v.FromSite, v.ToSite, line.Asset, qty)
		case *Assignment:
			_, err = eng.Assign(ctx, v.Site, line.Asset, qty)
		case *Expenditure:
			if v.FromAssignment() {
				_, err = eng.ConvertAssignedToExpended(ctx, v.Site, line.Asset, qty)
			} else {
				_, err = eng.Expend(ctx, v.Site, line.Asset, qty)
			}
		default:
			err = fmt.Errorf("%w: unsupported transaction type %T", ErrInvalidTransaction, t)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// COMMANDS
// =============================================================================

// ApplyTransaction validates and applies a new transaction. The ID, timestamps
// and conversion state are assigned here; OccurredAt defaults to now. They are
// written back into t only once the unit of work has committed.
func (s *Service) ApplyTransaction(ctx context.Context, t Transaction) (TransactionID, error) {
	if t == nil {
		return "", &ValidationError{Field: "transaction", Reason: "transaction is required"}
	}
	kind := t.Kind()
	if err := t.Validate(); err != nil {
		return "", err
	}
	if exp, ok := t.(*Expenditure); ok && exp.FromAssignment() {
		return "", &ValidationError{Field: "assignment_id", Reason: "assignment conversions go through ConvertAssignmentLineToExpenditure"}
	}
	if err := checkReferences(ctx, s.refs, t); err != nil {
		return "", err
	}

	work, err := cloneTransaction(t)
	if err != nil {
		return "", err
	}
	if a, ok := work.(*Assignment); ok {
		for i := range a.Items {
			a.Items[i].ExpendedQuantity = 0
			a.Items[i].Expended = false
		}
		a.FullyExpended = false
	}
	base := work.Base()
	*base = s.newRecord(base.Actor, base.OccurredAt, base.Remarks)

	err = s.run(ctx, "apply", &kind, func(ctx context.Context, uow UnitOfWork, eng *Engine, audit *auditRecorder) error {
		if err := applyLines(ctx, eng, work, 1); err != nil {
			return err
		}
		if err := uow.SaveTransaction(ctx, work); err != nil {
			return err
		}
		return audit.record(ctx, newAuditEntry(work, 1, base.Actor, base.Remarks, base.OccurredAt))
	})
	if err != nil {
		return "", err
	}
	copyTransaction(t, work)
	return base.ID, nil
}

// PurchaseUpdate replaces the lines of an existing purchase. Nil pointers
// leave the field unchanged.
type PurchaseUpdate struct {
	Items         []LineItem
	Remarks       *string
	InvoiceNumber *string
	Actor         Actor
}

// UpdatePurchase reverses the purchase's old lines and applies the new ones
// as two engine passes, emitting one audit entry for each.
func (s *Service) UpdatePurchase(ctx context.Context, id TransactionID, update PurchaseUpdate) error {
	if err := validateLines(update.Items); err != nil {
		return err
	}
	for _, line := range update.Items {
		ok, err := s.refs.AssetExists(ctx, line.Asset)
		if err != nil {
			return fmt.Errorf("check asset %s: %w", line.Asset, err)
		}
		if !ok {
			return &ReferenceError{Kind: "asset", ID: string(line.Asset)}
		}
	}

	kind := KindPurchase
	return s.run(ctx, "update", &kind, func(ctx context.Context, uow UnitOfWork, eng *Engine, audit *auditRecorder) error {
		t, err := uow.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		p, ok := t.(*Purchase)
		if !ok {
			return fmt.Errorf("%w: %s is a %s, not a purchase", ErrKindMismatch, id, t.Kind())
		}
		now := s.clock()

		previous := *p
		previous.Items = append([]LineItem(nil), p.Items...)
		if err := applyLines(ctx, eng, &previous, -1); err != nil {
			return err
		}
		if err := audit.record(ctx, newAuditEntry(&previous, -1, update.Actor, "purchase updated: previous lines reversed", now)); err != nil {
			return err
		}

		p.Items = append([]LineItem(nil), update.Items...)
		if update.Remarks != nil {
			p.Remarks = *update.Remarks
		}
		if update.InvoiceNumber != nil {
			p.InvoiceNumber = *update.InvoiceNumber
		}
		p.UpdatedAt = now
		if err := applyLines(ctx, eng, p, 1); err != nil {
			return err
		}
		if err := audit.record(ctx, newAuditEntry(p, 1, update.Actor, p.Remarks, now)); err != nil {
			return err
		}
		return uow.SaveTransaction(ctx, p)
	})
}

// ConvertRequest moves quantity of one assignment line into expenditure.
type ConvertRequest struct {
	AssignmentID TransactionID
	Asset        AssetID
	Quantity     int64
	Actor        Actor
	ExpendedBy   string // defaults to the assignee
	Remarks      string
}

// ConvertAssignmentLineToExpenditure records an expenditure drawn from an
// assignment line and returns the new expenditure's id.
func (s *Service) ConvertAssignmentLineToExpenditure(ctx context.Context, req ConvertRequest) (TransactionID, error) {
	if req.Quantity <= 0 {
		return "", fmt.Errorf("%w: conversion quantity must be positive", ErrInvalidQuantity)
	}
	if req.AssignmentID == "" || req.Asset == "" {
		return "", &ValidationError{Field: "assignment", Reason: "assignment id and asset are required"}
	}

	kind := KindExpenditure
	var id TransactionID
	err := s.run(ctx, "convert", &kind, func(ctx context.Context, uow UnitOfWork, eng *Engine, audit *auditRecorder) error {
		t, err := uow.GetTransaction(ctx, req.AssignmentID)
		if err != nil {
			return err
		}
		a, ok := t.(*Assignment)
		if !ok {
			return fmt.Errorf("%w: %s is a %s, not an assignment", ErrKindMismatch, req.AssignmentID, t.Kind())
		}
		remaining, found := a.RemainingFor(req.Asset)
		if !found {
			return fmt.Errorf("%w: assignment %s has no line for asset %s", ErrNotFound, a.ID, req.Asset)
		}
		if remaining < req.Quantity {
			return shortfall(ErrInsufficientAssigned, Key{Site: a.Site, Asset: req.Asset}, "assignment_line", remaining, req.Quantity)
		}

		expendedBy := req.ExpendedBy
		if expendedBy == "" {
			expendedBy = a.AssignedTo
		}
		exp := &Expenditure{
			Record:       s.newRecord(req.Actor, time.Time{}, req.Remarks),
			Site:         a.Site,
			ExpendedBy:   expendedBy,
			Items:        []LineItem{{Asset: req.Asset, Quantity: req.Quantity}},
			AssignmentID: a.ID,
		}
		if err := applyLines(ctx, eng, exp, 1); err != nil {
			return err
		}

		a.markConverted(req.Asset, req.Quantity)
		a.UpdatedAt = exp.CreatedAt
		if err := uow.SaveTransaction(ctx, a); err != nil {
			return err
		}
		if err := uow.SaveTransaction(ctx, exp); err != nil {
			return err
		}
		if err := audit.record(ctx, newAuditEntry(exp, 1, req.Actor, exp.Remarks, exp.OccurredAt)); err != nil {
			return err
		}
		id = exp.ID
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// =============================================================================
// QUERIES - Read-only
// =============================================================================

func (s *Service) GetTransaction(ctx context.Context, id TransactionID) (Transaction, error) {
	return s.store.GetTransaction(ctx, id)
}

func (s *Service) QueryBalances(ctx context.Context, filter BalanceFilter) ([]Balance, error) {
	return s.store.ListBalances(ctx, filter)
}

func (s *Service) QueryAuditTrail(ctx context.Context, filter AuditFilter, page Page) (AuditPage, error) {
	return s.store.QueryAudit(ctx, filter, page.Normalize())
}

func (s *Service) QuerySnapshots(ctx context.Context, filter SnapshotFilter) ([]DailySnapshot, error) {
	return s.store.ListSnapshots(ctx, filter)
}

// =============================================================================
// CATALOG
// =============================================================================

func (s *Service) RegisterSite(ctx context.Context, site Site) (Site, error) {
	if err := site.Validate(); err != nil {
		return Site{}, err
	}
	if site.CreatedAt.IsZero() {
		site.CreatedAt = s.clock()
	}
	if err := s.store.SaveSite(ctx, site); err != nil {
		return Site{}, err
	}
	return site, nil
}

func (s *Service) RegisterAsset(ctx context.Context, asset Asset) (Asset, error) {
	if err := asset.Validate(); err != nil {
		return Asset{}, err
	}
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = s.clock()
	}
	if err := s.store.SaveAsset(ctx, asset); err != nil {
		return Asset{}, err
	}
	return asset, nil
}

func (s *Service) ListSites(ctx context.Context) ([]Site, error) {
	return s.store.ListSites(ctx)
}

func (s *Service) ListAssets(ctx context.Context) ([]Asset, error) {
	return s.store.ListAssets(ctx)
}
