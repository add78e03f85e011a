/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the ledger with realistic
	movements for demos and manual testing. Each scenario registers the
	sites and assets it needs and then applies transactions through the
	ledger service, so every balance and audit entry it produces is one
	the engine would accept from a real client.

AVAILABLE SCENARIOS:

	base-stock:          Three bases stocked by purchase
	inter-base-transfer: Base stock, then transfers down the supply chain
	field-exercise:      Base stock, an assignment to a platoon, partial
	                     conversion to expenditure and a direct expenditure
	correction:          Base stock, a mistaken transfer that is reversed
	                     and a purchase whose quantities are corrected

HOW SCENARIOS WORK:
 1. Register sites and assets (upserts, safe to repeat)
 2. Apply purchases dated a few days back so the aggregator has history
 3. Apply the scenario's own movements on top

USAGE VIA API:

	GET  /api/scenarios
	POST /api/admin/scenarios/load
	{"scenario_id": "field-exercise"}

NOTE:

	Scenarios do not reset the store. Loading one twice records its
	transactions twice. Only enable in development/demo environments.

SEE ALSO:
  - handlers.go: the endpoints the scenarios exercise
  - ledger/service.go: ApplyTransaction, ReverseTransaction, UpdatePurchase
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/viratpk18/Military-Base-Management-System-Backend/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// ScenarioDTO describes a loadable scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario by id.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// LoadScenarioResponse lists the transactions a scenario recorded.
type LoadScenarioResponse struct {
	Scenario     string                 `json:"scenario"`
	Transactions []ledger.TransactionID `json:"transactions"`
}

var scenarios = []ScenarioDTO{
	{
		ID:          "base-stock",
		Name:        "Base Stock",
		Description: "Three bases stocked with weapons, ammunition and vehicles",
	},
	{
		ID:          "inter-base-transfer",
		Name:        "Inter-Base Transfer",
		Description: "Stock moved from Alpha to Bravo and on to Charlie",
	},
	{
		ID:          "field-exercise",
		Name:        "Field Exercise",
		Description: "Ammunition assigned to a platoon and partly expended",
	},
	{
		ID:          "correction",
		Name:        "Correction",
		Description: "A mistaken transfer reversed and a purchase corrected",
	},
}

const (
	scenarioAlpha   ledger.SiteID = "alpha-base"
	scenarioBravo   ledger.SiteID = "bravo-base"
	scenarioCharlie ledger.SiteID = "charlie-outpost"

	scenarioRifle ledger.AssetID = "rifle-insas"
	scenarioAmmo  ledger.AssetID = "ammo-556"
	scenarioJeep  ledger.AssetID = "jeep-gypsy"
	scenarioRadio ledger.AssetID = "radio-set"
)

var scenarioActor = ledger.Actor{ID: "scenario-loader", Role: "admin"}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns the available demo scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario applies a scenario's transactions.
// POST /api/admin/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	ctx := h.logg.WithField(r.Context(), "scenario", req.ScenarioID)
	l := &scenarioLoader{svc: h.svc, now: time.Now().UTC()}

	var err error
	switch req.ScenarioID {
	case "base-stock":
		err = l.baseStock(ctx)
	case "inter-base-transfer":
		err = l.interBaseTransfer(ctx)
	case "field-exercise":
		err = l.fieldExercise(ctx)
	case "correction":
		err = l.correction(ctx)
	default:
		writeError(w, http.StatusNotFound, CodeNotFound, "Unknown scenario: "+req.ScenarioID, nil)
		return
	}
	if err != nil {
		h.writeLedgerError(w, r, fmt.Errorf("load scenario %s: %w", req.ScenarioID, err))
		return
	}

	h.logg.Info(ctx, "scenario loaded")
	writeJSON(w, http.StatusCreated, LoadScenarioResponse{Scenario: req.ScenarioID, Transactions: l.applied})
}

// =============================================================================
// LOADERS
// =============================================================================

type scenarioLoader struct {
	svc     *ledger.Service
	now     time.Time
	applied []ledger.TransactionID
}

// daysAgo returns a time n days before now at the given hour, never in the
// future.
func (l *scenarioLoader) daysAgo(n, hour int) time.Time {
	d := l.now.AddDate(0, 0, -n)
	t := time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, time.UTC)
	if t.After(l.now) {
		return l.now
	}
	return t
}

func (l *scenarioLoader) record(occurred time.Time, remarks string) ledger.Record {
	return ledger.Record{Actor: scenarioActor, OccurredAt: occurred, Remarks: remarks}
}

func (l *scenarioLoader) apply(ctx context.Context, t ledger.Transaction) (ledger.TransactionID, error) {
	id, err := l.svc.ApplyTransaction(ctx, t)
	if err != nil {
		return "", err
	}
	l.applied = append(l.applied, id)
	return id, nil
}

func (l *scenarioLoader) catalog(ctx context.Context) error {
	sites := []ledger.Site{
		{ID: scenarioAlpha, Name: "Alpha Base", State: "Rajasthan", District: "Jodhpur"},
		{ID: scenarioBravo, Name: "Bravo Base", State: "Punjab", District: "Pathankot"},
		{ID: scenarioCharlie, Name: "Charlie Outpost", State: "Ladakh", District: "Leh"},
	}
	for _, s := range sites {
		if _, err := l.svc.RegisterSite(ctx, s); err != nil {
			return err
		}
	}
	assets := []ledger.Asset{
		{ID: scenarioRifle, Name: "INSAS Rifle", Category: ledger.CategoryWeapon},
		{ID: scenarioAmmo, Name: "5.56mm Round", Category: ledger.CategoryAmmunition, Unit: "rounds"},
		{ID: scenarioJeep, Name: "Gypsy Jeep", Category: ledger.CategoryVehicle},
		{ID: scenarioRadio, Name: "Field Radio Set", Category: ledger.CategoryEquipment},
	}
	for _, a := range assets {
		if _, err := l.svc.RegisterAsset(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func (l *scenarioLoader) baseStock(ctx context.Context) error {
	if err := l.catalog(ctx); err != nil {
		return err
	}
	purchases := []*ledger.Purchase{
		{
			Record:        l.record(l.daysAgo(3, 9), "annual procurement"),
			Site:          scenarioAlpha,
			InvoiceNumber: "INV-ALPHA-001",
			Items: []ledger.LineItem{
				{Asset: scenarioRifle, Quantity: 120, UnitPrice: decimal.RequireFromString("45000.00")},
				{Asset: scenarioAmmo, Quantity: 20000, UnitPrice: decimal.RequireFromString("32.50")},
				{Asset: scenarioJeep, Quantity: 6, UnitPrice: decimal.RequireFromString("650000.00")},
			},
		},
		{
			Record:        l.record(l.daysAgo(3, 11), "annual procurement"),
			Site:          scenarioBravo,
			InvoiceNumber: "INV-BRAVO-001",
			Items: []ledger.LineItem{
				{Asset: scenarioRifle, Quantity: 60, UnitPrice: decimal.RequireFromString("45000.00")},
				{Asset: scenarioRadio, Quantity: 25, UnitPrice: decimal.RequireFromString("18000.00")},
			},
		},
		{
			Record: l.record(l.daysAgo(2, 10), "winter stock"),
			Site:   scenarioCharlie,
			Items: []ledger.LineItem{
				{Asset: scenarioRadio, Quantity: 10, UnitPrice: decimal.RequireFromString("18000.00")},
			},
		},
	}
	for _, p := range purchases {
		if _, err := l.apply(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (l *scenarioLoader) interBaseTransfer(ctx context.Context) error {
	if err := l.baseStock(ctx); err != nil {
		return err
	}
	transfers := []*ledger.Transfer{
		{
			Record:   l.record(l.daysAgo(1, 8), "forward deployment"),
			FromSite: scenarioAlpha,
			ToSite:   scenarioBravo,
			Items: []ledger.LineItem{
				{Asset: scenarioRifle, Quantity: 40},
				{Asset: scenarioAmmo, Quantity: 5000},
			},
		},
		{
			Record:   l.record(l.daysAgo(1, 15), "outpost resupply"),
			FromSite: scenarioBravo,
			ToSite:   scenarioCharlie,
			Items: []ledger.LineItem{
				{Asset: scenarioRifle, Quantity: 20},
				{Asset: scenarioAmmo, Quantity: 2000},
			},
		},
	}
	for _, t := range transfers {
		if _, err := l.apply(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (l *scenarioLoader) fieldExercise(ctx context.Context) error {
	if err := l.baseStock(ctx); err != nil {
		return err
	}
	assignmentID, err := l.apply(ctx, &ledger.Assignment{
		Record:     l.record(l.daysAgo(1, 6), "live fire exercise"),
		Site:       scenarioAlpha,
		AssignedTo: "2nd Platoon",
		Items: []ledger.AssignedItem{
			{Asset: scenarioRifle, Quantity: 30},
			{Asset: scenarioAmmo, Quantity: 3000},
		},
	})
	if err != nil {
		return err
	}
	expID, err := l.svc.ConvertAssignmentLineToExpenditure(ctx, ledger.ConvertRequest{
		AssignmentID: assignmentID,
		Asset:        scenarioAmmo,
		Quantity:     2400,
		Actor:        scenarioActor,
		Remarks:      "rounds fired on range",
	})
	if err != nil {
		return err
	}
	l.applied = append(l.applied, expID)

	_, err = l.apply(ctx, &ledger.Expenditure{
		Record:     l.record(l.daysAgo(0, 0), "vehicle written off"),
		Site:       scenarioAlpha,
		ExpendedBy: "MT Section",
		Items:      []ledger.LineItem{{Asset: scenarioJeep, Quantity: 1}},
	})
	return err
}

func (l *scenarioLoader) correction(ctx context.Context) error {
	if err := l.baseStock(ctx); err != nil {
		return err
	}
	mistaken, err := l.apply(ctx, &ledger.Transfer{
		Record:   l.record(l.daysAgo(1, 9), "sent to wrong base"),
		FromSite: scenarioAlpha,
		ToSite:   scenarioCharlie,
		Items:    []ledger.LineItem{{Asset: scenarioJeep, Quantity: 2}},
	})
	if err != nil {
		return err
	}
	if err := l.svc.ReverseTransaction(ctx, mistaken, scenarioActor); err != nil {
		return err
	}

	// The Charlie purchase was keyed in short; the invoice said 12.
	charlie := l.applied[2]
	remarks := "quantity corrected against invoice"
	return l.svc.UpdatePurchase(ctx, charlie, ledger.PurchaseUpdate{
		Items: []ledger.LineItem{
			{Asset: scenarioRadio, Quantity: 12, UnitPrice: decimal.RequireFromString("18000.00")},
		},
		Remarks: &remarks,
		Actor:   scenarioActor,
	})
}
