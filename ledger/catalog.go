package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// AssetCategory classifies catalogued assets.
type AssetCategory string

const (
	CategoryWeapon     AssetCategory = "weapon"
	CategoryVehicle    AssetCategory = "vehicle"
	CategoryAmmunition AssetCategory = "ammunition"
	CategoryEquipment  AssetCategory = "equipment"
)

func (c AssetCategory) Valid() bool {
	switch c {
	case CategoryWeapon, CategoryVehicle, CategoryAmmunition, CategoryEquipment:
		return true
	}
	return false
}

const DefaultUnit = "pcs"

type Site struct {
	ID        SiteID    `json:"id"`
	Name      string    `json:"name"`
	State     string    `json:"state,omitempty"`
	District  string    `json:"district,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Asset struct {
	ID          AssetID       `json:"id"`
	Name        string        `json:"name"`
	Category    AssetCategory `json:"category"`
	Unit        string        `json:"unit"`
	Description string        `json:"description,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Catalog stores the reference data transactions point at.
type Catalog interface {
	SaveSite(ctx context.Context, s Site) error
	GetSite(ctx context.Context, id SiteID) (Site, error) // ErrNotFound
	ListSites(ctx context.Context) ([]Site, error)

	SaveAsset(ctx context.Context, a Asset) error
	GetAsset(ctx context.Context, id AssetID) (Asset, error) // ErrNotFound
	ListAssets(ctx context.Context) ([]Asset, error)
}

// ReferenceChecker answers the existence checks made before a transaction
// is accepted.
type ReferenceChecker interface {
	SiteExists(ctx context.Context, id SiteID) (bool, error)
	AssetExists(ctx context.Context, id AssetID) (bool, error)
}

// CatalogReferences adapts a Catalog into a ReferenceChecker.
func CatalogReferences(c Catalog) ReferenceChecker {
	return catalogReferences{catalog: c}
}

type catalogReferences struct {
	catalog Catalog
}

func (r catalogReferences) SiteExists(ctx context.Context, id SiteID) (bool, error) {
	_, err := r.catalog.GetSite(ctx, id)
	return exists(err)
}

func (r catalogReferences) AssetExists(ctx context.Context, id AssetID) (bool, error) {
	_, err := r.catalog.GetAsset(ctx, id)
	return exists(err)
}

func exists(err error) (bool, error) {
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// AllowAllReferences accepts every identifier.
type AllowAllReferences struct{}

func (AllowAllReferences) SiteExists(context.Context, SiteID) (bool, error)   { return true, nil }
func (AllowAllReferences) AssetExists(context.Context, AssetID) (bool, error) { return true, nil }

// checkReferences verifies every site and asset a transaction names.
func checkReferences(ctx context.Context, refs ReferenceChecker, t Transaction) error {
	for _, site := range Sites(t) {
		ok, err := refs.SiteExists(ctx, site)
		if err != nil {
			return fmt.Errorf("check site %s: %w", site, err)
		}
		if !ok {
			return &ReferenceError{Kind: "site", ID: string(site)}
		}
	}
	seen := make(map[AssetID]bool)
	for _, line := range t.Lines() {
		if seen[line.Asset] {
			continue
		}
		seen[line.Asset] = true
		ok, err := refs.AssetExists(ctx, line.Asset)
		if err != nil {
			return fmt.Errorf("check asset %s: %w", line.Asset, err)
		}
		if !ok {
			return &ReferenceError{Kind: "asset", ID: string(line.Asset)}
		}
	}
	return nil
}

// Validate checks required catalog fields and fills defaults.
func (a *Asset) Validate() error {
	if a.ID == "" || a.Name == "" {
		return &ValidationError{Field: "asset", Reason: "id and name are required"}
	}
	if !a.Category.Valid() {
		return &ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", a.Category)}
	}
	if a.Unit == "" {
		a.Unit = DefaultUnit
	}
	return nil
}

func (s *Site) Validate() error {
	if s.ID == "" || s.Name == "" {
		return &ValidationError{Field: "site", Reason: "id and name are required"}
	}
	return nil
}
