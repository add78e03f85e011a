// Package store provides in-process ledger.Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/viratpk18/Military-Base-Management-System-Backend/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	balances  map[ledger.Key]ledger.Balance
	documents map[ledger.TransactionID]document
	audit     []ledger.AuditEntry
	snapshots map[snapshotKey]ledger.DailySnapshot
	sites     map[ledger.SiteID]ledger.Site
	assets    map[ledger.AssetID]ledger.Asset
	now       func() time.Time
}

// document is a transaction kept in encoded form so callers never share
// memory with the store.
type document struct {
	kind ledger.Kind
	data []byte
}

type snapshotKey struct {
	day string
	key ledger.Key
}

func NewMemory() *Memory {
	return &Memory{
		balances:  make(map[ledger.Key]ledger.Balance),
		documents: make(map[ledger.TransactionID]document),
		snapshots: make(map[snapshotKey]ledger.DailySnapshot),
		sites:     make(map[ledger.SiteID]ledger.Site),
		assets:    make(map[ledger.AssetID]ledger.Asset),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// =============================================================================
// BALANCES
// =============================================================================

func (m *Memory) GetOrCreate(_ context.Context, site ledger.SiteID, asset ledger.AssetID) (ledger.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrCreateLocked(site, asset), nil
}

func (m *Memory) getOrCreateLocked(site ledger.SiteID, asset ledger.AssetID) ledger.Balance {
	k := ledger.Key{Site: site, Asset: asset}
	if b, ok := m.balances[k]; ok {
		return b
	}
	b := ledger.NewBalance(site, asset, m.now())
	m.balances[k] = b
	return b
}

func (m *Memory) Commit(_ context.Context, b ledger.Balance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commitLocked(b)
}

func (m *Memory) commitLocked(b ledger.Balance) error {
	stored, ok := m.balances[b.Key()]
	if !ok || stored.Version != b.Version {
		return fmt.Errorf("%w: balance %s", ledger.ErrConcurrentModification, b.Key())
	}
	b.Version++
	b.CreatedAt = stored.CreatedAt
	m.balances[b.Key()] = b
	return nil
}

func (m *Memory) ListBalances(_ context.Context, filter ledger.BalanceFilter) ([]ledger.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Balance
	for _, b := range m.balances {
		if filter.Matches(b) {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Site != result[j].Site {
			return result[i].Site < result[j].Site
		}
		return result[i].Asset < result[j].Asset
	})
	return result, nil
}

// =============================================================================
// TRANSACTION DOCUMENTS
// =============================================================================

func (m *Memory) SaveTransaction(_ context.Context, t ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveTransactionLocked(t)
}

func (m *Memory) saveTransactionLocked(t ledger.Transaction) error {
	kind, data, err := ledger.EncodeTransaction(t)
	if err != nil {
		return err
	}
	m.documents[t.Base().ID] = document{kind: kind, data: data}
	return nil
}

func (m *Memory) GetTransaction(_ context.Context, id ledger.TransactionID) (ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getTransactionLocked(id)
}

func (m *Memory) getTransactionLocked(id ledger.TransactionID) (ledger.Transaction, error) {
	doc, ok := m.documents[id]
	if !ok {
		return nil, fmt.Errorf("%w: transaction %s", ledger.ErrNotFound, id)
	}
	return ledger.DecodeTransaction(doc.kind, doc.data)
}

func (m *Memory) DeleteTransaction(_ context.Context, id ledger.TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteTransactionLocked(id)
}

func (m *Memory) deleteTransactionLocked(id ledger.TransactionID) error {
	if _, ok := m.documents[id]; !ok {
		return fmt.Errorf("%w: transaction %s", ledger.ErrNotFound, id)
	}
	delete(m.documents, id)
	return nil
}

// =============================================================================
// AUDIT TRAIL
// =============================================================================

// AppendAudit adds an entry. Append-only.
func (m *Memory) AppendAudit(_ context.Context, entry ledger.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendAuditLocked(entry)
	return nil
}

func (m *Memory) appendAuditLocked(entry ledger.AuditEntry) {
	entry.Items = append([]ledger.LineItem(nil), entry.Items...)
	m.audit = append(m.audit, entry)
}

// QueryAudit returns matching entries newest first.
func (m *Memory) QueryAudit(_ context.Context, filter ledger.AuditFilter, page ledger.Page) (ledger.AuditPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	page = page.Normalize()
	var matched []ledger.AuditEntry
	for i := len(m.audit) - 1; i >= 0; i-- {
		if filter.Matches(m.audit[i]) {
			matched = append(matched, m.audit[i])
		}
	}
	// Stable keeps insertion order (newest first) among equal timestamps.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	result := ledger.AuditPage{Total: len(matched), Page: page.Number, Size: page.Size}
	start := page.Offset()
	if start >= len(matched) {
		result.Entries = []ledger.AuditEntry{}
		return result, nil
	}
	end := start + page.Size
	if end > len(matched) {
		end = len(matched)
	}
	result.Entries = append([]ledger.AuditEntry(nil), matched[start:end]...)
	return result, nil
}

func (m *Memory) AuditActivity(_ context.Context, key ledger.Key, from, to time.Time) ([]ledger.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.AuditEntry
	for _, e := range m.audit {
		if !e.Touches(key) {
			continue
		}
		if !from.IsZero() && e.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && !e.Timestamp.Before(to) {
			continue
		}
		result = append(result, e)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

func (m *Memory) UpsertSnapshot(_ context.Context, s ledger.DailySnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snapshotKey{day: s.Day.String(), key: s.Key()}] = s
	return nil
}

func (m *Memory) GetSnapshot(_ context.Context, day ledger.Day, key ledger.Key) (*ledger.DailySnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[snapshotKey{day: day.String(), key: key}]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *Memory) LatestSnapshotBefore(_ context.Context, key ledger.Key, day ledger.Day) (*ledger.DailySnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *ledger.DailySnapshot
	for k, s := range m.snapshots {
		if k.key != key || !s.Day.Before(day) {
			continue
		}
		if latest == nil || s.Day.After(latest.Day) {
			s := s
			latest = &s
		}
	}
	return latest, nil
}

func (m *Memory) ListSnapshots(_ context.Context, filter ledger.SnapshotFilter) ([]ledger.DailySnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.DailySnapshot
	for _, s := range m.snapshots {
		if filter.Matches(s) {
			result = append(result, s)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.Day.Equal(b.Day) {
			return a.Day.Before(b.Day)
		}
		if a.Site != b.Site {
			return a.Site < b.Site
		}
		return a.Asset < b.Asset
	})
	return result, nil
}

// =============================================================================
// CATALOG
// =============================================================================

func (m *Memory) SaveSite(_ context.Context, s ledger.Site) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sites[s.ID] = s
	return nil
}

func (m *Memory) GetSite(_ context.Context, id ledger.SiteID) (ledger.Site, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sites[id]
	if !ok {
		return ledger.Site{}, fmt.Errorf("%w: site %s", ledger.ErrNotFound, id)
	}
	return s, nil
}

func (m *Memory) ListSites(_ context.Context) ([]ledger.Site, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]ledger.Site, 0, len(m.sites))
	for _, s := range m.sites {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) SaveAsset(_ context.Context, a ledger.Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assets[a.ID] = a
	return nil
}

func (m *Memory) GetAsset(_ context.Context, id ledger.AssetID) (ledger.Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assets[id]
	if !ok {
		return ledger.Asset{}, fmt.Errorf("%w: asset %s", ledger.ErrNotFound, id)
	}
	return a, nil
}

func (m *Memory) ListAssets(_ context.Context) ([]ledger.Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]ledger.Asset, 0, len(m.assets))
	for _, a := range m.assets {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

// WithTx executes fn within a transaction.
// The write lock is held for the whole unit, so units are serialized. The
// unit records the prior state of each key it writes and restores only
// those keys on error.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.UnitOfWork) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tv := newTxView(m)
	if err := fn(tv); err != nil {
		tv.rollback()
		return err
	}
	return nil
}

type priorBalance struct {
	balance ledger.Balance
	existed bool
}

type priorDocument struct {
	doc     document
	existed bool
}

// txView runs against the parent's maps while WithTx holds its lock and
// journals the first write to every key.
type txView struct {
	parent    *Memory
	balances  map[ledger.Key]priorBalance
	documents map[ledger.TransactionID]priorDocument
	auditLen  int
}

func newTxView(m *Memory) *txView {
	return &txView{
		parent:    m,
		balances:  make(map[ledger.Key]priorBalance),
		documents: make(map[ledger.TransactionID]priorDocument),
		auditLen:  len(m.audit),
	}
}

func (tv *txView) touchBalance(k ledger.Key) {
	if _, ok := tv.balances[k]; ok {
		return
	}
	b, ok := tv.parent.balances[k]
	tv.balances[k] = priorBalance{balance: b, existed: ok}
}

func (tv *txView) touchDocument(id ledger.TransactionID) {
	if _, ok := tv.documents[id]; ok {
		return
	}
	d, ok := tv.parent.documents[id]
	tv.documents[id] = priorDocument{doc: d, existed: ok}
}

func (tv *txView) rollback() {
	m := tv.parent
	for k, p := range tv.balances {
		if p.existed {
			m.balances[k] = p.balance
		} else {
			delete(m.balances, k)
		}
	}
	for id, p := range tv.documents {
		if p.existed {
			m.documents[id] = p.doc
		} else {
			delete(m.documents, id)
		}
	}
	m.audit = m.audit[:tv.auditLen]
}

func (tv *txView) GetOrCreate(_ context.Context, site ledger.SiteID, asset ledger.AssetID) (ledger.Balance, error) {
	tv.touchBalance(ledger.Key{Site: site, Asset: asset})
	return tv.parent.getOrCreateLocked(site, asset), nil
}

func (tv *txView) Commit(_ context.Context, b ledger.Balance) error {
	tv.touchBalance(b.Key())
	return tv.parent.commitLocked(b)
}

func (tv *txView) SaveTransaction(_ context.Context, t ledger.Transaction) error {
	tv.touchDocument(t.Base().ID)
	return tv.parent.saveTransactionLocked(t)
}

func (tv *txView) GetTransaction(_ context.Context, id ledger.TransactionID) (ledger.Transaction, error) {
	return tv.parent.getTransactionLocked(id)
}

func (tv *txView) DeleteTransaction(_ context.Context, id ledger.TransactionID) error {
	tv.touchDocument(id)
	return tv.parent.deleteTransactionLocked(id)
}

func (tv *txView) AppendAudit(_ context.Context, entry ledger.AuditEntry) error {
	tv.parent.appendAuditLocked(entry)
	return nil
}
