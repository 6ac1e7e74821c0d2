package snapshot

import (
	"context"
	"fmt"
	"sync"

	"github.com/sitelevels/sitelevels/internal/records"
)

// MemoryRepository is an in-memory Repository for tests and ephemeral
// runs. Safe for concurrent use.
type MemoryRepository struct {
	mu         sync.RWMutex
	groups     map[string]map[string][]records.Record // property -> url -> versions, newest first
	properties map[string]PropertyInfo
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		groups:     make(map[string]map[string][]records.Record),
		properties: make(map[string]PropertyInfo),
	}
}

// LoadGroups returns copies of the property's groups.
func (m *MemoryRepository) LoadGroups(ctx context.Context, property string) ([]Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byURL := m.groups[property]
	groups := make([]Group, 0, len(byURL))
	for u, versions := range byURL {
		copied := make([]records.Record, len(versions))
		copy(copied, versions)
		groups = append(groups, Group{URL: u, Versions: copied})
	}
	return groups, nil
}

// InsertRecords prepends each record to its URL group so the newest
// observation is always the group head.
func (m *MemoryRepository) InsertRecords(ctx context.Context, property string, recs []records.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byURL := m.groups[property]
	if byURL == nil {
		byURL = make(map[string][]records.Record)
		m.groups[property] = byURL
	}

	for _, rec := range recs {
		if rec.URL == "" {
			return fmt.Errorf("%w: missing url", ErrInvalidRecord)
		}
		byURL[rec.URL] = append([]records.Record{rec}, byURL[rec.URL]...)
	}
	return nil
}

// UpsertProperty creates or updates a property index entry. An existing
// entry's technologies and last-updated stamp survive an upsert that
// doesn't carry newer values, so registering a property up front never
// erases what a completed run recorded.
func (m *MemoryRepository) UpsertProperty(ctx context.Context, info PropertyInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.properties[info.Name]; ok {
		if info.Technologies == nil {
			info.Technologies = existing.Technologies
		}
		if info.LastUpdated.Before(existing.LastUpdated) {
			info.LastUpdated = existing.LastUpdated
		}
	}
	m.properties[info.Name] = info
	return nil
}

// GetProperty returns one property index entry.
func (m *MemoryRepository) GetProperty(ctx context.Context, name string) (*PropertyInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info, ok := m.properties[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPropertyNotFound, name)
	}
	return &info, nil
}

// ListProperties returns all property index entries.
func (m *MemoryRepository) ListProperties(ctx context.Context) ([]PropertyInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]PropertyInfo, 0, len(m.properties))
	for _, info := range m.properties {
		infos = append(infos, info)
	}
	return infos, nil
}

// RemoveProperty deletes a property and its snapshot history.
func (m *MemoryRepository) RemoveProperty(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.properties, name)
	delete(m.groups, name)
	return nil
}
