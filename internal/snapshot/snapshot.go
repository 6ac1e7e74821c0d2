// Package snapshot maintains the versioned, deduplicated record set for
// each tracked property. Merging is append-only: a new observation of a
// known URL becomes the head of that URL's group and prior versions are
// retained as history, never rewritten or discarded.
package snapshot

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sitelevels/sitelevels/internal/records"
)

// ErrInvalidRecord is returned for records missing required key fields.
var ErrInvalidRecord = errors.New("invalid record")

// ErrPropertyNotFound is returned when a property has never been tracked.
var ErrPropertyNotFound = errors.New("property not found")

// Group is all versions of one URL within a property, newest first.
type Group struct {
	URL      string
	Versions []records.Record
}

// PropertyInfo is one entry in the property index.
type PropertyInfo struct {
	Name         string              `json:"name"`
	BaseURL      string              `json:"base_url"`
	Technologies map[string][]string `json:"technologies,omitempty"`
	LastUpdated  time.Time           `json:"last_updated"`
}

// MergeResult summarises one merge call.
type MergeResult struct {
	Property      string
	Inserted      int
	Rejected      int
	NewGroups     int
	UpdatedGroups int
	TopLevelCount int
}

// Repository is the persistence backend for snapshots. Implementations
// must return each group's versions ordered newest first.
type Repository interface {
	LoadGroups(ctx context.Context, property string) ([]Group, error)
	InsertRecords(ctx context.Context, property string, recs []records.Record) error
	UpsertProperty(ctx context.Context, info PropertyInfo) error
	GetProperty(ctx context.Context, name string) (*PropertyInfo, error)
	ListProperties(ctx context.Context) ([]PropertyInfo, error)
	RemoveProperty(ctx context.Context, name string) error
}

// Store is the merge engine over a Repository. Merges for the same
// property are serialized; independent properties may merge in parallel.
type Store struct {
	repo Repository

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a Store backed by repo.
func NewStore(repo Repository) *Store {
	return &Store{
		repo:  repo,
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *Store) propertyLock(property string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[property]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[property] = lock
	}
	return lock
}

// Merge folds a batch of records into a property's snapshot. Records
// without a URL are rejected and counted; the rest of the batch merges.
// The top-level count is recomputed over the merged set and stamped onto
// the incoming batch only - historical records keep the count that was
// current at their own ingestion.
func (s *Store) Merge(ctx context.Context, property string, batch []records.Record) (*MergeResult, error) {
	lock := s.propertyLock(property)
	lock.Lock()
	defer lock.Unlock()

	result := &MergeResult{Property: property}

	accepted := make([]records.Record, 0, len(batch))
	for _, rec := range batch {
		if rec.URL == "" {
			result.Rejected++
			log.Warn().
				Str("property", property).
				Err(ErrInvalidRecord).
				Msg("Rejecting record with missing URL")
			continue
		}
		accepted = append(accepted, rec)
	}

	groups, err := s.repo.LoadGroups(ctx, property)
	if err != nil {
		return nil, err
	}

	existing := make(map[string]bool, len(groups))
	latestLevel := make(map[string]int, len(groups)+len(accepted))
	for _, g := range groups {
		existing[g.URL] = true
		if len(g.Versions) > 0 {
			latestLevel[g.URL] = g.Versions[0].Level
		}
	}

	seenInBatch := make(map[string]bool, len(accepted))
	for _, rec := range accepted {
		latestLevel[rec.URL] = rec.Level
		if existing[rec.URL] {
			if !seenInBatch[rec.URL] {
				result.UpdatedGroups++
			}
		} else if !seenInBatch[rec.URL] {
			result.NewGroups++
		}
		seenInBatch[rec.URL] = true
	}

	topLevel := 0
	for _, level := range latestLevel {
		if level == 1 {
			topLevel++
		}
	}
	result.TopLevelCount = topLevel

	for i := range accepted {
		accepted[i].TopLevelCount = topLevel
		accepted[i].Collapsed = false
	}

	if len(accepted) > 0 {
		if err := s.repo.InsertRecords(ctx, property, accepted); err != nil {
			return nil, err
		}
	}
	result.Inserted = len(accepted)

	log.Debug().
		Str("property", property).
		Int("inserted", result.Inserted).
		Int("rejected", result.Rejected).
		Int("new_groups", result.NewGroups).
		Int("updated_groups", result.UpdatedGroups).
		Int("top_level_count", result.TopLevelCount).
		Msg("Merged batch into snapshot")

	return result, nil
}

// Snapshot returns the property's groups ordered for presentation: URL
// ascending across groups, newest first within a group. Every version
// behind a group's head is flagged collapsed; the flag is derived here,
// stored history is untouched.
func (s *Store) Snapshot(ctx context.Context, property string) ([]Group, error) {
	groups, err := s.repo.LoadGroups(ctx, property)
	if err != nil {
		return nil, err
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i].URL < groups[j].URL })

	for gi := range groups {
		sort.SliceStable(groups[gi].Versions, func(i, j int) bool {
			return groups[gi].Versions[i].Timestamp.After(groups[gi].Versions[j].Timestamp)
		})
		for vi := range groups[gi].Versions {
			groups[gi].Versions[vi].Collapsed = vi > 0
		}
	}

	return groups, nil
}

// UpsertProperty creates or updates the property index entry.
func (s *Store) UpsertProperty(ctx context.Context, info PropertyInfo) error {
	return s.repo.UpsertProperty(ctx, info)
}

// Property returns one property index entry.
func (s *Store) Property(ctx context.Context, name string) (*PropertyInfo, error) {
	return s.repo.GetProperty(ctx, name)
}

// Properties lists all tracked properties.
func (s *Store) Properties(ctx context.Context) ([]PropertyInfo, error) {
	return s.repo.ListProperties(ctx)
}

// RemoveProperty is the explicit reset operation; properties are never
// removed implicitly.
func (s *Store) RemoveProperty(ctx context.Context, name string) error {
	return s.repo.RemoveProperty(ctx, name)
}
