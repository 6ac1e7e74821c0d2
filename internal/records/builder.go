// Package records turns classified URLs and fetched metadata into
// versioned observations ready for snapshot merging.
package records

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sitelevels/sitelevels/internal/metadata"
)

// TargetLikesRange bounds the pseudo-random per-article engagement goal.
type TargetLikesRange struct {
	Min int
	Max int
}

// DefaultTargetLikesRange returns the standard 50-100 goal range.
func DefaultTargetLikesRange() TargetLikesRange {
	return TargetLikesRange{Min: 50, Max: 100}
}

// Builder constructs Records. The random source is injectable so tests can
// assert target-likes bounds without flakiness. Build is safe for
// concurrent use; the mutex serialises draws from the shared generator.
type Builder struct {
	targetRange TargetLikesRange

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewBuilder creates a Builder with the given goal range. A nil source is
// seeded from the clock; target likes mark a per-article goal, not a
// measurement, so run-to-run variation is intended.
func NewBuilder(targetRange TargetLikesRange, source rand.Source) *Builder {
	if targetRange.Max < targetRange.Min {
		targetRange = DefaultTargetLikesRange()
	}
	if source == nil {
		source = rand.NewSource(time.Now().UnixNano())
	}
	return &Builder{
		targetRange: targetRange,
		rnd:         rand.New(source),
	}
}

// Build combines a classified URL with its fetched metadata into a Record.
// Engagement fields are only populated for level-4 (article/detail) pages.
// topLevelCount is a placeholder here; the snapshot store restamps it
// across the whole merged set at merge time.
func (b *Builder) Build(url string, level, topLevelCount int, meta *metadata.PageMeta, now time.Time) Record {
	rec := Record{
		URL:           url,
		Title:         metadata.NoTitleFound,
		Description:   metadata.NoDescription,
		HeaderTags:    map[string][]string{},
		Version:       fmt.Sprintf("Version %s", now.UTC().Format(time.RFC3339)),
		Timestamp:     now,
		TopLevelCount: topLevelCount,
		Level:         level,
	}

	if meta != nil {
		rec.Title = meta.Title
		rec.Description = meta.Description
		if meta.HeaderTags != nil {
			rec.HeaderTags = meta.HeaderTags
		}
	}

	if level == 4 {
		if meta != nil && meta.LikeCount != nil {
			likes := *meta.LikeCount
			rec.LikeCount = &likes
		}
		b.mu.Lock()
		target := b.targetRange.Min + b.rnd.Intn(b.targetRange.Max-b.targetRange.Min+1)
		b.mu.Unlock()
		rec.TargetLikes = &target
	}

	return rec
}
