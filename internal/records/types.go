package records

import (
	"strconv"
	"time"
)

// Sentinel cell values for the persisted row shape.
const (
	LikeCountUnavailable = "Not Available" // level-4 page with no parseable counter
	EngagementNotTracked = "N/A"           // non-article pages carry no engagement fields
)

// Record is one observation of a page at a point in time. Once persisted a
// record is immutable; later observations append new versions to the same
// URL group and never rewrite history.
type Record struct {
	URL           string              `json:"url"`
	Title         string              `json:"title"`
	Description   string              `json:"description"`
	HeaderTags    map[string][]string `json:"header_tags"`
	Version       string              `json:"version"`
	Timestamp     time.Time           `json:"timestamp"`
	TopLevelCount int                 `json:"top_level_count"`
	Level         int                 `json:"level"`
	LikeCount     *int                `json:"like_count,omitempty"`   // level-4 pages only
	TargetLikes   *int                `json:"target_likes,omitempty"` // level-4 pages only

	// Collapsed marks historical versions in a snapshot view. Derived on
	// read, never stored.
	Collapsed bool `json:"collapsed,omitempty"`
}

// LikeCountCell renders the like count for the persisted row shape.
func (r Record) LikeCountCell() string {
	if r.Level != 4 {
		return EngagementNotTracked
	}
	if r.LikeCount == nil {
		return LikeCountUnavailable
	}
	return strconv.Itoa(*r.LikeCount)
}

// TargetLikesCell renders the target-likes goal for the persisted row shape.
func (r Record) TargetLikesCell() string {
	if r.Level != 4 || r.TargetLikes == nil {
		return EngagementNotTracked
	}
	return strconv.Itoa(*r.TargetLikes)
}
