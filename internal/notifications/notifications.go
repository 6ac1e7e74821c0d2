// Package notifications delivers ingest run progress and completion
// events to configured channels.
package notifications

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/sitelevels/sitelevels/internal/pipeline"
)

// Multi fans events out to every registered channel.
type Multi struct {
	channels []pipeline.Notifier
}

// NewMulti creates a fan-out notifier. Nil channels are skipped.
func NewMulti(channels ...pipeline.Notifier) *Multi {
	m := &Multi{}
	for _, ch := range channels {
		if ch != nil {
			m.channels = append(m.channels, ch)
		}
	}
	return m
}

// Add registers another delivery channel.
func (m *Multi) Add(ch pipeline.Notifier) {
	if ch != nil {
		m.channels = append(m.channels, ch)
	}
}

func (m *Multi) Progress(property string, processed, total int) {
	for _, ch := range m.channels {
		ch.Progress(property, processed, total)
	}
}

func (m *Multi) Completed(ctx context.Context, report *pipeline.Report) {
	for _, ch := range m.channels {
		ch.Completed(ctx, report)
	}
}

// LogNotifier writes progress and completion events to the structured log.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Progress(property string, processed, total int) {
	fraction := 0.0
	if total > 0 {
		fraction = float64(processed) / float64(total)
	}
	log.Info().
		Str("property", property).
		Int("processed", processed).
		Int("total", total).
		Float64("fraction", fraction).
		Msg("Ingest progress")
}

func (n *LogNotifier) Completed(ctx context.Context, report *pipeline.Report) {
	event := log.Info()
	if report.Stopped {
		event = log.Warn()
	}
	event.
		Str("property", report.Property).
		Str("run_id", report.RunID).
		Int("discovered", report.Discovered).
		Int("merged", report.Merged).
		Int("skipped", report.Skipped).
		Int("rejected", report.Rejected).
		Int("top_level_count", report.TopLevelCount).
		Bool("stopped", report.Stopped).
		Dur("duration", report.Duration).
		Msg("Ingest run complete")
}
