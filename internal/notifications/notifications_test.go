package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitelevels/sitelevels/internal/pipeline"
)

type countingNotifier struct {
	progressCalls  int
	completedCalls int
}

func (c *countingNotifier) Progress(property string, processed, total int) {
	c.progressCalls++
}

func (c *countingNotifier) Completed(ctx context.Context, report *pipeline.Report) {
	c.completedCalls++
}

func TestMultiFansOutToAllChannels(t *testing.T) {
	first := &countingNotifier{}
	second := &countingNotifier{}

	m := NewMulti(first, nil, second)
	m.Progress("example", 10, 25)
	m.Progress("example", 20, 25)
	m.Completed(context.Background(), &pipeline.Report{Property: "example"})

	assert.Equal(t, 2, first.progressCalls)
	assert.Equal(t, 2, second.progressCalls)
	assert.Equal(t, 1, first.completedCalls)
	assert.Equal(t, 1, second.completedCalls)
}

func TestMultiAdd(t *testing.T) {
	m := NewMulti()
	ch := &countingNotifier{}
	m.Add(ch)
	m.Add(nil)

	m.Progress("example", 1, 1)
	assert.Equal(t, 1, ch.progressCalls)
}

func TestBuildReportBlocksComplete(t *testing.T) {
	blocks := buildReportBlocks(&pipeline.Report{
		Property:   "example",
		Discovered: 25,
		Merged:     24,
		Skipped:    1,
		Duration:   3 * time.Second,
	})

	require.Len(t, blocks, 2)
	section, ok := blocks[0].(*slack.SectionBlock)
	require.True(t, ok)
	assert.Contains(t, section.Text.Text, "Ingest complete: example")
	assert.Contains(t, section.Text.Text, ":white_check_mark:")

	detail := blocks[1].(*slack.SectionBlock)
	assert.Contains(t, detail.Text.Text, "25 pages discovered")
	assert.Contains(t, detail.Text.Text, "24 recorded")
}

func TestBuildReportBlocksStoppedWithRejections(t *testing.T) {
	blocks := buildReportBlocks(&pipeline.Report{
		Property: "example",
		Stopped:  true,
		Rejected: 3,
	})

	require.Len(t, blocks, 3)
	headline := blocks[0].(*slack.SectionBlock)
	assert.Contains(t, headline.Text.Text, "Ingest stopped early")
	assert.Contains(t, headline.Text.Text, ":warning:")

	rejected := blocks[2].(*slack.SectionBlock)
	assert.Contains(t, rejected.Text.Text, "3 records rejected")
}

func TestNewSlackNotifierFromEnvRequiresBothVars(t *testing.T) {
	t.Setenv("SLACK_BOT_TOKEN", "")
	t.Setenv("SLACK_CHANNEL_ID", "")
	assert.Nil(t, NewSlackNotifierFromEnv())

	t.Setenv("SLACK_BOT_TOKEN", "xoxb-test")
	assert.Nil(t, NewSlackNotifierFromEnv())

	t.Setenv("SLACK_CHANNEL_ID", "C12345")
	assert.NotNil(t, NewSlackNotifierFromEnv())
}
