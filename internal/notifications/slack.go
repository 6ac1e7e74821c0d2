package notifications

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"

	"github.com/sitelevels/sitelevels/internal/pipeline"
)

// SlackNotifier posts ingest run summaries to a Slack channel. Progress
// events are intentionally not forwarded; only completion is posted.
type SlackNotifier struct {
	client    *slack.Client
	channelID string
}

// NewSlackNotifier creates a Slack delivery channel for the given bot
// token and channel.
func NewSlackNotifier(token, channelID string) *SlackNotifier {
	return &SlackNotifier{
		client:    slack.New(token),
		channelID: channelID,
	}
}

// NewSlackNotifierFromEnv reads SLACK_BOT_TOKEN and SLACK_CHANNEL_ID.
// Returns nil when either is unset, so Slack delivery is opt-in.
func NewSlackNotifierFromEnv() *SlackNotifier {
	token := os.Getenv("SLACK_BOT_TOKEN")
	channelID := os.Getenv("SLACK_CHANNEL_ID")
	if token == "" || channelID == "" {
		return nil
	}
	return NewSlackNotifier(token, channelID)
}

// Progress is a no-op; per-batch updates would flood the channel.
func (n *SlackNotifier) Progress(property string, processed, total int) {}

func (n *SlackNotifier) Completed(ctx context.Context, report *pipeline.Report) {
	blocks := buildReportBlocks(report)
	fallbackText := fmt.Sprintf("Ingest %s: %d of %d pages recorded", report.Property, report.Merged, report.Discovered)

	_, _, err := n.client.PostMessageContext(
		ctx,
		n.channelID,
		slack.MsgOptionBlocks(blocks...),
		slack.MsgOptionText(fallbackText, false),
	)
	if err != nil {
		log.Warn().
			Err(err).
			Str("property", report.Property).
			Str("run_id", report.RunID).
			Msg("Failed to post run summary to Slack")
		return
	}

	log.Info().
		Str("property", report.Property).
		Str("run_id", report.RunID).
		Msg("Run summary posted to Slack")
}

func buildReportBlocks(report *pipeline.Report) []slack.Block {
	emoji := ":white_check_mark:"
	headline := fmt.Sprintf("Ingest complete: %s", report.Property)
	if report.Stopped {
		emoji = ":warning:"
		headline = fmt.Sprintf("Ingest stopped early: %s", report.Property)
	}

	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject(
				"mrkdwn",
				fmt.Sprintf("%s *%s*", emoji, headline),
				false,
				false,
			),
			nil,
			nil,
		),
		slack.NewSectionBlock(
			slack.NewTextBlockObject(
				"mrkdwn",
				fmt.Sprintf("%d pages discovered, %d recorded, %d skipped in %s",
					report.Discovered, report.Merged, report.Skipped, report.Duration.Round(time.Millisecond)),
				false,
				false,
			),
			nil,
			nil,
		),
	}

	if report.Rejected > 0 {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(
				"mrkdwn",
				fmt.Sprintf(":x: %d records rejected during merge", report.Rejected),
				false,
				false,
			),
			nil,
			nil,
		))
	}

	return blocks
}
