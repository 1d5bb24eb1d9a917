package alert

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Slack sends notifications via Slack incoming webhook.
type Slack struct {
	client     *http.Client
	webhookURL string
}

// NewSlack creates a new Slack notifier.
func NewSlack(webhookURL string) *Slack {
	return &Slack{client: newHTTPClient(), webhookURL: webhookURL}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Send(ctx context.Context, n *Notification) error {
	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{"type": "plain_text", "text": n.Title},
		},
		{
			"type": "section",
			"text": map[string]any{"type": "mrkdwn", "text": n.Body},
		},
	}

	if lines := n.Lines(); len(lines) > 0 {
		blocks = append(blocks, map[string]any{
			"type": "section",
			"text": map[string]any{
				"type": "mrkdwn",
				"text": "• " + strings.Join(lines, "\n• "),
			},
		})
	}

	body, err := json.Marshal(map[string]any{"text": n.Title, "blocks": blocks})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}
	return postJSON(ctx, s.client, "slack webhook", s.webhookURL, body, nil)
}
