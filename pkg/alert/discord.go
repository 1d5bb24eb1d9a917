package alert

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Discord sends notifications via Discord webhook.
type Discord struct {
	client     *http.Client
	webhookURL string
}

// NewDiscord creates a new Discord notifier.
func NewDiscord(webhookURL string) *Discord {
	return &Discord{client: newHTTPClient(), webhookURL: webhookURL}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Send(ctx context.Context, n *Notification) error {
	desc := n.Body
	if lines := n.Lines(); len(lines) > 0 {
		desc += "\n\n• " + strings.Join(lines, "\n• ")
	}

	sent := n.SentAt
	if sent.IsZero() {
		sent = time.Now().UTC()
	}
	embed := map[string]any{
		"title":       n.Title,
		"description": desc,
		"color":       0x2E86DE,
		"timestamp":   sent.Format(time.RFC3339),
	}

	body, err := json.Marshal(map[string]any{"embeds": []map[string]any{embed}})
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}
	return postJSON(ctx, d.client, "discord webhook", d.webhookURL, body, nil)
}
