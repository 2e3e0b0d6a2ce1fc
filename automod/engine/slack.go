package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bluesky-social/mediamod/automod/level"
	"github.com/bluesky-social/mediamod/models"
	"github.com/bluesky-social/mediamod/util"

	"golang.org/x/time/rate"
)

// Posts block alerts to a slack "incoming webhook". Alerts beyond the rate limit are dropped.
type SlackNotifier struct {
	SlackWebhookURL string
	Client          *http.Client
	Limiter         *rate.Limiter
}

var _ Alerter = (*SlackNotifier)(nil)

func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		SlackWebhookURL: webhookURL,
		Client:          util.RobustHTTPClient(),
		Limiter:         rate.NewLimiter(rate.Every(2*time.Second), 10),
	}
}

func (n *SlackNotifier) AlertBlocked(ctx context.Context, m *models.MediaItem, reason string, tags []string) error {
	if n.Limiter != nil && !n.Limiter.Allow() {
		slackAlertDroppedCount.Inc()
		return nil
	}
	return n.sendSlackMsg(ctx, slackBody("⚠️ Media Blocked ⚠️\n", m, reason, tags))
}

type SlackWebhookBody struct {
	Text string `json:"text"`
}

// Sends a simple slack message to a channel via "incoming webhook".
//
// The slack incoming webhook must be already configured in the slack workplace.
func (n *SlackNotifier) sendSlackMsg(ctx context.Context, msg string) error {
	body, err := json.Marshal(SlackWebhookBody{Text: msg})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.SlackWebhookURL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")
	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	buf.ReadFrom(resp.Body)
	if resp.StatusCode != 200 || buf.String() != "ok" {
		return fmt.Errorf("failed slack webhook POST request. status=%d", resp.StatusCode)
	}
	return nil
}

func slackBody(header string, m *models.MediaItem, reason string, tags []string) string {
	msg := header
	msg += fmt.Sprintf("media `%d` / user `%d` / level `%s`\n", m.ID, m.UserID, level.Name(m.NsfwLevel))
	msg += fmt.Sprintf("Reason: %s\n", reason)
	if len(tags) > 0 {
		msg += fmt.Sprintf("Tags: `%s`\n", strings.Join(tags, ", "))
	}
	if m.GenerationTool != "" {
		msg += fmt.Sprintf("Tool: `%s`\n", m.GenerationTool)
	}
	return msg
}
