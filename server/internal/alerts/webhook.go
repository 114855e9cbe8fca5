package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/fieldgrid/fieldgrid/pkg/types"
)

const webhookTimeout = 10 * time.Second

// payloads maps a webhook type to the body it receives.
var payloads = map[string]func(*Alert) any{
	"slack": slackPayload,
	"teams": teamsPayload,
	"http":  func(a *Alert) any { return map[string]any{"alert": a} },
}

// deliver posts a to every webhook whose URL resolves. Failures are logged
// and not retried.
func (e *Engine) deliver(a *Alert) {
	for _, wh := range e.webhooks {
		target := wh.URL()
		build, ok := payloads[wh.Type]
		if target == "" || !ok {
			continue
		}
		body, err := json.Marshal(build(a))
		if err != nil {
			slog.Error("alerts: encode webhook payload", "type", wh.Type, "err", err)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
		err = e.post(ctx, target, body)
		cancel()
		if err != nil {
			slog.Warn("alerts: webhook delivery failed",
				"type", wh.Type, "project", a.ProjectID, "alert", a.ID, "err", err)
			continue
		}
		slog.Debug("alerts: webhook delivered", "type", wh.Type, "alert", a.ID)
	}
}

func slackPayload(a *Alert) any {
	return map[string]any{
		"text": fmt.Sprintf("*%s* %s", severityLabel(a.Severity), a.Message),
		"attachments": []map[string]any{{
			"color": "#" + severityColor(a.Severity),
			"fields": []map[string]any{
				{"title": "Project", "value": a.ProjectID, "short": true},
				{"title": "Test type", "value": displayName(a), "short": true},
				{"title": "Fail / Warn", "value": fmt.Sprintf("%d / %d", a.Fail, a.Warn), "short": true},
				{"title": "Worst value", "value": strconv.FormatFloat(a.Worst, 'g', -1, 64), "short": true},
			},
			"footer": "batch " + a.IdempotencyKey,
			"ts":     a.FiredAt.Unix(),
		}},
	}
}

func teamsPayload(a *Alert) any {
	return map[string]any{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": severityColor(a.Severity),
		"summary":    displayName(a),
		"title":      fmt.Sprintf("%s Out of spec: %s", severityLabel(a.Severity), displayName(a)),
		"sections": []map[string]any{{
			"text": a.Message,
			"facts": []map[string]string{
				{"name": "Project", "value": a.ProjectID},
				{"name": "Batch", "value": a.IdempotencyKey},
				{"name": "Worst value", "value": strconv.FormatFloat(a.Worst, 'g', -1, 64)},
			},
		}},
	}
}

func (e *Engine) post(ctx context.Context, target string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func severityLabel(s types.Status) string {
	if s == types.StatusFail {
		return "[FAIL]"
	}
	return "[WARN]"
}

func severityColor(s types.Status) string {
	if s == types.StatusFail {
		return "D7263D"
	}
	return "F4A259"
}
