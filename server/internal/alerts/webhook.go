package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/markbook/markbook/pkg/types"
)

// payloadFunc renders the request body one webhook type expects.
type payloadFunc func(a *Alert) any

var payloads = map[string]payloadFunc{
	"slack": slackPayload,
	"teams": teamsPayload,
	"http":  func(a *Alert) any { return map[string]any{"alert": a} },
}

// deliver posts a to every webhook with a resolvable URL. Failures are only
// logged.
func (e *Engine) deliver(a *Alert) {
	for _, wh := range e.webhooks {
		url := wh.URL()
		render, known := payloads[wh.Type]
		if url == "" || !known {
			continue
		}
		log := slog.With("type", wh.Type, "rule", a.RuleName, "tenant", a.TenantID, "student", a.StudentID)
		if err := e.post(url, render(a)); err != nil {
			log.Error("alerts: webhook delivery failed", "err", err)
			continue
		}
		log.Debug("alerts: webhook delivered", "state", a.State)
	}
}

func slackPayload(a *Alert) any {
	if a.State == StateResolved {
		return map[string]string{
			"text": fmt.Sprintf("*[RESOLVED]* %s no longer holds for student %s in %s", a.RuleName, a.StudentID, a.TenantID),
		}
	}
	return map[string]string{
		"text": fmt.Sprintf("*[%s]* %s", strings.ToUpper(severityOrInfo(a.Severity)), a.Message),
	}
}

func teamsPayload(a *Alert) any {
	facts := []map[string]string{
		{"name": "Tenant", "value": a.TenantID},
		{"name": "Student", "value": a.StudentID},
		{"name": "State", "value": a.State},
	}
	if a.Value != nil {
		facts = append(facts, map[string]string{"name": "Value", "value": types.FormatPercent(a.Value, 1)})
	}
	return map[string]any{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": severityColors[severityOrInfo(a.Severity)],
		"summary":    a.RuleName,
		"title":      fmt.Sprintf("Markbook alert: %s (%s)", a.RuleName, a.State),
		"text":       a.Message,
		"sections":   []map[string]any{{"facts": facts}},
	}
}

var severityColors = map[string]string{
	"critical": "FF4F6A",
	"warning":  "FFAB40",
	"info":     "00D4FF",
}

func severityOrInfo(s string) string {
	if _, ok := severityColors[s]; ok {
		return s
	}
	return "info"
}

func (e *Engine) post(url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	resp, err := e.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("webhook answered %s", resp.Status)
	}
	return nil
}
