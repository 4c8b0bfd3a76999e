// Package notify posts a summary of newly downloaded documents to a Discord
// compatible webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"statement-dl/internal/domain"
)

const (
	maxListed = 10
	// Discord rejects embed field values longer than this
	maxFieldRunes = 1024
)

// Summary is the outcome of one run
type Summary struct {
	Portal     string
	Downloaded []domain.Downloaded
	Skipped    int
	Finished   time.Time
}

type field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type embed struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Color       int     `json:"color"`
	Fields      []field `json:"fields,omitempty"`
	Timestamp   string  `json:"timestamp,omitempty"`
}

// Payload represents the JSON structure for Discord webhook
type Payload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []embed `json:"embeds,omitempty"`
}

type Webhook struct {
	URL    string
	Client *http.Client
}

func NewWebhook(url string) *Webhook {
	return &Webhook{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the summary. It does nothing without a URL or without new
// documents.
func (w *Webhook) Send(ctx context.Context, s Summary) error {
	if w == nil || w.URL == "" || len(s.Downloaded) == 0 {
		return nil
	}

	jsonData, err := json.Marshal(BuildPayload(s))
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// BuildPayload renders a summary as a single embed
func BuildPayload(s Summary) Payload {
	var list strings.Builder
	n := min(len(s.Downloaded), maxListed)
	for _, d := range s.Downloaded[:n] {
		fmt.Fprintf(&list, "**%s** | %s | `%s`\n", d.Row.Date.Format("02.01.2006"), d.Row.Category, d.Row.Title)
	}
	if len(s.Downloaded) > n {
		fmt.Fprintf(&list, "\n_... and %d more documents_", len(s.Downloaded)-n)
	}

	finished := s.Finished
	if finished.IsZero() {
		finished = time.Now()
	}

	return Payload{
		Content: fmt.Sprintf("%d new documents from %s", len(s.Downloaded), s.Portal),
		Embeds: []embed{{
			Title: "Statements downloaded",
			Color: 0x00FF00,
			Fields: []field{
				{Name: "Portal", Value: s.Portal, Inline: true},
				{Name: "New", Value: fmt.Sprintf("%d", len(s.Downloaded)), Inline: true},
				{Name: "Skipped", Value: fmt.Sprintf("%d", s.Skipped), Inline: true},
				{Name: "Documents", Value: truncate(strings.TrimSpace(list.String()), maxFieldRunes)},
			},
			Timestamp: finished.Format(time.RFC3339),
		}},
	}
}

// truncate cuts s to at most n runes, marking a cut with an ellipsis
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
