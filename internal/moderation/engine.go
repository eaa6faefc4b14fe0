package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Analyzer returns a risk verdict for message text. Implementations call
// the external analysis engine; only the queue worker invokes this.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (Verdict, error)
}

// HTTPAnalyzer calls an analysis engine over HTTP. Failures are
// transient from the queue worker's point of view and retried per
// backoff policy.
type HTTPAnalyzer struct {
	url    string
	client *http.Client
}

// NewHTTPAnalyzer creates an analyzer posting to the given endpoint.
func NewHTTPAnalyzer(url string) *HTTPAnalyzer {
	return &HTTPAnalyzer{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type analyzeRequest struct {
	Text string `json:"text"`
}

// Analyze posts the text and decodes the verdict.
func (a *HTTPAnalyzer) Analyze(ctx context.Context, text string) (Verdict, error) {
	body, err := json.Marshal(analyzeRequest{Text: text})
	if err != nil {
		return Verdict{}, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.client.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("analysis request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Verdict{}, fmt.Errorf("analysis status: %d", resp.StatusCode)
	}
	var v Verdict
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return Verdict{}, fmt.Errorf("decode verdict: %w", err)
	}
	return v, nil
}
