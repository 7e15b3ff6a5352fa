package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const defaultGeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta"

// GeminiClient calls the Gemini generateContent API.
type GeminiClient struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
	log        *zap.Logger
}

// NewGeminiClient builds a client. An empty endpoint selects the public API.
func NewGeminiClient(apiKey, model, endpoint string, log *zap.Logger) *GeminiClient {
	if endpoint == "" {
		endpoint = defaultGeminiEndpoint
	}
	if model == "" {
		model = "gemini-1.5-pro"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &GeminiClient{
		apiKey:   apiKey,
		model:    model,
		endpoint: strings.TrimRight(endpoint, "/"),
		// Per-call deadlines come from the pipeline's timeout guard; the
		// transport timeout is only a backstop against hung connections.
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		log:        log.Named("gemini"),
	}
}

// IsConfigured returns whether the client has credentials.
func (c *GeminiClient) IsConfigured() bool { return c.apiKey != "" }

// Generate sends prompt to the model and returns the concatenated text of
// the first candidate.
func (c *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	if !c.IsConfigured() {
		return "", eris.New("gemini: GEMINI_API_KEY not set")
	}

	payload := map[string]interface{}{
		"contents": []map[string]interface{}{
			{
				"parts": []map[string]string{{"text": prompt}},
			},
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", eris.Wrap(err, "gemini: marshal request")
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.endpoint, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", eris.Wrap(err, "gemini: build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "gemini: request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "gemini: read response")
	}

	if resp.StatusCode != http.StatusOK {
		// Keep the status code in the message so the invoker's rate-limit
		// classifier can recognize 429s.
		return "", eris.Errorf("gemini: HTTP %d: %s", resp.StatusCode, truncateBody(body))
	}

	var result struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", eris.Wrap(err, "gemini: parse response")
	}
	if len(result.Candidates) == 0 {
		return "", eris.New("gemini: no candidates in response")
	}

	var out strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		out.WriteString(part.Text)
	}
	return out.String(), nil
}

// Ping verifies connectivity and credentials without running a generation.
func (c *GeminiClient) Ping(ctx context.Context) error {
	if !c.IsConfigured() {
		return eris.New("gemini: GEMINI_API_KEY not set")
	}
	url := fmt.Sprintf("%s/models?key=%s&pageSize=1", c.endpoint, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return eris.Wrap(err, "gemini: build request")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return eris.Wrap(err, "gemini: ping")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return eris.Errorf("gemini: HTTP %d: %s", resp.StatusCode, truncateBody(body))
	}
	return nil
}

func truncateBody(body []byte) string {
	s := string(body)
	if len(s) > 300 {
		s = s[:300] + "..."
	}
	return s
}
