package server

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/t-hamamura/market-research-system/internal/engine"
	"github.com/t-hamamura/market-research-system/internal/llm"
	"github.com/t-hamamura/market-research-system/internal/notion"
)

// newTestServer wires a server whose external services are unconfigured, so
// every run fails fast at setup. Good enough for exercising the HTTP surface.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	gemini := llm.NewGeminiClient("", "", "", nil)
	docs := notion.NewClient("", "", notion.PropertyBindings{}, nil)
	inv := llm.NewInvoker(llm.InvokerConfig{
		MinInterval: time.Millisecond,
		MaxAttempts: 2,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  time.Millisecond,
		RetryDelay:  time.Millisecond,
	}, nil)

	eng := engine.New(gemini, docs, inv, nil, nil, engine.Options{
		GenTimeout:   time.Second,
		SuccessDelay: time.Nanosecond,
		FailureDelay: time.Nanosecond,
	})

	s := New(eng, nil, gemini, docs, 0, zap.NewNop())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

const validConductBody = `{
	"businessName": "Acme Robotics",
	"serviceHypothesis": {
		"concept": "Robotic arms as a subscription service",
		"customerProblem": "Small factories cannot afford automation up front",
		"targetIndustry": "Light manufacturing",
		"targetUsers": "Plant managers",
		"competitors": "KUKA leasing"
	}
}`

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestPromptsEndpoint(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/research/prompts")
	if err != nil {
		t.Fatalf("GET prompts: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Total   int `json:"total"`
		Prompts []struct {
			Step    int    `json:"step"`
			ID      int    `json:"id"`
			Title   string `json:"title"`
			Preview string `json:"preview"`
		} `json:"prompts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != engine.TotalSteps {
		t.Fatalf("total %d, want %d", body.Total, engine.TotalSteps)
	}
	if len(body.Prompts) != engine.AnalysisStepCount {
		t.Fatalf("expected %d prompts, got %d", engine.AnalysisStepCount, len(body.Prompts))
	}
	if body.Prompts[0].Step != engine.FirstAnalysisStep {
		t.Fatalf("first prompt step %d, want %d", body.Prompts[0].Step, engine.FirstAnalysisStep)
	}
	last := body.Prompts[len(body.Prompts)-1]
	if last.Step != engine.TotalSteps-1 {
		t.Fatalf("last prompt step %d, want %d", last.Step, engine.TotalSteps-1)
	}
	for _, p := range body.Prompts {
		if p.Title == "" || p.Preview == "" {
			t.Fatalf("incomplete prompt entry: %+v", p)
		}
	}
}

func TestTestEndpointReportsUnconfigured(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/research/test")
	if err != nil {
		t.Fatalf("GET test: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Gemini map[string]interface{} `json:"gemini"`
		Notion map[string]interface{} `json:"notion"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Gemini["configured"] != false || body.Notion["configured"] != false {
		t.Fatalf("expected both unconfigured: %v", body)
	}
}

func TestConductRejectsInvalidRequest(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	resp, err := http.Post(srv.URL+"/api/research/conduct", "application/json",
		strings.NewReader(`{"businessName":"","serviceHypothesis":{}}`))
	if err != nil {
		t.Fatalf("POST conduct: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(body["error"], "businessName") || !strings.Contains(body["error"], "concept") {
		t.Fatalf("error should name missing fields: %q", body["error"])
	}
}

func TestConductRejectsNonPost(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/research/conduct")
	if err != nil {
		t.Fatalf("GET conduct: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status %d, want 405", resp.StatusCode)
	}
}

func TestConductStreamsSSE(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	resp, err := http.Post(srv.URL+"/api/research/conduct", "application/json",
		strings.NewReader(validConductBody))
	if err != nil {
		t.Fatalf("POST conduct: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}

	// With no workspace configured, setup fails and the stream carries a
	// single terminal error event at step 0.
	var sawError bool
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "event: error" {
			sawError = true
		}
		if sawError && strings.HasPrefix(line, "data: ") {
			var ev engine.ProgressEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				t.Fatalf("parse event: %v", err)
			}
			if ev.Type != engine.EventError || ev.Step != 0 {
				t.Fatalf("unexpected terminal event: %+v", ev)
			}
			if ev.Total != engine.TotalSteps {
				t.Fatalf("event total %d", ev.Total)
			}
			return
		}
	}
	t.Fatalf("stream ended without error event (scan err: %v)", scanner.Err())
}

func TestRunsEndpointWithoutStore(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/research/runs")
	if err != nil {
		t.Fatalf("GET runs: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status %d, want 503", resp.StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/research/conduct", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("preflight status %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("missing CORS header")
	}
}
