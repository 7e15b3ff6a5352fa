package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/t-hamamura/market-research-system/internal/engine"
	"github.com/t-hamamura/market-research-system/internal/prompts"
)

const probeTimeout = 10 * time.Second

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, map[string]interface{}{
		"status":    "ok",
		"service":   "market-research-system",
		"timestamp": time.Now().Format(time.RFC3339),
		"integrations": map[string]bool{
			"gemini": s.gemini.IsConfigured(),
			"notion": s.notion.IsConfigured(),
		},
	})
}

// handlePrompts lists every analysis step with a truncated prompt preview so
// operators can inspect what each step will ask for.
func (s *Server) handlePrompts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	steps := engine.Steps()
	out := make([]map[string]interface{}, 0, len(steps))
	for i, def := range steps {
		out = append(out, map[string]interface{}{
			"step":     engine.AnalysisStep(i),
			"id":       def.ID,
			"title":    def.Title,
			"category": string(def.Category),
			"preview":  prompts.Truncate(def.Prompt, prompts.PreviewLimit),
		})
	}

	writeJSON(w, map[string]interface{}{
		"total":   engine.TotalSteps,
		"prompts": out,
	})
}

// handleTest probes connectivity to the generation and workspace services
// without starting a run.
func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	gemini := map[string]interface{}{"configured": s.gemini.IsConfigured()}
	if s.gemini.IsConfigured() {
		if err := s.gemini.Ping(ctx); err != nil {
			gemini["reachable"] = false
			gemini["error"] = err.Error()
		} else {
			gemini["reachable"] = true
		}
	}

	notionStatus := map[string]interface{}{"configured": s.notion.IsConfigured()}
	if s.notion.IsConfigured() {
		if err := s.notion.Ping(ctx); err != nil {
			notionStatus["reachable"] = false
			notionStatus["error"] = err.Error()
		} else {
			notionStatus["reachable"] = true
		}
	}

	writeJSON(w, map[string]interface{}{
		"gemini": gemini,
		"notion": notionStatus,
	})
}

// conductRequest is the POST body for starting (or resuming) a run. The
// optional resumeFromStep uses display numbering (4..19); values below the
// first analysis step mean a fresh run.
type conductRequest struct {
	engine.ResearchRequest
	ResumeFromStep int `json:"resumeFromStep,omitempty"`
}

func (s *Server) handleConduct(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req conductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONStatus(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	offset := 0
	if req.ResumeFromStep >= engine.FirstAnalysisStep {
		offset = req.ResumeFromStep - engine.FirstAnalysisStep
	}

	stream, err := newSSEStream(w)
	if err != nil {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Buffered sink: the run must never block on a slow or gone client.
	events := make(chan engine.ProgressEvent, 256)
	sink := func(ev engine.ProgressEvent) {
		select {
		case events <- ev:
		default:
		}
	}

	// The run is detached from the request context so a dropped connection
	// does not abort research already under way; documents keep filling in
	// and the client can resume from the last observed step.
	go func() {
		if _, err := s.engine.Run(context.Background(), req.ResearchRequest, sink, offset); err != nil {
			s.log.Warn("research run ended with error",
				zap.String("business", req.BusinessName),
				zap.Error(err))
		}
	}()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			if err := stream.Send(ev); err != nil {
				return
			}
			if ev.Terminal() {
				return
			}
		case <-ticker.C:
			if err := stream.Ping(); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		http.Error(w, "run persistence disabled", http.StatusServiceUnavailable)
		return
	}

	runs, err := s.store.ListRuns()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{"runs": runs})
}

// handleRunDetail serves /api/research/runs/{id} with the run's persisted
// artifacts and event log.
func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		http.Error(w, "run persistence disabled", http.StatusServiceUnavailable)
		return
	}

	runID := strings.TrimPrefix(r.URL.Path, "/api/research/runs/")
	if runID == "" || strings.Contains(runID, "/") {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}

	artifacts, err := s.store.ListArtifacts(runID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	events, err := s.store.ListEvents(runID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(artifacts) == 0 && len(events) == 0 {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}

	writeJSON(w, map[string]interface{}{
		"runId":     runID,
		"artifacts": artifacts,
		"events":    events,
	})
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
