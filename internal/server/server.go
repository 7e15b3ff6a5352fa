package server

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/t-hamamura/market-research-system/internal/engine"
	"github.com/t-hamamura/market-research-system/internal/llm"
	"github.com/t-hamamura/market-research-system/internal/notion"
	"github.com/t-hamamura/market-research-system/internal/store"
)

// Server serves the research API: health and connectivity probes, prompt
// previews, the SSE-streamed conduct endpoint, run listings, and the
// WebSocket event feed.
type Server struct {
	engine *engine.Engine
	store  store.Store
	gemini *llm.GeminiClient
	notion *notion.Client
	hub    *Hub
	mux    *http.ServeMux
	port   int
	log    *zap.Logger
}

// New creates a server around an engine and its collaborators. The store may
// be nil, which disables the run-listing endpoints.
func New(eng *engine.Engine, st store.Store, gemini *llm.GeminiClient, nc *notion.Client, port int, log *zap.Logger) *Server {
	s := &Server{
		engine: eng,
		store:  st,
		gemini: gemini,
		notion: nc,
		hub:    NewHub(eng.Bus(), log),
		mux:    http.NewServeMux(),
		port:   port,
		log:    log,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/research/prompts", s.handlePrompts)
	s.mux.HandleFunc("/api/research/test", s.handleTest)
	s.mux.HandleFunc("/api/research/conduct", s.handleConduct)
	s.mux.HandleFunc("/api/research/runs", s.handleRuns)
	s.mux.HandleFunc("/api/research/runs/", s.handleRunDetail)

	s.mux.HandleFunc("/ws/events", s.hub.HandleWebSocket)
}

// Handler exposes the routed mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.mux)
}

// Start begins serving HTTP and blocks until the listener fails.
func (s *Server) Start() error {
	go s.hub.Run()
	addr := fmt.Sprintf(":%d", s.port)
	s.log.Info("http server listening", zap.String("addr", addr))
	return http.ListenAndServe(addr, corsMiddleware(s.mux))
}

// corsMiddleware adds permissive CORS headers so browser clients on other
// origins can reach the API.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
