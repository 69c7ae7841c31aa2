package indexer

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cipherlaunch/launchpad/chain"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server provides HTTP API for indexer read models
type Server struct {
	indexer *Service
	http    *http.Server
}

// NewServer creates a new HTTP server for the indexer
func NewServer(svc *Service, port string) *Server {
	s := &Server{
		indexer: svc,
	}

	r := mux.NewRouter()

	r.HandleFunc("/api/v1/tokens", s.handleGetTokens).Methods("GET")
	r.HandleFunc("/api/v1/tokens/{address}", s.handleGetToken).Methods("GET")
	r.HandleFunc("/api/v1/creators/{address}/tokens", s.handleGetCreatorTokens).Methods("GET")
	r.Handle("/api/v1/ws", svc.hub)

	r.Handle("/metrics", promhttp.HandlerFor(svc.metrics.registry, promhttp.HandlerOpts{})).Methods("GET")
	r.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.http = &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return s.http.ListenAndServe()
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleGetTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := s.indexer.tokens.QueryTokens()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	addr, err := chain.ParseAddress(mux.Vars(r)["address"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid address")
		return
	}

	token, ok := s.indexer.tokens.QueryToken(addr)
	if !ok {
		writeError(w, http.StatusNotFound, "Token not found")
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (s *Server) handleGetCreatorTokens(w http.ResponseWriter, r *http.Request) {
	addr, err := chain.ParseAddress(mux.Vars(r)["address"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid address")
		return
	}

	tokens, err := s.indexer.tokens.QueryByCreator(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

// handleHealth provides health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"service":     "token-indexer",
		"tokens":      s.indexer.tokens.Len(),
		"subscribers": s.indexer.hub.Len(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
