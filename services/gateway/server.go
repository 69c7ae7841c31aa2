package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cipherlaunch/launchpad/chain"
	"github.com/cipherlaunch/launchpad/contracts/token"
	"github.com/cipherlaunch/launchpad/pinning"
	"github.com/cipherlaunch/launchpad/schemas"
)

// multipart overhead allowed on top of the file size limit
const formOverhead = 64 * 1024

// Server provides the HTTP API for the launchpad
type Server struct {
	svc    *Service
	logger *zap.Logger
	http   *http.Server
}

// NewServer creates a new HTTP server for the gateway service
func NewServer(svc *Service, port string) *Server {
	s := &Server{
		svc:    svc,
		logger: svc.logger,
	}

	r := mux.NewRouter()
	r.Use(s.instrument)

	r.HandleFunc("/api/ipfs/pinata", s.handleUpload).Methods("POST")

	r.HandleFunc("/api/v1/tokens", s.handleListTokens).Methods("GET")
	r.HandleFunc("/api/v1/tokens", s.handlePrepareCreate).Methods("POST")
	r.HandleFunc("/api/v1/tokens/newest", s.handleNewest).Methods("GET")
	r.HandleFunc("/api/v1/tokens/soaring", s.handleSoaring).Methods("GET")
	r.HandleFunc("/api/v1/tokens/{address}", s.handleGetToken).Methods("GET")
	r.HandleFunc("/api/v1/tokens/{address}/mint", s.handlePrepareMint).Methods("POST")
	r.HandleFunc("/api/v1/tokens/{address}/transfer", s.handlePrepareTransfer).Methods("POST")
	r.HandleFunc("/api/v1/accounts/{address}/tokens", s.handleDashboard).Methods("GET")

	r.HandleFunc("/api/v1/fhe/status", s.handleFHEStatus).Methods("GET")
	r.HandleFunc("/api/v1/fhe/user-decrypt", s.handleRelayer("/v1/user-decrypt")).Methods("POST")
	r.HandleFunc("/api/v1/fhe/input-proof", s.handleRelayer("/v1/input-proof")).Methods("POST")

	r.Handle("/metrics", promhttp.HandlerFor(svc.metrics.registry, promhttp.HandlerOpts{})).Methods("GET")
	r.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.http = &http.Server{
		Addr:    ":" + port,
		Handler: isolationHeaders(corsHeaders(svc.opts.CORSOrigins)(r)),
	}

	return s
}

// Handler returns the full handler chain.
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

// handleUpload forwards a multipart file to Pinata.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !s.svc.opts.Uploader.Configured() {
		writeError(w, http.StatusInternalServerError, pinning.ErrMissingJWT.Error())
		return
	}

	maxBytes := s.svc.opts.MaxUploadBytes
	tooLarge := fmt.Sprintf("Image size cannot exceed %dMB", maxBytes/(1024*1024))

	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+formOverhead)
	if err := r.ParseMultipartForm(maxBytes + formOverhead); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusBadRequest, tooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, "No file selected")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file selected")
		return
	}
	defer file.Close()

	if header.Size > maxBytes {
		writeError(w, http.StatusBadRequest, tooLarge)
		return
	}
	s.svc.metrics.uploads.Observe(float64(header.Size))

	cid, err := s.svc.Upload(r.Context(), header.Filename, file)
	if err != nil {
		s.writeUploadError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"cid": cid})
}

func (s *Server) writeUploadError(w http.ResponseWriter, r *http.Request, err error) {
	var perr *pinning.ProviderError
	switch {
	case errors.As(err, &perr):
		writeError(w, perr.Status, perr.Message)
	case errors.Is(err, pinning.ErrInvalidResponse):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, pinning.ErrMissingJWT):
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		s.logger.Error("upload failed", zap.String("request_id", w.Header().Get(RequestIDHeader)), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":  err.Error(),
			"detail": errorDetail(err),
		})
	}
}

// errorDetail describes a transport failure by its root cause.
func errorDetail(err error) map[string]string {
	root := err
	for {
		next := errors.Unwrap(root)
		if next == nil {
			break
		}
		root = next
	}

	detail := map[string]string{
		"name":  fmt.Sprintf("%T", root),
		"cause": root.Error(),
	}
	var urlErr *url.Error
	var opErr *net.OpError
	switch {
	case errors.As(err, &opErr):
		detail["code"] = opErr.Op
	case errors.As(err, &urlErr):
		detail["code"] = urlErr.Op
	default:
		detail["code"] = ""
	}
	return detail
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}

func (s *Server) handleNewest(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cards, err := s.svc.Newest(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cards)
}

func (s *Server) handleSoaring(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cards, err := s.svc.Soaring(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cards)
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := s.svc.List(r.Context(), uint64(offset), limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	addr, err := chain.ParseAddress(mux.Vars(r)["address"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid token address")
		return
	}
	detail, err := s.svc.Token(r.Context(), addr)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	addr, err := chain.ParseAddress(mux.Vars(r)["address"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid account address")
		return
	}
	rows, err := s.svc.Dashboard(r.Context(), addr)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handlePrepareCreate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	form, err := schemas.ParseFromJSON(body)
	if err != nil {
		var verr *schemas.ValidationError
		if !errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeServiceError(w, err)
		return
	}
	tx, err := s.svc.PrepareCreate(form)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handlePrepareMint(w http.ResponseWriter, r *http.Request) {
	addr, err := chain.ParseAddress(mux.Vars(r)["address"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid token address")
		return
	}
	tx, err := s.svc.PrepareMint(r.Context(), addr)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handlePrepareTransfer(w http.ResponseWriter, r *http.Request) {
	addr, err := chain.ParseAddress(mux.Vars(r)["address"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid token address")
		return
	}
	var req TransferCalldataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	tx, err := s.svc.PrepareTransfer(addr, req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleFHEStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.FHEStatus())
}

func (s *Server) handleRelayer(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil || !json.Valid(body) {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		status, out, err := s.svc.ForwardRelayer(r.Context(), path, body)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write(out)
	}
}

// handleHealth provides health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "launchpad-gateway",
		"fhe":     s.svc.FHEStatus().State,
	})
}

// writeServiceError maps service errors to status codes.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var verr *schemas.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": verr.Message, "field": verr.Field})
	case errors.Is(err, token.ErrNotFound):
		writeError(w, http.StatusNotFound, "Token not found")
	case errors.Is(err, chain.ErrInvalidAddress):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrFactoryNotConfigured), errors.Is(err, errBridgeUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, ErrMintDisabled), errors.Is(err, ErrSoldOut):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("upstream call failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
