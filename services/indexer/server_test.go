package indexer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededService(t *testing.T) *Service {
	t.Helper()
	svc := NewService(Options{Port: "8081"})
	svc.handleEvent(TokenEvent{Source: SourceFactory, Token: tokenA, Creator: creatorA, Name: "Alpha", Symbol: "ALP", Index: index(0)})
	svc.handleEvent(TokenEvent{Source: SourceFactory, Token: tokenB, Creator: creatorB, Name: "Beta", Symbol: "BET", Index: index(1)})
	svc.handleEvent(TokenEvent{Source: SourceFactory, Token: tokenC, Creator: creatorA, Name: "Gamma", Symbol: "GAM", Index: index(2)})
	return svc
}

func TestNewServer(t *testing.T) {
	svc := NewService(Options{Port: "8081"})
	server := NewServer(svc, "8081")

	assert.NotNil(t, server)
	assert.Equal(t, svc, server.indexer)
	assert.Equal(t, ":8081", server.http.Addr)
}

func TestServer_handleGetTokens(t *testing.T) {
	svc := seededService(t)

	req := httptest.NewRequest("GET", "/api/v1/tokens", nil)
	w := httptest.NewRecorder()
	svc.server.handleGetTokens(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var tokens []TokenRecord
	require.NoError(t, json.NewDecoder(w.Body).Decode(&tokens))
	require.Len(t, tokens, 3)
	assert.Equal(t, "Alpha", tokens[0].Name)
	assert.Equal(t, tokenC, tokens[2].Token)
}

func TestServer_handleGetToken(t *testing.T) {
	svc := seededService(t)

	tests := []struct {
		name       string
		address    string
		wantStatus int
	}{
		{"found", tokenB.Hex(), http.StatusOK},
		{"lowercase", "0x00000000000000000000000000000000000000a2", http.StatusOK},
		{"unknown", "0x00000000000000000000000000000000000000ff", http.StatusNotFound},
		{"invalid", "0x1234", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/tokens/"+tt.address, nil)
			req = mux.SetURLVars(req, map[string]string{"address": tt.address})
			w := httptest.NewRecorder()
			svc.server.handleGetToken(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				var rec TokenRecord
				require.NoError(t, json.NewDecoder(w.Body).Decode(&rec))
				assert.Equal(t, "Beta", rec.Name)
			}
		})
	}
}

func TestServer_handleGetCreatorTokens(t *testing.T) {
	svc := seededService(t)

	req := httptest.NewRequest("GET", "/api/v1/creators/"+creatorA.Hex()+"/tokens", nil)
	req = mux.SetURLVars(req, map[string]string{"address": creatorA.Hex()})
	w := httptest.NewRecorder()
	svc.server.handleGetCreatorTokens(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var tokens []TokenRecord
	require.NoError(t, json.NewDecoder(w.Body).Decode(&tokens))
	require.Len(t, tokens, 2)
	assert.Equal(t, tokenA, tokens[0].Token)
	assert.Equal(t, tokenC, tokens[1].Token)
}

func TestServer_Routes(t *testing.T) {
	svc := seededService(t)
	handler := svc.server.Handler()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, float64(3), health["tokens"])

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `launchpad_indexer_events_total{source="factory"} 3`)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/tokens", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
