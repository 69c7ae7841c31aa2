// Package rpctest provides an in-process JSON-RPC node for tests.
package rpctest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Handler answers one JSON-RPC method.
type Handler func(params []json.RawMessage) (any, error)

// CallHandler answers eth_call for one contract and selector.
type CallHandler func(input []byte) ([]byte, error)

// Revert is returned by call handlers to simulate a reverted eth_call.
type Revert string

func (r Revert) Error() string { return "execution reverted: " + string(r) }

// Server is a fake Ethereum node backed by httptest.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]Handler
	calls    map[string]CallHandler
	requests map[string]int
}

// NewServer starts a node with eth_call routing enabled.
func NewServer() *Server {
	s := &Server{
		handlers: make(map[string]Handler),
		calls:    make(map[string]CallHandler),
		requests: make(map[string]int),
	}
	s.handlers["eth_call"] = s.handleCall
	s.Server = httptest.NewServer(http.HandlerFunc(s.serveHTTP))
	return s
}

// Handle registers a method handler.
func (s *Server) Handle(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// HandleCall registers an eth_call handler for to+selector.
func (s *Server) HandleCall(to common.Address, selector []byte, h CallHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[callKey(to, selector)] = h
}

// Requests returns how many times method was invoked.
func (s *Server) Requests(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[method]
}

type request struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")

	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var reqs []request
		if err := json.Unmarshal(body, &reqs); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resps := make([]response, len(reqs))
		for i, req := range reqs {
			resps[i] = s.dispatch(req)
		}
		json.NewEncoder(w).Encode(resps)
		return
	}

	var req request
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	json.NewEncoder(w).Encode(s.dispatch(req))
}

func (s *Server) dispatch(req request) response {
	s.mu.Lock()
	h, ok := s.handlers[req.Method]
	s.requests[req.Method]++
	s.mu.Unlock()

	resp := response{JSONRPC: "2.0", ID: req.ID}
	if !ok {
		resp.Error = &rpcError{Code: -32601, Message: "method not found: " + req.Method}
		return resp
	}

	result, err := h(req.Params)
	if err != nil {
		code := -32000
		if _, ok := err.(Revert); ok {
			code = 3
		}
		resp.Error = &rpcError{Code: code, Message: err.Error()}
		return resp
	}
	if result == nil {
		result = json.RawMessage("null")
	}
	resp.Result = result
	return resp
}

func (s *Server) handleCall(params []json.RawMessage) (any, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("missing call params")
	}
	var msg struct {
		To    common.Address `json:"to"`
		Data  hexutil.Bytes  `json:"data"`
		Input hexutil.Bytes  `json:"input"`
	}
	if err := json.Unmarshal(params[0], &msg); err != nil {
		return nil, err
	}
	input := msg.Input
	if len(input) == 0 {
		input = msg.Data
	}
	if len(input) < 4 {
		return nil, Revert("no selector")
	}

	s.mu.Lock()
	h, ok := s.calls[callKey(msg.To, input[:4])]
	s.mu.Unlock()
	if !ok {
		return nil, Revert("unknown selector")
	}

	out, err := h(input[4:])
	if err != nil {
		return nil, err
	}
	return hexutil.Bytes(out), nil
}

func callKey(to common.Address, selector []byte) string {
	return strings.ToLower(to.Hex()) + ":" + common.Bytes2Hex(selector[:4])
}

// Pack ABI-encodes values for the given solidity types.
func Pack(typeNames []string, values ...any) []byte {
	args := make(abi.Arguments, len(typeNames))
	for i, name := range typeNames {
		t, err := abi.NewType(name, "", nil)
		if err != nil {
			panic(err)
		}
		args[i] = abi.Argument{Type: t}
	}
	out, err := args.Pack(values...)
	if err != nil {
		panic(err)
	}
	return out
}

// PackTuple ABI-encodes one tuple value described by components.
func PackTuple(components []abi.ArgumentMarshaling, value any) []byte {
	t, err := abi.NewType("tuple", "", components)
	if err != nil {
		panic(err)
	}
	out, err := abi.Arguments{{Type: t}}.Pack(value)
	if err != nil {
		panic(err)
	}
	return out
}

// Unpack decodes call input for the given solidity types.
func Unpack(typeNames []string, input []byte) []any {
	args := make(abi.Arguments, len(typeNames))
	for i, name := range typeNames {
		t, err := abi.NewType(name, "", nil)
		if err != nil {
			panic(err)
		}
		args[i] = abi.Argument{Type: t}
	}
	vals, err := args.Unpack(input)
	if err != nil {
		panic(err)
	}
	return vals
}

// Static returns a call handler that always answers out.
func Static(out []byte) CallHandler {
	return func([]byte) ([]byte, error) { return out, nil }
}
