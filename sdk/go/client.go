// Package launchpad is the Go SDK for the confidential token launchpad: a
// client for the gateway HTTP API and a Wallet that runs the create, mint,
// decrypt and confidential transfer flows with a local key.
package launchpad

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/cipherlaunch/launchpad/fhe"
	"github.com/cipherlaunch/launchpad/schemas"
	"github.com/cipherlaunch/launchpad/services/gateway"
)

// APIError is a non-2xx gateway response.
type APIError struct {
	Status  int
	Message string
	Field   string
}

func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("gateway returned status %d: %s (%s)", e.Status, e.Message, e.Field)
	}
	return fmt.Sprintf("gateway returned status %d: %s", e.Status, e.Message)
}

// Client talks to the launchpad gateway
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new gateway client
func NewClient(gatewayURL string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimSuffix(gatewayURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
	}
}

// Upload pins a file through the gateway and returns its CID.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("failed to buffer upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize form: %w", err)
	}

	var out struct {
		CID string `json:"cid"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/ipfs/pinata", mw.FormDataContentType(), &body, &out); err != nil {
		return "", err
	}
	c.logger.Debug("uploaded file", zap.String("filename", filename), zap.String("cid", out.CID))
	return out.CID, nil
}

// Newest returns the most recently created tokens.
func (c *Client) Newest(ctx context.Context, limit int) ([]gateway.TokenCard, error) {
	var cards []gateway.TokenCard
	err := c.get(ctx, "/api/v1/tokens/newest"+limitQuery(limit), &cards)
	return cards, err
}

// Soaring returns the newest tokens ordered by mint progress.
func (c *Client) Soaring(ctx context.Context, limit int) ([]gateway.TokenCard, error) {
	var cards []gateway.TokenCard
	err := c.get(ctx, "/api/v1/tokens/soaring"+limitQuery(limit), &cards)
	return cards, err
}

// Tokens pages through the whole catalog.
func (c *Client) Tokens(ctx context.Context, offset uint64, limit int) (*gateway.Page, error) {
	q := url.Values{}
	q.Set("offset", strconv.FormatUint(offset, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var page gateway.Page
	if err := c.get(ctx, "/api/v1/tokens?"+q.Encode(), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Token returns the detail view of one token.
func (c *Client) Token(ctx context.Context, address common.Address) (*gateway.TokenDetail, error) {
	var detail gateway.TokenDetail
	if err := c.get(ctx, "/api/v1/tokens/"+address.Hex(), &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// Dashboard returns the tokens account created, minted or holds.
func (c *Client) Dashboard(ctx context.Context, account common.Address) ([]gateway.DashboardRow, error) {
	var rows []gateway.DashboardRow
	err := c.get(ctx, "/api/v1/accounts/"+account.Hex()+"/tokens", &rows)
	return rows, err
}

// PrepareCreate has the gateway validate the form and build createToken calldata.
func (c *Client) PrepareCreate(ctx context.Context, form *schemas.CreateTokenForm) (*gateway.PreparedTx, error) {
	payload, err := form.ToJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal form: %w", err)
	}
	var tx gateway.PreparedTx
	if err := c.do(ctx, http.MethodPost, "/api/v1/tokens", "application/json", bytes.NewReader(payload), &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// FHEStatus reports the gateway's encryption bridge state.
func (c *Client) FHEStatus(ctx context.Context) (fhe.Status, error) {
	var status fhe.Status
	err := c.get(ctx, "/api/v1/fhe/status", &status)
	return status, err
}

func limitQuery(limit int) string {
	if limit <= 0 {
		return ""
	}
	return "?limit=" + strconv.Itoa(limit)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, "", nil, out)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach gateway: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read gateway response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var e struct {
			Error string `json:"error"`
			Field string `json:"field"`
		}
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			apiErr.Message = e.Error
			apiErr.Field = e.Field
		}
		return apiErr
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse gateway response: %w", err)
	}
	return nil
}
