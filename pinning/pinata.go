// Package pinning uploads token icons to IPFS through Pinata.
package pinning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultEndpoint is Pinata's file pinning API.
const DefaultEndpoint = "https://api.pinata.cloud/pinning/pinFileToIPFS"

// DefaultFilename is used when the upload carries no name.
const DefaultFilename = "upload"

var (
	// ErrMissingJWT means the server has no Pinata credentials.
	ErrMissingJWT = errors.New("Missing PINATA_JWT on server")
	// ErrInvalidResponse means Pinata answered 2xx without an IpfsHash.
	ErrInvalidResponse = errors.New("Pinata returned invalid response")
)

// ProviderError carries a non-2xx Pinata response through to the caller.
type ProviderError struct {
	Status  int
	Message string
}

func (e *ProviderError) Error() string {
	return e.Message
}

// Client pins files to IPFS.
type Client struct {
	endpoint   string
	jwt        string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a Pinata client. An empty endpoint selects DefaultEndpoint.
func NewClient(endpoint, jwt string, logger *zap.Logger) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		endpoint: endpoint,
		jwt:      jwt,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
	}
}

// Configured reports whether a JWT is present.
func (c *Client) Configured() bool {
	return c.jwt != ""
}

// PinFile uploads the content of r as filename and returns its CID.
func (c *Client) PinFile(ctx context.Context, filename string, r io.Reader) (string, error) {
	if !c.Configured() {
		return "", ErrMissingJWT
	}
	if filename == "" {
		filename = DefaultFilename
	}

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

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.jwt)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to reach pinata: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read pinata response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		perr := &ProviderError{Status: resp.StatusCode, Message: providerMessage(resp.Header.Get("Content-Type"), raw)}
		c.logger.Warn("pinata rejected upload",
			zap.Int("status", perr.Status),
			zap.String("message", perr.Message))
		return "", perr
	}

	var out struct {
		IpfsHash string `json:"IpfsHash"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || out.IpfsHash == "" {
		return "", ErrInvalidResponse
	}

	c.logger.Info("pinned file",
		zap.String("filename", filename),
		zap.String("cid", out.IpfsHash))
	return out.IpfsHash, nil
}

// providerMessage extracts error, then message, from a JSON body; other
// bodies are passed through as text.
func providerMessage(contentType string, raw []byte) string {
	if strings.Contains(contentType, "application/json") {
		var body struct {
			Error   json.RawMessage `json:"error"`
			Message json.RawMessage `json:"message"`
		}
		if err := json.Unmarshal(raw, &body); err == nil {
			if s := rawString(body.Error); s != "" {
				return s
			}
			if s := rawString(body.Message); s != "" {
				return s
			}
		}
	}
	if s := strings.TrimSpace(string(raw)); s != "" {
		return s
	}
	return "Pinata upload failed"
}

// rawString renders a JSON value as text; objects stay JSON.
func rawString(v json.RawMessage) string {
	if len(v) == 0 || string(v) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return string(v)
}

// GatewayURL returns https://<gateway>/ipfs/<cid>, or "" when either part is missing.
func GatewayURL(gateway, cid string) string {
	gateway = strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(gateway, "https://"), "http://"), "/")
	if gateway == "" || cid == "" {
		return ""
	}
	return "https://" + gateway + "/ipfs/" + cid
}
