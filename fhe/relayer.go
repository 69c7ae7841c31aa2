package fhe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// RelayerError carries a non-2xx relayer response.
type RelayerError struct {
	Status  int
	Message string
}

func (e *RelayerError) Error() string {
	return fmt.Sprintf("relayer returned status %d: %s", e.Status, e.Message)
}

// KeyInfo describes the network public key advertised by the relayer.
type KeyInfo struct {
	PublicKeyID  string `json:"publicKeyId"`
	PublicKeyURL string `json:"publicKeyUrl"`
	CRSURL       string `json:"crsUrl,omitempty"`
}

// HandleContractPair names one ciphertext handle and the contract holding it.
type HandleContractPair struct {
	Handle          common.Hash    `json:"handle"`
	ContractAddress common.Address `json:"contractAddress"`
}

type requestValidity struct {
	StartTimestamp string `json:"startTimestamp"`
	DurationDays   string `json:"durationDays"`
}

type userDecryptBody struct {
	HandleContractPairs []HandleContractPair `json:"handleContractPairs"`
	RequestValidity     requestValidity      `json:"requestValidity"`
	ContractsChainID    string               `json:"contractsChainId"`
	ContractAddresses   []common.Address     `json:"contractAddresses"`
	UserAddress         common.Address       `json:"userAddress"`
	Signature           string               `json:"signature"`
	PublicKey           string               `json:"publicKey"`
}

// SealedResult is one re-encrypted handle.
type SealedResult struct {
	Handle common.Hash `json:"handle"`
	Sealed SealedValue `json:"sealed"`
}

type inputValue struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type inputProofBody struct {
	ContractAddress common.Address `json:"contractAddress"`
	UserAddress     common.Address `json:"userAddress"`
	ContractChainID string         `json:"contractChainId"`
	Values          []inputValue   `json:"values"`
}

// EncryptedInput is an encrypted value ready for a contract call.
type EncryptedInput struct {
	Handles    []common.Hash `json:"handles"`
	InputProof hexutil.Bytes `json:"inputProof"`
}

// RelayerClient talks to the relayer HTTP API.
type RelayerClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewRelayerClient creates a client for baseURL.
func NewRelayerClient(baseURL string) *RelayerClient {
	return &RelayerClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// KeyURL fetches the network key description.
func (c *RelayerClient) KeyURL(ctx context.Context) (KeyInfo, error) {
	var out struct {
		Response struct {
			FHEKeyInfo []struct {
				FHEPublicKey struct {
					DataID string   `json:"data_id"`
					URLs   []string `json:"urls"`
				} `json:"fhe_public_key"`
			} `json:"fhe_key_info"`
			CRS map[string]struct {
				DataID string   `json:"data_id"`
				URLs   []string `json:"urls"`
			} `json:"crs"`
		} `json:"response"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/keyurl", nil, &out); err != nil {
		return KeyInfo{}, err
	}
	if len(out.Response.FHEKeyInfo) == 0 || len(out.Response.FHEKeyInfo[0].FHEPublicKey.URLs) == 0 {
		return KeyInfo{}, fmt.Errorf("relayer advertised no public key")
	}

	pk := out.Response.FHEKeyInfo[0].FHEPublicKey
	info := KeyInfo{PublicKeyID: pk.DataID, PublicKeyURL: pk.URLs[0]}
	if crs, ok := out.Response.CRS["2048"]; ok && len(crs.URLs) > 0 {
		info.CRSURL = crs.URLs[0]
	}
	return info, nil
}

// UserDecrypt posts a signed user-decryption request.
func (c *RelayerClient) UserDecrypt(ctx context.Context, body userDecryptBody) ([]SealedResult, error) {
	var out struct {
		Response []SealedResult `json:"response"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/user-decrypt", body, &out); err != nil {
		return nil, err
	}
	return out.Response, nil
}

// InputProof asks the relayer to encrypt values and produce an input proof.
func (c *RelayerClient) InputProof(ctx context.Context, body inputProofBody) (EncryptedInput, error) {
	var out struct {
		Response EncryptedInput `json:"response"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/input-proof", body, &out); err != nil {
		return EncryptedInput{}, err
	}
	if len(out.Response.Handles) == 0 {
		return EncryptedInput{}, fmt.Errorf("relayer returned no handles")
	}
	return out.Response, nil
}

// Forward proxies a raw JSON request to path and returns the status and body.
func (c *RelayerClient) Forward(ctx context.Context, path string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to reach relayer: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read relayer response: %w", err)
	}
	return resp.StatusCode, raw, nil
}

func (c *RelayerClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach relayer: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read relayer response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(raw))
		var e struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if json.Unmarshal(raw, &e) == nil {
			if e.Message != "" {
				msg = e.Message
			} else if e.Error != "" {
				msg = e.Error
			}
		}
		return &RelayerError{Status: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode relayer response: %w", err)
	}
	return nil
}
