package sealed

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tripstack/credstore/pkg/credential"
)

// ServiceClient talks to the envelope-encryption service over HTTP.
// The service exposes POST /v1/encrypt and POST /v1/decrypt; blobs are
// opaque to credstore and travel base64-encoded in JSON.
type ServiceClient struct {
	baseURL string
	token   *Buffer
	client  *http.Client
}

// NewServiceClient builds a client for the encryption service at
// baseURL. The bearer token is copied into protected memory; the caller
// should zero its own copy.
func NewServiceClient(baseURL string, token []byte, timeout time.Duration) (*ServiceClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("sealed: encryption service URL is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &ServiceClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
	if len(token) > 0 {
		buf, err := NewBuffer(token)
		if err != nil {
			return nil, err
		}
		c.token = buf
	}
	return c, nil
}

type encryptRequest struct {
	Payload map[string]string `json:"payload"`
}

type encryptResponse struct {
	Blob string `json:"blob"`
}

type decryptRequest struct {
	Blob string `json:"blob"`
}

type decryptResponse struct {
	Payload map[string]string `json:"payload"`
}

// Seal implements Sealer.
func (c *ServiceClient) Seal(ctx context.Context, fields map[string]string) ([]byte, error) {
	var resp encryptResponse
	if err := c.post(ctx, "/v1/encrypt", encryptRequest{Payload: fields}, &resp); err != nil {
		return nil, err
	}
	blob, err := base64.StdEncoding.DecodeString(resp.Blob)
	if err != nil {
		return nil, &credential.TransportError{
			Backend: "encryption-service", Op: "encrypt",
			Err: fmt.Errorf("malformed blob in response: %w", err),
		}
	}
	return blob, nil
}

// Unseal implements Sealer.
func (c *ServiceClient) Unseal(ctx context.Context, blob []byte) (map[string]string, error) {
	var resp decryptResponse
	req := decryptRequest{Blob: base64.StdEncoding.EncodeToString(blob)}
	if err := c.post(ctx, "/v1/decrypt", req, &resp); err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

func (c *ServiceClient) post(ctx context.Context, path string, in, out interface{}) error {
	op := "encrypt"
	if path == "/v1/decrypt" {
		op = "decrypt"
	}

	body, err := json.Marshal(in)
	if err != nil {
		return &credential.TransportError{Backend: "encryption-service", Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return &credential.TransportError{Backend: "encryption-service", Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	if c.token != nil {
		locked, err := c.token.Open()
		if err != nil {
			return &credential.TransportError{Backend: "encryption-service", Op: op, Err: err}
		}
		req.Header.Set("Authorization", "Bearer "+locked.String())
		locked.Destroy()
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &credential.TransportError{Backend: "encryption-service", Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return &credential.TransportError{
			Backend: "encryption-service", Op: op,
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(snippet)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &credential.TransportError{Backend: "encryption-service", Op: op, Err: err}
	}
	return nil
}
