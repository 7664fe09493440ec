package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// AdminClient manages tokens through the /admin endpoints of a listings
// server. It authenticates with the server's admin token.
type AdminClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewAdminClient creates an admin API client. Warns if baseURL uses http://.
func NewAdminClient(baseURL, token string) *AdminClient {
	if strings.HasPrefix(baseURL, "http://") {
		fmt.Fprintf(os.Stderr, "warning: sending credentials over unencrypted HTTP connection\n")
	}
	return &AdminClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type adminTokenCreateReq struct {
	Description string `json:"description"`
	Principal   string `json:"principal"`
	Permission  string `json:"permission"`
}

// AdminTokenCreateResponse carries the raw token, which the server returns
// only once.
type AdminTokenCreateResponse struct {
	Token       string `json:"token"`
	ID          string `json:"id"`
	Principal   string `json:"principal"`
	Description string `json:"description"`
	Permission  string `json:"permission"`
}

// AdminTokenInfo is one entry in the GET /admin/tokens response.
type AdminTokenInfo struct {
	ID          string `json:"id"`
	Principal   string `json:"principal"`
	Description string `json:"description"`
	Permission  string `json:"permission"`
}

func (c *AdminClient) do(ctx context.Context, method, url string, reqBody, respBody interface{}) error {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if respBody != nil {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// CreateToken mints a token acting as principal.
func (c *AdminClient) CreateToken(ctx context.Context, desc, principal, permission string) (*AdminTokenCreateResponse, error) {
	req := adminTokenCreateReq{Description: desc, Principal: principal, Permission: permission}
	var resp AdminTokenCreateResponse
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/admin/tokens", req, &resp); err != nil {
		return nil, fmt.Errorf("create token: %w", err)
	}
	return &resp, nil
}

// ListTokens returns all token metadata. Raw token values are never returned.
func (c *AdminClient) ListTokens(ctx context.Context) ([]AdminTokenInfo, error) {
	var tokens []AdminTokenInfo
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/admin/tokens", nil, &tokens); err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	return tokens, nil
}

// DeleteToken revokes a token.
func (c *AdminClient) DeleteToken(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, c.baseURL+"/admin/tokens/"+id, nil, nil); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}
