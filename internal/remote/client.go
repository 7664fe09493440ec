package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kilupskalvis/listings/internal/listing"
	"github.com/kilupskalvis/listings/internal/models"
)

// HTTPClient performs listing operations against a listings server. The
// caller identity is the principal of the bearer token. Reads are retried on
// transient failures; mutations are sent once.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retry      *RetryConfig
}

// NewHTTPClient creates a client for the server at baseURL. A nil retry
// config uses DefaultRetryConfig.
func NewHTTPClient(baseURL, token string, retry *RetryConfig) *HTTPClient {
	if retry == nil {
		retry = DefaultRetryConfig()
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retry:      retry,
	}
}

func (c *HTTPClient) houseURL(path string, query url.Values) string {
	u := c.baseURL + "/api/v1/houses" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func idPath(id uint64, suffix string) string {
	return "/" + strconv.FormatUint(id, 10) + suffix
}

func (c *HTTPClient) do(ctx context.Context, method, url string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}

	return resp, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, url string, reqBody, respBody interface{}) error {
	var body io.Reader
	headers := map[string]string{}

	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
		headers["Content-Type"] = "application/json"
	}

	resp, err := c.do(ctx, method, url, body, headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if respBody != nil {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			return &decodeResponseError{err: err}
		}
	}

	return nil
}

// get performs a retried GET.
func (c *HTTPClient) get(ctx context.Context, operation, url string, respBody interface{}) error {
	return c.retry.retry(ctx, operation, func() error {
		return c.doJSON(ctx, http.MethodGet, url, nil, respBody)
	})
}

func (c *HTTPClient) houses(ctx context.Context, operation, url string) ([]*models.House, error) {
	houses := []*models.House{}
	if err := c.get(ctx, operation, url, &houses); err != nil {
		return nil, err
	}
	return houses, nil
}

func (c *HTTPClient) house(ctx context.Context, method, url string, reqBody interface{}) (*models.House, error) {
	var h models.House
	if err := c.doJSON(ctx, method, url, reqBody, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Get returns one house.
func (c *HTTPClient) Get(ctx context.Context, id uint64) (*models.House, error) {
	var h models.House
	if err := c.get(ctx, "get house", c.houseURL(idPath(id, ""), nil), &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// List returns every house in id order.
func (c *HTTPClient) List(ctx context.Context) ([]*models.House, error) {
	return c.houses(ctx, "list houses", c.houseURL("", nil))
}

// ListAvailable returns the houses with a unit for sale.
func (c *HTTPClient) ListAvailable(ctx context.Context) ([]*models.House, error) {
	return c.houses(ctx, "list available houses", c.houseURL("/available", nil))
}

// Search returns houses whose owner name or house type contains query.
func (c *HTTPClient) Search(ctx context.Context, query string) ([]*models.House, error) {
	return c.houses(ctx, "search houses", c.houseURL("/search", url.Values{"q": {query}}))
}

// SearchPrice returns houses priced at exactly price.
func (c *HTTPClient) SearchPrice(ctx context.Context, price uint64) ([]*models.House, error) {
	q := url.Values{"amount": {strconv.FormatUint(price, 10)}}
	return c.houses(ctx, "search houses by price", c.houseURL("/search/price", q))
}

// SortByOwnerName returns every house ordered by owner name.
func (c *HTTPClient) SortByOwnerName(ctx context.Context) ([]*models.House, error) {
	return c.houses(ctx, "list sorted houses", c.houseURL("/sorted", nil))
}

// AvailabilityOf returns the stored and effective availability in one call.
func (c *HTTPClient) AvailabilityOf(ctx context.Context, id uint64) (*AvailabilityResponse, error) {
	var resp AvailabilityResponse
	if err := c.get(ctx, "get availability", c.houseURL(idPath(id, "/availability"), nil), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Availability returns the stored availability flag.
func (c *HTTPClient) Availability(ctx context.Context, id uint64) (bool, error) {
	resp, err := c.AvailabilityOf(ctx, id)
	if err != nil {
		return false, err
	}
	return resp.Available, nil
}

// EffectiveAvailability reports whether a unit can be bought.
func (c *HTTPClient) EffectiveAvailability(ctx context.Context, id uint64) (bool, error) {
	resp, err := c.AvailabilityOf(ctx, id)
	if err != nil {
		return false, err
	}
	return resp.Effective, nil
}

// UpdateHistory returns the change records of a house.
func (c *HTTPClient) UpdateHistory(ctx context.Context, id uint64) ([]models.ChangeRecord, error) {
	history := []models.ChangeRecord{}
	if err := c.get(ctx, "get history", c.houseURL(idPath(id, "/history"), nil), &history); err != nil {
		return nil, err
	}
	return history, nil
}

// Create adds a house owned by the token's principal.
func (c *HTTPClient) Create(ctx context.Context, p models.HousePayload) (*models.House, error) {
	return c.house(ctx, http.MethodPost, c.houseURL("", nil), p)
}

// Update replaces the mutable fields of a house.
func (c *HTTPClient) Update(ctx context.Context, id uint64, p models.HousePayload) (*models.House, error) {
	return c.house(ctx, http.MethodPut, c.houseURL(idPath(id, ""), nil), p)
}

// Buy purchases one unit under the guarded policy.
func (c *HTTPClient) Buy(ctx context.Context, id uint64) (*models.House, error) {
	return c.house(ctx, http.MethodPost, c.houseURL(idPath(id, "/buy"), nil), nil)
}

// BuyWithPayload purchases under the overwrite policy.
func (c *HTTPClient) BuyWithPayload(ctx context.Context, id uint64, p models.HousePayload) (*models.House, error) {
	return c.house(ctx, http.MethodPost, c.houseURL(idPath(id, "/buy"), nil), p)
}

// Delete removes a house and returns its last state.
func (c *HTTPClient) Delete(ctx context.Context, id uint64) (*models.House, error) {
	return c.house(ctx, http.MethodDelete, c.houseURL(idPath(id, ""), nil), nil)
}

// SetAvailable sets the availability flag.
func (c *HTTPClient) SetAvailable(ctx context.Context, id uint64) (*models.House, error) {
	return c.house(ctx, http.MethodPost, c.houseURL(idPath(id, "/available"), nil), nil)
}

// SetUnavailable clears the availability flag.
func (c *HTTPClient) SetUnavailable(ctx context.Context, id uint64) (*models.House, error) {
	return c.house(ctx, http.MethodPost, c.houseURL(idPath(id, "/unavailable"), nil), nil)
}

// SetPrice changes the price of a house.
func (c *HTTPClient) SetPrice(ctx context.Context, id uint64, price uint64) (*models.House, error) {
	return c.house(ctx, http.MethodPut, c.houseURL(idPath(id, "/price"), nil), PriceRequest{Price: price})
}

// RemoteError is a server error that does not carry a listing error kind,
// such as a failed authentication or an internal error.
type RemoteError struct {
	Code    string
	Message string
	Status  int
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error (%d): %s: %s", e.Status, e.Code, e.Message)
}

type decodeResponseError struct {
	err error
}

func (e *decodeResponseError) Error() string {
	return "decode response: " + e.err.Error()
}

func (e *decodeResponseError) Unwrap() error {
	return e.err
}

// decodeError turns an error response into a *listing.Error when the server
// reported a listing error kind, so callers can match the listing sentinels.
func decodeError(resp *http.Response) error {
	var errResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return &RemoteError{
			Code:    "unknown",
			Message: fmt.Sprintf("HTTP %d", resp.StatusCode),
			Status:  resp.StatusCode,
		}
	}

	switch kind := listing.Kind(errResp.Error); kind {
	case listing.KindNotFound, listing.KindInvalidInput, listing.KindAuthenticationFailed, listing.KindNoUnitAvailable:
		return &listing.Error{Kind: kind, Message: errResp.Message}
	}

	return &RemoteError{
		Code:    errResp.Error,
		Message: errResp.Message,
		Status:  resp.StatusCode,
	}
}
