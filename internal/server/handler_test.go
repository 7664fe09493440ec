package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/kilupskalvis/listings/internal/listing"
	"github.com/kilupskalvis/listings/internal/models"
	"github.com/kilupskalvis/listings/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	aliceToken  = "alice-token"
	bobToken    = "bob-token"
	readerToken = "reader-token"
	adminToken  = "admin-secret"
)

// testTokenStore implements TokenStore for tests.
type testTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*TokenInfo
}

func newTestTokenStore() *testTokenStore {
	ts := &testTokenStore{tokens: make(map[string]*TokenInfo)}
	ts.add(aliceToken, "tok-alice", "alice", PermissionReadWrite)
	ts.add(bobToken, "tok-bob", "bob", PermissionReadWrite)
	ts.add(readerToken, "tok-reader", "", PermissionRead)
	return ts
}

func (t *testTokenStore) add(raw, id, principal, perm string) {
	t.tokens[HashToken(raw)] = &TokenInfo{ID: id, TokenHash: HashToken(raw), Principal: principal, Permission: perm}
}

func (t *testTokenStore) GetByHash(hash string) (*TokenInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tokens[hash], nil
}

func (t *testTokenStore) UpdateLastUsed(_ string) error {
	return nil
}

func (t *testTokenStore) ListTokens() ([]*TokenInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tokens := make([]*TokenInfo, 0, len(t.tokens))
	for _, tok := range t.tokens {
		tokens = append(tokens, tok)
	}
	return tokens, nil
}

func (t *testTokenStore) DeleteToken(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for hash, tok := range t.tokens {
		if tok.ID == id {
			delete(t.tokens, hash)
			return nil
		}
	}
	return fmt.Errorf("token '%s': %w", id, ErrTokenNotFound)
}

func (t *testTokenStore) CreateToken(desc, principal, permission string) (string, *TokenInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rawToken := "test-created-token"
	info := &TokenInfo{
		ID:         "tok-new",
		TokenHash:  HashToken(rawToken),
		Principal:  principal,
		Desc:       desc,
		Permission: permission,
	}
	t.tokens[info.TokenHash] = info
	return rawToken, info, nil
}

type testEnv struct {
	srv     *httptest.Server
	svc     *listing.Service
	metrics *Metrics
}

func newTestServer(t *testing.T, policy listing.Policy, cfg *Config) *testEnv {
	t.Helper()

	st, err := store.NewBboltStore(filepath.Join(t.TempDir(), "listings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	var tick uint64
	metrics := NewMetrics()
	svc, err := listing.NewService(st, listing.Config{
		Clock:    listing.ClockFunc(func() uint64 { tick += 10; return tick }),
		Policy:   policy,
		Notifier: metrics,
	})
	require.NoError(t, err)

	if cfg == nil {
		cfg = DefaultConfig()
		cfg.AdminToken = adminToken
	}
	h, cleanup := Handler(svc, newTestTokenStore(), cfg, metrics, slog.Default())
	t.Cleanup(cleanup)

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, svc: svc, metrics: metrics}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) (int, []byte) {
	t.Helper()

	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.srv.URL+path, r)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func housePayload(owner string, units uint64) models.HousePayload {
	return models.HousePayload{
		OwnerName:      owner,
		HouseType:      "Apartment",
		Location:       "Riga",
		AvailableUnits: units,
		Price:          500,
		Availability:   true,
	}
}

func (e *testEnv) create(t *testing.T, token string, p models.HousePayload) *models.House {
	t.Helper()
	status, body := e.do(t, http.MethodPost, "/api/v1/houses", token, p)
	require.Equal(t, http.StatusCreated, status, string(body))
	return decode[*models.House](t, body)
}

// ==================== Health ====================

func TestHealthz(t *testing.T) {
	env := newTestServer(t, listing.DefaultPolicy(), nil)

	status, body := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", string(body))

	status, _ = env.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, status)
}

// ==================== Auth ====================

func TestAuth(t *testing.T) {
	env := newTestServer(t, listing.DefaultPolicy(), nil)

	status, body := env.do(t, http.MethodGet, "/api/v1/houses", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "auth_failed", decode[errorBody](t, body).Error)

	status, _ = env.do(t, http.MethodGet, "/api/v1/houses", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = env.do(t, http.MethodGet, "/api/v1/houses", readerToken, nil)
	assert.Equal(t, http.StatusOK, status)

	status, body = env.do(t, http.MethodPost, "/api/v1/houses", readerToken, housePayload("Alice", 1))
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", decode[errorBody](t, body).Error)
}

// ==================== Create / Get ====================

func TestCreateAndGet(t *testing.T) {
	env := newTestServer(t, listing.DefaultPolicy(), nil)

	created := env.create(t, aliceToken, housePayload("Alice", 2))
	assert.Equal(t, uint64(1), created.ID)
	assert.Equal(t, "alice", created.Realtor)
	assert.Nil(t, created.UpdatedAt)

	status, body := env.do(t, http.MethodGet, "/api/v1/houses/1", readerToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, created, decode[*models.House](t, body))
	assert.NotContains(t, string(body), "updated_at")
}

func TestGet_Errors(t *testing.T) {
	env := newTestServer(t, listing.DefaultPolicy(), nil)

	status, body := env.do(t, http.MethodGet, "/api/v1/houses/9", aliceToken, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, errorBody{Error: "not_found", Message: "a house with id=9 not found"}, decode[errorBody](t, body))

	status, body = env.do(t, http.MethodGet, "/api/v1/houses/abc", aliceToken, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_input", decode[errorBody](t, body).Error)
}

func TestCreate_Invalid(t *testing.T) {
	env := newTestServer(t, listing.DefaultPolicy(), nil)

	status, body := env.do(t, http.MethodPost, "/api/v1/houses", aliceToken, housePayload(" ", 1))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_input", decode[errorBody](t, body).Error)

	status, _ = env.do(t, http.MethodPost, "/api/v1/houses", aliceToken, "{not json")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = env.do(t, http.MethodPost, "/api/v1/houses", aliceToken, `{"owner_name":"A","house_type":"B","location":"C","price":-1}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

// ==================== Update / Delete ====================

func TestUpdate_OwnershipAndStamp(t *testing.T) {
	env := newTestServer(t, listing.DefaultPolicy(), nil)
	created := env.create(t, aliceToken, housePayload("Alice", 2))

	status, body := env.do(t, http.MethodPut, "/api/v1/houses/1", bobToken, housePayload("Bob", 9))
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "authentication_failed", decode[errorBody](t, body).Error)

	status, body = env.do(t, http.MethodPut, "/api/v1/houses/1", aliceToken, housePayload("Alice Cooper", 5))
	require.Equal(t, http.StatusOK, status)
	updated := decode[*models.House](t, body)
	assert.Equal(t, "Alice Cooper", updated.OwnerName)
	require.NotNil(t, updated.UpdatedAt)
	assert.Greater(t, *updated.UpdatedAt, created.CreatedAt)

	status, body = env.do(t, http.MethodGet, "/api/v1/houses/1/history", readerToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []models.ChangeRecord{
		{Timestamp: *updated.UpdatedAt, ChangeType: models.ChangeUpdate},
		{Timestamp: created.CreatedAt, ChangeType: models.ChangeCreation},
	}, decode[[]models.ChangeRecord](t, body))
}

func TestDelete(t *testing.T) {
	env := newTestServer(t, listing.DefaultPolicy(), nil)
	env.create(t, aliceToken, housePayload("Alice", 2))

	status, _ := env.do(t, http.MethodDelete, "/api/v1/houses/1", bobToken, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = env.do(t, http.MethodDelete, "/api/v1/houses/1", aliceToken, nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = env.do(t, http.MethodDelete, "/api/v1/houses/1", aliceToken, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, body := env.do(t, http.MethodGet, "/api/v1/houses/1/history", aliceToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[]`, string(body))
}

// ==================== Buy ====================

func TestBuy_Guarded(t *testing.T) {
	env := newTestServer(t, listing.DefaultPolicy(), nil)
	env.create(t, aliceToken, housePayload("Alice", 1))

	status, body := env.do(t, http.MethodPost, "/api/v1/houses/1/buy", bobToken, nil)
	require.Equal(t, http.StatusOK, status)
	bought := decode[*models.House](t, body)
	assert.Equal(t, uint64(0), bought.AvailableUnits)
	assert.False(t, bought.Availability)
	assert.Equal(t, []string{"bob"}, bought.Buyers)

	status, body = env.do(t, http.MethodPost, "/api/v1/houses/1/buy", bobToken, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "no_unit_available", decode[errorBody](t, body).Error)
}

func TestBuy_Overwrite(t *testing.T) {
	env := newTestServer(t, listing.Policy{Ownership: listing.OwnershipOpen, Buy: listing.BuyOverwrite}, nil)
	env.create(t, aliceToken, housePayload("Alice", 1))

	status, _ := env.do(t, http.MethodPost, "/api/v1/houses/1/buy", bobToken, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body := env.do(t, http.MethodPost, "/api/v1/houses/1/buy", bobToken, housePayload("Alice", 3))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, uint64(2), decode[*models.House](t, body).AvailableUnits)
}

// ==================== Flags and price ====================

func TestAvailabilityEndpoints(t *testing.T) {
	env := newTestServer(t, listing.DefaultPolicy(), nil)
	env.create(t, aliceToken, housePayload("Alice", 0))

	status, body := env.do(t, http.MethodGet, "/api/v1/houses/1/availability", readerToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, availabilityResponse{ID: 1, Available: true, Effective: false}, decode[availabilityResponse](t, body))

	status, body = env.do(t, http.MethodPost, "/api/v1/houses/1/unavailable", aliceToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.False(t, decode[*models.House](t, body).Availability)

	status, body = env.do(t, http.MethodPost, "/api/v1/houses/1/available", aliceToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, decode[*models.House](t, body).Availability)

	status, _ = env.do(t, http.MethodPost, "/api/v1/houses/7/available", aliceToken, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSetPrice(t *testing.T) {
	env := newTestServer(t, listing.DefaultPolicy(), nil)
	env.create(t, aliceToken, housePayload("Alice", 1))

	status, _ := env.do(t, http.MethodPut, "/api/v1/houses/1/price", aliceToken, `{}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body := env.do(t, http.MethodPut, "/api/v1/houses/1/price", aliceToken, map[string]uint64{"price": 0})
	require.Equal(t, http.StatusOK, status)
	h := decode[*models.House](t, body)
	assert.Equal(t, uint64(0), h.Price)
	assert.Nil(t, h.UpdatedAt)
}

// ==================== Queries ====================

func TestQueries(t *testing.T) {
	env := newTestServer(t, listing.DefaultPolicy(), nil)

	carol := housePayload("Carol", 1)
	carol.Price = 499
	env.create(t, aliceToken, carol)
	env.create(t, aliceToken, housePayload("Alice", 0))
	villa := housePayload("Bob", 2)
	villa.HouseType = "Villa"
	env.create(t, aliceToken, villa)

	tests := []struct {
		name string
		path string
		want []uint64
	}{
		{"all", "/api/v1/houses", []uint64{1, 2, 3}},
		{"available", "/api/v1/houses/available", []uint64{1, 3}},
		{"search owner", "/api/v1/houses/search?q=Car", []uint64{1}},
		{"search type", "/api/v1/houses/search?q=Villa", []uint64{3}},
		{"search case sensitive", "/api/v1/houses/search?q=villa", []uint64{}},
		{"price exact", "/api/v1/houses/search/price?amount=500", []uint64{2, 3}},
		{"price below", "/api/v1/houses/search/price?amount=499", []uint64{1}},
		{"price no match", "/api/v1/houses/search/price?amount=501", []uint64{}},
		{"sorted", "/api/v1/houses/sorted", []uint64{2, 3, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := env.do(t, http.MethodGet, tt.path, readerToken, nil)
			require.Equal(t, http.StatusOK, status, string(body))
			houses := decode[[]*models.House](t, body)
			ids := make([]uint64, 0, len(houses))
			for _, h := range houses {
				ids = append(ids, h.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}

	status, _ := env.do(t, http.MethodGet, "/api/v1/houses/search/price?amount=cheap", readerToken, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

// ==================== Admin ====================

func TestAdminTokens(t *testing.T) {
	env := newTestServer(t, listing.DefaultPolicy(), nil)

	status, _ := env.do(t, http.MethodGet, "/admin/tokens", aliceToken, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = env.do(t, http.MethodPost, "/admin/tokens", adminToken, map[string]string{"permission": "rw"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = env.do(t, http.MethodPost, "/admin/tokens", adminToken, map[string]string{"principal": "carol", "permission": "admin"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body := env.do(t, http.MethodPost, "/admin/tokens", adminToken, map[string]string{"principal": "carol", "description": "ci"})
	require.Equal(t, http.StatusCreated, status)
	created := decode[map[string]string](t, body)
	assert.Equal(t, "carol", created["principal"])
	assert.Equal(t, PermissionRead, created["permission"])

	// The new token authenticates as carol.
	status, _ = env.do(t, http.MethodGet, "/api/v1/houses", created["token"], nil)
	assert.Equal(t, http.StatusOK, status)

	status, body = env.do(t, http.MethodGet, "/admin/tokens", adminToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]tokenEntry](t, body), 4)
	assert.NotContains(t, string(body), "token_hash")

	status, _ = env.do(t, http.MethodDelete, "/admin/tokens/tok-new", adminToken, nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = env.do(t, http.MethodDelete, "/admin/tokens/tok-new", adminToken, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	env := newTestServer(t, listing.DefaultPolicy(), DefaultConfig())

	status, _ := env.do(t, http.MethodGet, "/admin/tokens", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

// ==================== Rate limit / metrics ====================

func TestRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequestsPerMinute = 2
	env := newTestServer(t, listing.DefaultPolicy(), cfg)

	for i := 0; i < 2; i++ {
		status, _ := env.do(t, http.MethodGet, "/api/v1/houses", aliceToken, nil)
		require.Equal(t, http.StatusOK, status)
	}
	status, body := env.do(t, http.MethodGet, "/api/v1/houses", aliceToken, nil)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "rate_limited", decode[errorBody](t, body).Error)

	// Limits are per token.
	status, _ = env.do(t, http.MethodGet, "/api/v1/houses", bobToken, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestMetrics(t *testing.T) {
	env := newTestServer(t, listing.DefaultPolicy(), nil)
	env.create(t, aliceToken, housePayload("Alice", 1))
	env.do(t, http.MethodGet, "/api/v1/houses/1", aliceToken, nil)

	status, body := env.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, status)
	text := string(body)
	assert.Contains(t, text, `listings_house_events_total{event="house.created"} 1`)
	assert.Contains(t, text, `listings_http_requests_total{method="GET",route="GET /api/v1/houses/{id}",status="200"} 1`)
}

func TestRequestID(t *testing.T) {
	env := newTestServer(t, listing.DefaultPolicy(), nil)

	resp, err := http.Get(env.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Len(t, resp.Header.Get("X-Request-ID"), 36)
}
