package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rentloop/rentloop/internal/auth/domain"
	"github.com/rentloop/rentloop/internal/auth/service"
	"github.com/rentloop/rentloop/internal/auth/store/drivers/redisq"
	"github.com/rentloop/rentloop/internal/auth/store/drivers/sqlite"
	"github.com/rentloop/rentloop/pkg/cryptox"
	"github.com/rentloop/rentloop/pkg/httpx"
	"github.com/rentloop/rentloop/pkg/idx"
	"github.com/rentloop/rentloop/pkg/tokenx"
	"github.com/stretchr/testify/require"
)

var pepperOnce sync.Once

type apiHarness struct {
	router *Router
	store  *sqlite.Store
	redis  *miniredis.Miniredis
	codec  *tokenx.Codec
}

func newAPIHarness(t *testing.T, limit httpx.RateLimitConfig) *apiHarness {
	t.Helper()

	pepperOnce.Do(func() {
		cryptox.SetPepperPath(filepath.Join(t.TempDir(), "pepper"))
	})

	db, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.ApplyMigrations())

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	replay := redisq.NewReplayStore(rdb)

	codec, err := tokenx.NewCodec([]byte("test-session-key"))
	require.NoError(t, err)

	rotation := &service.RotationService{Codec: codec, Replay: replay, RefreshTTL: time.Hour}
	sessions := &service.SessionService{
		Store:      db,
		Rotation:   rotation,
		Codec:      codec,
		AccessTTL:  15 * time.Minute,
		RefreshTTL: time.Hour,
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := NewRouter("test", db, replay, httpx.NewRateLimiter(limit), logger)
	router.SessionService = sessions
	router.ApplyRoutes()

	return &apiHarness{router: router, store: db, redis: mr, codec: codec}
}

func defaultLimit() httpx.RateLimitConfig {
	return httpx.RateLimitConfig{
		RequestsPerMinute: 600,
		ExcludePaths:      []string{"/livez", "/readyz"},
	}
}

func (h *apiHarness) seedUser(t *testing.T, username, password, userType string) domain.User {
	t.Helper()

	hash, err := cryptox.HashPassword(password)
	require.NoError(t, err)

	u := domain.User{
		ID:           idx.New().String(),
		Username:     username,
		PasswordHash: hash,
		UserType:     userType,
		Active:       true,
	}
	require.NoError(t, h.store.Users().CreateUser(context.Background(), u))
	return u
}

func (h *apiHarness) seedPermissions(t *testing.T, userType string, perms ...string) {
	t.Helper()
	err := h.store.Permissions().UpsertPermissionSet(context.Background(), domain.PermissionSet{
		UserType:    userType,
		Permissions: perms,
	})
	require.NoError(t, err)
}

func (h *apiHarness) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	buf, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func (h *apiHarness) login(t *testing.T, username, password string) domain.TokenPair {
	t.Helper()

	rec := h.post(t, "/v1/auth/login", map[string]string{
		"username": username,
		"password": password,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var pair domain.TokenPair
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pair))
	return pair
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) httpx.ErrorResponse {
	t.Helper()
	var resp httpx.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestLoginEndpoint(t *testing.T) {
	h := newAPIHarness(t, defaultLimit())
	h.seedPermissions(t, "tenant", "listings:read")
	u := h.seedUser(t, "alice", "hunter2!", "tenant")
	h.seedUser(t, "orphan", "pw", "unconfigured_type")

	t.Run("success", func(t *testing.T) {
		pair := h.login(t, "alice", "hunter2!")
		require.Equal(t, "bearer", pair.TokenType)
		require.NotEmpty(t, pair.RefreshToken)

		claims, err := h.codec.ValidateAccess(pair.AccessToken)
		require.NoError(t, err)
		require.Equal(t, u.ID, claims.Subject)
	})

	t.Run("wrong password", func(t *testing.T) {
		rec := h.post(t, "/v1/auth/login", map[string]string{"username": "alice", "password": "nope"})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, "invalid_credentials", decodeError(t, rec).Error)
	})

	t.Run("no permission set", func(t *testing.T) {
		rec := h.post(t, "/v1/auth/login", map[string]string{"username": "orphan", "password": "pw"})
		require.Equal(t, http.StatusForbidden, rec.Code)
		require.Equal(t, "no_permissions", decodeError(t, rec).Error)
	})

	t.Run("missing fields", func(t *testing.T) {
		rec := h.post(t, "/v1/auth/login", map[string]string{"username": "alice"})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRefreshEndpoint(t *testing.T) {
	h := newAPIHarness(t, defaultLimit())
	h.seedPermissions(t, "tenant", "listings:read")
	h.seedUser(t, "alice", "pw", "tenant")
	pair := h.login(t, "alice", "pw")

	rec := h.post(t, "/v1/auth/refresh", map[string]string{"refresh_token": pair.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)

	var rotated domain.TokenPair
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rotated))
	require.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	t.Run("replay answers a generic 401", func(t *testing.T) {
		rec := h.post(t, "/v1/auth/refresh", map[string]string{"refresh_token": pair.RefreshToken})
		require.Equal(t, http.StatusUnauthorized, rec.Code)

		resp := decodeError(t, rec)
		require.Equal(t, "invalid_refresh_token", resp.Error)
		// The body must not leak which family or user tripped the alarm.
		require.NotContains(t, resp.Message, "family")
	})

	t.Run("rotated sibling is dead after the replay", func(t *testing.T) {
		rec := h.post(t, "/v1/auth/refresh", map[string]string{"refresh_token": rotated.RefreshToken})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		rec := h.post(t, "/v1/auth/refresh", map[string]string{})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestLogoutEndpoint(t *testing.T) {
	h := newAPIHarness(t, defaultLimit())
	h.seedPermissions(t, "tenant", "listings:read")
	h.seedUser(t, "alice", "pw", "tenant")
	pair := h.login(t, "alice", "pw")

	rec := h.post(t, "/v1/auth/logout", map[string]string{"refresh_token": pair.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.post(t, "/v1/auth/refresh", map[string]string{"refresh_token": pair.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// Idempotent: a second logout of the same credential succeeds.
	rec = h.post(t, "/v1/auth/logout", map[string]string{"refresh_token": pair.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestLogoutAllEndpoint(t *testing.T) {
	h := newAPIHarness(t, defaultLimit())
	h.seedPermissions(t, "tenant", "listings:read")
	h.seedUser(t, "alice", "pw", "tenant")

	phone := h.login(t, "alice", "pw")
	laptop := h.login(t, "alice", "pw")

	t.Run("missing token", func(t *testing.T) {
		rec := h.post(t, "/v1/auth/logout_all", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		rec := h.post(t, "/v1/auth/logout_all", map[string]string{"refresh_token": "garbage"})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	rec := h.post(t, "/v1/auth/logout_all", map[string]string{"refresh_token": phone.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)

	for _, pair := range []domain.TokenPair{phone, laptop} {
		rec := h.post(t, "/v1/auth/refresh", map[string]string{"refresh_token": pair.RefreshToken})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}

func TestRateLimitOnSessionEndpoints(t *testing.T) {
	h := newAPIHarness(t, httpx.RateLimitConfig{
		RequestsPerMinute: 60,
		Burst:             2,
		ExcludePaths:      []string{"/livez", "/readyz"},
	})

	body := map[string]string{"username": "alice", "password": "pw"}
	for i := 0; i < 2; i++ {
		rec := h.post(t, "/v1/auth/login", body)
		require.NotEqual(t, http.StatusTooManyRequests, rec.Code)
	}

	rec := h.post(t, "/v1/auth/login", body)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "2", rec.Header().Get("Retry-After"))
	require.Equal(t, "60", rec.Header().Get("X-RateLimit-Limit"))

	var resp struct {
		Error      string `json:"error"`
		RetryAfter int    `json:"retry_after"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "rate_limit_exceeded", resp.Error)
	require.Equal(t, 2, resp.RetryAfter)

	t.Run("health probes bypass the limiter", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			req := httptest.NewRequest(http.MethodGet, "/livez", nil)
			rec := httptest.NewRecorder()
			h.router.ServeHTTP(rec, req)
			require.Equal(t, http.StatusOK, rec.Code)
		}
	})

	t.Run("other clients are unaffected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", bytes.NewReader([]byte(`{}`)))
		req.Header.Set("X-Forwarded-For", "203.0.113.7")
		rec := httptest.NewRecorder()
		h.router.ServeHTTP(rec, req)
		require.NotEqual(t, http.StatusTooManyRequests, rec.Code)
	})
}

func TestReadyzReflectsStoreHealth(t *testing.T) {
	h := newAPIHarness(t, defaultLimit())

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	h.redis.Close()

	rec = httptest.NewRecorder()
	h.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRefreshDuringSessionStoreOutage(t *testing.T) {
	h := newAPIHarness(t, defaultLimit())
	h.seedPermissions(t, "tenant", "listings:read")
	h.seedUser(t, "alice", "pw", "tenant")
	pair := h.login(t, "alice", "pw")

	h.redis.Close()

	// An outage is 503, never a 401: the client's token is still good.
	rec := h.post(t, "/v1/auth/refresh", map[string]string{"refresh_token": pair.RefreshToken})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "service_unavailable", decodeError(t, rec).Error)
}
