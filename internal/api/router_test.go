package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Rrens/postbot/internal/api"
	"github.com/Rrens/postbot/internal/api/handler"
	"github.com/Rrens/postbot/internal/config"
	"github.com/Rrens/postbot/internal/domain"
	"github.com/Rrens/postbot/internal/llm"
	"github.com/Rrens/postbot/internal/repository/sqlite"
	"github.com/Rrens/postbot/internal/security"
	"github.com/Rrens/postbot/internal/service"
	"github.com/Rrens/postbot/internal/telegram"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const webhookSecret = "hook-secret"

type fakeQueue struct {
	mu      sync.Mutex
	updates []telegram.Update
}

func (q *fakeQueue) Submit(ctx context.Context, upd telegram.Update) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.updates = append(q.updates, upd)
	return true
}

type testServer struct {
	handler http.Handler
	store   *sqlite.Store
	queue   *fakeQueue
	token   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{
		Server:   config.ServerConfig{CORSOrigins: []string{"*"}},
		Telegram: config.TelegramConfig{WebhookSecret: webhookSecret},
	}
	registry := service.NewRegistry(store, nil)
	jwtManager := security.NewJWTManager("test-secret-key-with-32-chars!!", time.Hour, "postbot")
	token, _, err := jwtManager.GenerateAdminToken("ops")
	require.NoError(t, err)

	queue := &fakeQueue{}
	h := api.NewRouter(cfg, api.Deps{
		Registry:   registry,
		Maintainer: service.NewMaintainer(registry, 24*time.Hour, time.Hour, t.TempDir()),
		LLM:        llm.NewRouter("openai"),
		JWT:        jwtManager,
		Webhook:    queue,
		Ready:      map[string]handler.Pinger{"store": store},
	})
	return &testServer{handler: h, store: store, queue: queue, token: token}
}

func (s *testServer) do(method, path string, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) admin(method, path, body string) *httptest.ResponseRecorder {
	return s.do(method, path, body, map[string]string{"Authorization": "Bearer " + s.token})
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&out))
	return out
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["success"])

	rec = s.do(http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhook(t *testing.T) {
	s := newTestServer(t)
	update := `{"update_id": 10, "message": {"message_id": 1, "from": {"id": 5}, "chat": {"id": 5}, "text": "hi"}}`

	tests := []struct {
		name     string
		path     string
		header   string
		body     string
		wantCode int
	}{
		{"wrong path secret", "/telegram/webhook/nope", webhookSecret, update, http.StatusNotFound},
		{"wrong header", "/telegram/webhook/" + webhookSecret, "nope", update, http.StatusUnauthorized},
		{"bad body", "/telegram/webhook/" + webhookSecret, webhookSecret, "{", http.StatusBadRequest},
		{"accepted", "/telegram/webhook/" + webhookSecret, webhookSecret, update, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, tt.path, tt.body, map[string]string{
				"X-Telegram-Bot-Api-Secret-Token": tt.header,
			})
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}

	require.Len(t, s.queue.updates, 1)
	assert.Equal(t, 10, s.queue.updates[0].UpdateID)
	assert.Equal(t, "hi", s.queue.updates[0].Message.Text)
}

func TestAdmin_RequiresToken(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/v1/admin/users/1/stats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/admin/users/1/stats", "", map[string]string{"Authorization": "Bearer bogus"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdmin_UserEndpoints(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	sess := domain.NewSession(1, "series-1", time.Now())
	require.NoError(t, sess.SetSource("# P", "p.md"))
	_, err := sess.AddPost(domain.Post{Content: "A", ToneUsed: "Build"})
	require.NoError(t, err)
	require.NoError(t, s.store.Save(ctx, sess))

	rec := s.admin(http.MethodGet, "/api/v1/admin/users/1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, float64(1), data["total_posts"])

	rec = s.admin(http.MethodGet, "/api/v1/admin/users/1/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data = decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, float64(1), data["total"])

	rec = s.admin(http.MethodGet, "/api/v1/admin/users/1/tree", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data = decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, "series-1", data["series_id"])
	assert.Contains(t, data["rendered"], "Post 1 (Build)")

	rec = s.admin(http.MethodGet, "/api/v1/admin/users/2/tree", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.admin(http.MethodGet, "/api/v1/admin/users/abc/stats", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.admin(http.MethodDelete, "/api/v1/admin/users/1/sessions/series-1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, err = s.store.Load(ctx, 1, "series-1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestAdmin_Maintenance(t *testing.T) {
	s := newTestServer(t)

	rec := s.admin(http.MethodPost, "/api/v1/admin/cleanup", `{"retention_hours": -1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.admin(http.MethodPost, "/api/v1/admin/cleanup", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, float64(0), data["deleted_sessions"])

	rec = s.admin(http.MethodPost, "/api/v1/admin/backup", "")
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = s.admin(http.MethodPost, "/api/v1/admin/cache/flush", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	rec = s.admin(http.MethodGet, "/api/v1/admin/llm-providers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data = decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, "openai", data["default_provider"])
}
