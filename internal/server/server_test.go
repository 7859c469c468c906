package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nkit/internal/config"
	"nkit/internal/middlewares"
	"nkit/internal/repositories"
	"nkit/internal/services"
	"nkit/internal/synth"
	"nkit/internal/testutil"
	"nkit/internal/utils"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func testServerConfig() config.ServerConfig {
	return config.ServerConfig{
		CORSOrigins:   []string{"*"},
		DefaultFormat: "json",
		MaxListLimit:  100,
	}
}

func newTestRouter(t *testing.T, cfg config.ServerConfig, auth *services.AuthService) *gin.Engine {
	t.Helper()
	conn := testutil.OpenSQLite(t, testutil.ShopSchema)
	provider, err := repositories.NewSchemaProvider(conn)
	require.NoError(t, err)

	logger := testutil.NewTestLogger(t)
	synthesizer := synth.New(conn.Dialect)
	schema := services.NewSchemaService(conn, provider, nil, synthesizer, services.SchemaOptions{Name: "shop"}, logger)
	require.NoError(t, schema.Initialize(context.Background()))

	entities := services.NewEntityService(conn, schema, synthesizer, services.TxConfig{Retries: 1, Delay: time.Millisecond}, logger)
	return NewRouter(cfg, Deps{Schema: schema, Entities: entities, Auth: auth, Logger: logger})
}

func do(t *testing.T, router http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func dataMap(t *testing.T, env envelope) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &m))
	return m
}

func dataList(t *testing.T, env envelope) []map[string]any {
	t.Helper()
	var l []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &l))
	return l
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t, testServerConfig(), nil)

	w := do(t, router, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestTableRoutes_CRUD(t *testing.T) {
	router := newTestRouter(t, testServerConfig(), nil)

	w := do(t, router, http.MethodPost, "/api/v1/customers", `{"name":"Ada","email":"ada@example.com"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := dataMap(t, decode(t, w))
	assert.Equal(t, float64(1), created["id"])

	w = do(t, router, http.MethodGet, "/api/v1/Customers/1", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Ada", dataMap(t, decode(t, w))["name"])

	w = do(t, router, http.MethodGet, "/api/v1/customers/Count", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), dataMap(t, decode(t, w))["count"])

	w = do(t, router, http.MethodGet, "/api/v1/customers/CountLong", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), dataMap(t, decode(t, w))["count"])

	w = do(t, router, http.MethodPut, "/api/v1/customers", `{"id":1,"name":"Ada Lovelace"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, router, http.MethodGet, "/api/v1/customers?searchBy=name&searchValueOf=Ada%20Lovelace", "")
	require.Equal(t, http.StatusOK, w.Code)
	found := dataList(t, decode(t, w))
	require.Len(t, found, 1)
	assert.Nil(t, found[0]["email"], "update writes every column")

	w = do(t, router, http.MethodDelete, "/api/v1/customers/1", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, http.MethodGet, "/api/v1/customers/1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "error", decode(t, w).Status)
}

func TestTableRoutes_Errors(t *testing.T) {
	router := newTestRouter(t, testServerConfig(), nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"unknown entity", http.MethodGet, "/api/v1/invoices", "", http.StatusNotFound},
		{"search without value", http.MethodGet, "/api/v1/customers?searchBy=name", "", http.StatusBadRequest},
		{"unknown search column", http.MethodGet, "/api/v1/customers?searchBy=nickname&searchValueOf=x", "", http.StatusBadRequest},
		{"negative limit", http.MethodGet, "/api/v1/customers?limit=-1", "", http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/api/v1/customers", `{"name":`, http.StatusBadRequest},
		{"wrong key type", http.MethodGet, "/api/v1/customers/abc", "", http.StatusBadRequest},
		{"no surrogate key", http.MethodGet, "/api/v1/order_items/1", "", http.StatusBadRequest},
		{"update missing row", http.MethodPut, "/api/v1/customers", `{"id":42,"name":"Nobody"}`, http.StatusNotFound},
		{"delete missing row", http.MethodDelete, "/api/v1/customers/42", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.NotEmpty(t, decode(t, w).Error)
		})
	}
}

func TestTableRoutes_LimitIsClamped(t *testing.T) {
	cfg := testServerConfig()
	cfg.MaxListLimit = 2
	router := newTestRouter(t, cfg, nil)

	w := do(t, router, http.MethodPost, "/api/v1/customers/batch", `[{"name":"Ada"},{"name":"Grace"},{"name":"Edsger"}]`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, dataList(t, decode(t, w)), 3)

	w = do(t, router, http.MethodGet, "/api/v1/customers?limit=50", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, dataList(t, decode(t, w)), 2)

	w = do(t, router, http.MethodGet, "/api/v1/customers?limit=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, dataList(t, decode(t, w)), 1)
}

func TestTableRoutes_BatchAndDeleteAll(t *testing.T) {
	router := newTestRouter(t, testServerConfig(), nil)

	w := do(t, router, http.MethodPost, "/api/v1/customers", `{"name":"Ada"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, router, http.MethodPost, "/api/v1/orders/batch", `[{"customer_id":1,"total":10.5},{"customer_id":1,"total":2}]`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	env := decode(t, w)
	assert.Equal(t, "2 rows saved", env.Message)

	// the foreign key violation rolls back the whole batch
	w = do(t, router, http.MethodPost, "/api/v1/orders/batch", `[{"customer_id":1,"total":1},{"customer_id":99,"total":1}]`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, decode(t, w).Message, "incident")

	w = do(t, router, http.MethodDelete, "/api/v1/orders", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), dataMap(t, decode(t, w))["deleted"])
}

func TestTableRoutes_XML(t *testing.T) {
	router := newTestRouter(t, testServerConfig(), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/customers", strings.NewReader(`<customers><name>Grace</name><email>grace@example.com</email></customers>`))
	req.Header.Set("Content-Type", "application/xml")
	req.Header.Set("Accept", "application/xml")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "xml")
	assert.Contains(t, w.Body.String(), "<status>success</status>")
	assert.Contains(t, w.Body.String(), "<name>Grace</name>")

	req = httptest.NewRequest(http.MethodPost, "/api/v1/customers/batch", strings.NewReader(
		`<list><customers><name>Ada</name></customers><customers><name>Edsger</name></customers></list>`))
	req.Header.Set("Content-Type", "application/xml")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "2 rows saved", decode(t, w).Message)

	w = do(t, router, http.MethodGet, "/api/v1/customers", "", "Accept", "application/xml")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, strings.Count(w.Body.String(), "<customers>"))
}

func TestTableRoutes_DefaultFormatYAML(t *testing.T) {
	cfg := testServerConfig()
	cfg.DefaultFormat = "yaml"
	router := newTestRouter(t, cfg, nil)

	w := do(t, router, http.MethodGet, "/api/v1/customers/Count", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "yaml")
	assert.Contains(t, w.Body.String(), "status: success")
	assert.Contains(t, w.Body.String(), "count: 0")

	w = do(t, router, http.MethodGet, "/api/v1/customers/Count", "", "Accept", "application/json")
	assert.Contains(t, w.Header().Get("Content-Type"), "json")
}

func TestSchemaRoutes(t *testing.T) {
	router := newTestRouter(t, testServerConfig(), nil)

	w := do(t, router, http.MethodGet, "/api/v1/schema", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-Schema-Version"))
	assert.NotContains(t, w.Body.String(), "connection_string")

	w = do(t, router, http.MethodGet, "/api/v1/schema/visualize", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, dataMap(t, decode(t, w))["mermaid"], "erDiagram")

	w = do(t, router, http.MethodGet, "/api/v1/schema/export?format=yaml", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `attachment; filename="shop.yaml"`, w.Header().Get("Content-Disposition"))
	assert.Contains(t, w.Body.String(), "customers")

	w = do(t, router, http.MethodGet, "/api/v1/schema/export?format=toml", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, http.MethodGet, "/api/v1/schema/export?format=json", "")
	require.Equal(t, http.StatusOK, w.Code)
	snapshot := w.Body.String()

	w = do(t, router, http.MethodPost, "/api/v1/schema/import?format=json", snapshot)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(2), dataMap(t, decode(t, w))["version"])

	w = do(t, router, http.MethodPost, "/api/v1/schema/import?format=json", `{"name":"shop","tables":[{"name":"t"}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, http.MethodPost, "/api/v1/schema/refresh", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), dataMap(t, decode(t, w))["version"])
	assert.Equal(t, float64(4), dataMap(t, decode(t, w))["tables"])
}

func TestAuth(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	auth := services.NewAuthService(testSecret, "nkit", time.Hour, repositories.NewRedisRepository(rdb, time.Hour))
	router := newTestRouter(t, testServerConfig(), auth)

	readToken, _, err := auth.Issue("reporting", utils.ScopeRead)
	require.NoError(t, err)
	writeToken, _, err := auth.Issue("etl", utils.ScopeWrite)
	require.NoError(t, err)

	w := do(t, router, http.MethodGet, "/api/v1/customers", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, router, http.MethodGet, "/api/v1/customers", "", "Authorization", "Bearer not-a-token")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, router, http.MethodGet, "/api/v1/customers", "", "Authorization", "Bearer "+readToken)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, http.MethodPost, "/api/v1/customers", `{"name":"Ada"}`, "Authorization", "Bearer "+readToken)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, router, http.MethodPost, "/api/v1/schema/refresh", "", "Authorization", "Bearer "+readToken)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, router, http.MethodPost, "/api/v1/customers", `{"name":"Ada"}`, "Authorization", "Bearer "+writeToken)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = do(t, router, http.MethodGet, "/api/v1/auth/me", "", "Authorization", "Bearer "+readToken)
	require.Equal(t, http.StatusOK, w.Code)
	me := dataMap(t, decode(t, w))
	assert.Equal(t, "reporting", me["subject"])
	assert.Equal(t, utils.ScopeRead, me["scope"])

	w = do(t, router, http.MethodPost, "/api/v1/auth/logout", "", "Authorization", "Bearer "+readToken)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, http.MethodGet, "/api/v1/customers", "", "Authorization", "Bearer "+readToken)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "revoked tokens are rejected")

	mr.Close()
	w = do(t, router, http.MethodGet, "/api/v1/customers", "", "Authorization", "Bearer "+writeToken)
	assert.Equal(t, http.StatusInternalServerError, w.Code, "revocation cannot be checked without Redis")
}

func TestMiddlewares_RequestIDAndRecovery(t *testing.T) {
	router := newTestRouter(t, testServerConfig(), nil)
	router.GET("/panic", func(*gin.Context) { panic("boom") })

	w := do(t, router, http.MethodGet, "/", "")
	assert.NotEmpty(t, w.Header().Get(middlewares.RequestIDHeader))

	w = do(t, router, http.MethodGet, "/", "", middlewares.RequestIDHeader, "req-42")
	assert.Equal(t, "req-42", w.Header().Get(middlewares.RequestIDHeader))

	w = do(t, router, http.MethodGet, "/panic", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	env := decode(t, w)
	assert.Equal(t, "error", env.Status)
	assert.Contains(t, env.Message, "incident")
}

func TestCORS(t *testing.T) {
	cfg := testServerConfig()
	cfg.CORSOrigins = []string{"https://app.example.com"}
	router := newTestRouter(t, cfg, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/customers", bytes.NewReader(nil))
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestNewServer(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "init.sql")
	require.NoError(t, os.WriteFile(script, []byte(testutil.ShopSchema), 0o644))

	t.Chdir(dir)
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Database.DSN = testutil.SQLiteDSN(filepath.Join(dir, "shop.db"))
	cfg.Database.Name = "shop"
	cfg.Database.InitScripts = []string{script}
	cfg.Server.Port = 18080
	require.NoError(t, cfg.Validate())

	srv, err := NewServer(context.Background(), cfg, testutil.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	assert.Equal(t, ":18080", srv.HTTP.Addr)
	assert.Equal(t, cfg.Server.ReadTimeout, srv.HTTP.ReadTimeout)

	w := do(t, srv.HTTP.Handler, http.MethodGet, "/api/v1/order_items/Count", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestNewServer_Errors(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := config.Load("")
	require.NoError(t, err)

	_, err = NewServer(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "database.dsn is required")

	cfg.Database.DSN = testutil.SQLiteDSN(filepath.Join(t.TempDir(), "x.db"))
	cfg.Database.InitScripts = []string{filepath.Join(t.TempDir(), "missing.sql")}
	_, err = NewServer(context.Background(), cfg, nil)
	assert.Error(t, err)
}
