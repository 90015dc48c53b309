package app

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posmdesk/internal/config"
	"posmdesk/internal/database/dbtest"
	"posmdesk/internal/domain/reference"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type client struct {
	t      *testing.T
	router *gin.Engine
	token  string
}

func (c *client) do(method, path string, body any) (int, envelope) {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, req)

	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w.Code, env
}

func (c *client) login(email, password string) {
	c.t.Helper()
	code, env := c.do(http.MethodPost, "/api/v1/auth/login", map[string]string{"email": email, "password": password})
	require.Equal(c.t, http.StatusOK, code, env.Error.Message)
	var data struct {
		Tokens struct {
			AccessToken string `json:"access_token"`
		} `json:"tokens"`
	}
	require.NoError(c.t, json.Unmarshal(env.Data, &data))
	c.token = data.Tokens.AccessToken
}

func (c *client) uploadPhoto() string {
	c.t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "before.png")
	require.NoError(c.t, err)
	_, err = part.Write(append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...))
	require.NoError(c.t, err)
	require.NoError(c.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/photos", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.token)
	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, req)
	require.Equal(c.t, http.StatusCreated, w.Code, w.Body.String())

	var env struct {
		Data struct {
			Ref string `json:"ref"`
		} `json:"data"`
	}
	require.NoError(c.t, json.Unmarshal(w.Body.Bytes(), &env))
	return env.Data.Ref
}

func setupApp(t *testing.T) *App {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := dbtest.Open(t, Models()...)
	require.NoError(t, db.Create(&[]reference.Depot{{ID: 1, Name: "DepotA"}, {ID: 2, Name: "DepotB"}}).Error)
	require.NoError(t, db.Create(&reference.Dealer{ID: 10, Code: "D-10", Name: "Corner Shop", DepotID: 1}).Error)

	cfg := &config.AppConfig{
		AppEnv:             "test",
		JWTSecret:          "test-secret",
		JWTTTL:             time.Hour,
		LockWait:           2 * time.Second,
		ReportTickInterval: 30 * time.Second,
		ReportTimezone:     time.UTC,
		ReportQueue:        "reports.test",
		PhotoDir:           t.TempDir(),
		PhotoURLBase:       "/static/photos",
	}
	a := Build(cfg, db)

	_, created, err := a.Users.EnsureAdmin(context.Background(), "admin@example.com", "Admin", "admin-password")
	require.NoError(t, err)
	require.True(t, created)
	return a
}

func TestHealth(t *testing.T) {
	a := setupApp(t)
	c := &client{t: t, router: a.Router()}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","database":"ok","audit_failures":0,"feed_connections":0,"report_timezone":"UTC"}`, w.Body.String())
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	a := setupApp(t)
	c := &client{t: t, router: a.Router()}

	code, env := c.do(http.MethodGet, "/api/v1/requests", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "AUTH_HEADER_MISSING", env.Error.Code)
}

func TestAPIRateLimitedPerClient(t *testing.T) {
	a := setupApp(t)
	a.limiter = newLimiter(&config.AppConfig{RateLimitPerMinute: 2, RateLimitBurst: 2}, nil)
	c := &client{t: t, router: a.Router()}

	for i := 0; i < 2; i++ {
		code, _ := c.do(http.MethodGet, "/api/v1/requests", nil)
		assert.Equal(t, http.StatusUnauthorized, code)
	}
	code, env := c.do(http.MethodGet, "/api/v1/requests", nil)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "RATE_LIMITED", env.Error.Code)

	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestLifecycleOverHTTP(t *testing.T) {
	a := setupApp(t)
	admin := &client{t: t, router: a.Router()}
	admin.login("admin@example.com", "admin-password")
	ref := admin.uploadPhoto()

	code, env := admin.do(http.MethodPost, "/api/v1/requests", map[string]any{
		"dealer_id": 10, "job_type": "Install", "posm_type": "Banner", "photos": []string{ref},
	})
	require.Equal(t, http.StatusCreated, code, env.Error.Message)
	var created struct {
		ID      int64  `json:"id"`
		Status  string `json:"status"`
		DepotID int64  `json:"depot_id"`
		Version int64  `json:"version"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, "Pending", created.Status)
	assert.Equal(t, int64(1), created.DepotID)

	code, env = admin.do(http.MethodPost, "/api/v1/requests", map[string]any{
		"dealer_id": 10, "job_type": "Install", "posm_type": "Banner", "photos": []string{"2020/01/01/forged.png"},
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	base := "/api/v1/requests/" + itoa(created.ID)
	code, env = admin.do(http.MethodPatch, base+"/status", map[string]any{"status": "Completed", "completed_date": "2026-03-03"})
	assert.Equal(t, http.StatusUnprocessableEntity, code, "pending cannot jump to completed")
	assert.Equal(t, "PRECONDITION_FAILED", env.Error.Code)

	code, env = admin.do(http.MethodPost, "/api/v1/work-plan", map[string]any{"request_ids": []int64{created.ID}, "planned_date": "2026-03-04"})
	require.Equal(t, http.StatusOK, code, env.Error.Message)
	assert.JSONEq(t, `{"planned":[`+itoa(created.ID)+`],"failures":[]}`, string(env.Data))

	code, env = admin.do(http.MethodPatch, base+"/status", map[string]any{"status": "Completed", "revision": created.Version})
	assert.Equal(t, http.StatusConflict, code, "stale revision")
	assert.Equal(t, "CONFLICT", env.Error.Code)

	code, env = admin.do(http.MethodPatch, base+"/status", map[string]any{"status": "Completed", "completed_date": "2026-03-05"})
	require.Equal(t, http.StatusOK, code, env.Error.Message)

	code, env = admin.do(http.MethodPatch, base+"/priority", map[string]any{"priority": "High"})
	assert.Equal(t, http.StatusConflict, code, "terminal requests are frozen")

	code, env = admin.do(http.MethodGet, "/api/v1/requests/stats", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"by_status":{"Pending":0,"Scheduled":0,"Completed":1,"Cancelled":0}}`, string(env.Data))

	code, env = admin.do(http.MethodGet, "/api/v1/audit-logs?entity_type=Request&entity_id="+itoa(created.ID), nil)
	require.Equal(t, http.StatusOK, code)
	var page struct {
		Total int64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.EqualValues(t, 3, page.Total, "create, schedule, complete")
}

func TestInventoryAndTransferOverHTTP(t *testing.T) {
	a := setupApp(t)
	admin := &client{t: t, router: a.Router()}
	admin.login("admin@example.com", "admin-password")

	code, env := admin.do(http.MethodPost, "/api/v1/inventory/rows", map[string]any{"depot_id": 1, "posm_type": "Banner"})
	require.Equal(t, http.StatusOK, code, env.Error.Message)

	code, env = admin.do(http.MethodPost, "/api/v1/inventory/adjust", map[string]any{"depot_id": 1, "posm_type": "Banner", "bucket": "ready", "delta": 5})
	require.Equal(t, http.StatusOK, code, env.Error.Message)

	code, env = admin.do(http.MethodPost, "/api/v1/inventory/adjust", map[string]any{"depot_id": 1, "posm_type": "Banner", "bucket": "ready", "delta": -9})
	assert.Equal(t, http.StatusConflict, code, "stock never goes negative")

	code, env = admin.do(http.MethodPost, "/api/v1/inventory/adjust", map[string]any{"posm_type": "Banner", "bucket": "ready", "delta": 1})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Error.Message, "depot_id")

	code, env = admin.do(http.MethodPost, "/api/v1/transfers", map[string]any{
		"posm_type": "Banner", "source_depot_id": 1, "dest_depot_id": 2, "bucket": "ready", "quantity": 3,
	})
	require.Equal(t, http.StatusCreated, code, env.Error.Message)
	var res struct {
		Source struct{ Ready int } `json:"source"`
		Dest   struct{ Ready int } `json:"dest"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, 2, res.Source.Ready)
	assert.Equal(t, 3, res.Dest.Ready)

	code, env = admin.do(http.MethodGet, "/api/v1/depots/2/inventory/Banner", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"ready":3`)

	code, env = admin.do(http.MethodPost, "/api/v1/users", map[string]any{
		"email": "tech@example.com", "name": "Tech", "password": "tech-password", "role": "tech", "depot_ids": []int64{1},
	})
	require.Equal(t, http.StatusCreated, code, env.Error.Message)

	tech := &client{t: t, router: admin.router}
	tech.login("tech@example.com", "tech-password")

	code, _ = tech.do(http.MethodGet, "/api/v1/depots/1/inventory", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = tech.do(http.MethodGet, "/api/v1/depots/2/inventory", nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, env = tech.do(http.MethodPost, "/api/v1/transfers", map[string]any{
		"posm_type": "Banner", "source_depot_id": 1, "dest_depot_id": 2, "bucket": "ready", "quantity": 1,
	})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)

	code, _ = tech.do(http.MethodGet, "/api/v1/reports", nil)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestReportCRUDOverHTTP(t *testing.T) {
	a := setupApp(t)
	admin := &client{t: t, router: a.Router()}
	admin.login("admin@example.com", "admin-password")

	code, env := admin.do(http.MethodPost, "/api/v1/reports", map[string]any{
		"name": "Weekly digest", "kind": "weekly_completed", "weekday": 6, "hour": 23, "minute": 59,
		"recipient_user_ids": []int64{1},
	})
	require.Equal(t, http.StatusCreated, code, env.Error.Message)
	var report struct {
		ID     int64 `json:"id"`
		Active bool  `json:"active"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.True(t, report.Active)

	code, env = admin.do(http.MethodPost, "/api/v1/reports", map[string]any{
		"name": "Bad", "kind": "weekly_completed", "weekday": 7, "recipient_user_ids": []int64{1},
	})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = admin.do(http.MethodPost, "/api/v1/reports/"+itoa(report.ID)+"/test-send", nil)
	require.Equal(t, http.StatusOK, code, env.Error.Message)
	assert.Contains(t, string(env.Data), `"test":true`)

	code, _ = admin.do(http.MethodPost, "/api/v1/reports/tick", nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = admin.do(http.MethodDelete, "/api/v1/reports/"+itoa(report.ID), nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = admin.do(http.MethodGet, "/api/v1/reports/"+itoa(report.ID), nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func itoa(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
