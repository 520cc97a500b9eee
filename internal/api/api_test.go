package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/goodtune/unplug/internal/actuator"
	"github.com/goodtune/unplug/internal/authz"
	"github.com/goodtune/unplug/internal/enforcement"
	"github.com/goodtune/unplug/internal/limits"
	"github.com/goodtune/unplug/internal/storage"
	"github.com/goodtune/unplug/internal/storage/bolt"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type testEnv struct {
	router *gin.Engine
	ledger *limits.Ledger
	gate   *authz.Static
	store  *bolt.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := bolt.Open(filepath.Join(t.TempDir(), "unplug.bolt"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	logger := zerolog.Nop()
	clock := &limits.TestClock{CurrentTime: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)}
	ledger := limits.NewLedger(store, limits.Options{Clock: clock, Location: time.UTC}, logger)
	gate := authz.NewStatic(false, logger)
	coord := enforcement.NewCoordinator(actuator.NewLog(logger), nil, gate, enforcement.Options{WarningThreshold: 5 * time.Minute}, logger)
	ledger.Subscribe(coord)

	t.Cleanup(func() {
		ctx := context.Background()
		_ = coord.Close(ctx)
		_ = ledger.Close(ctx)
		_ = store.Close()
	})

	gin.SetMode(gin.TestMode)
	return &testEnv{
		router: NewRouter(Deps{Ledger: ledger, Coordinator: coord, Gate: gate, History: store.History()}, logger),
		ledger: ledger,
		gate:   gate,
		store:  store,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestLimitLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/limits", map[string]interface{}{
		"app_identifier": "com.g", "display_name": "YouTube", "daily_limit_seconds": 1800,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body)
	}
	var created struct {
		Limit   LimitResponse `json:"limit"`
		Warning string        `json:"warning"`
	}
	decode(t, rec, &created)
	if created.Limit.RemainingSeconds != 1800 || created.Limit.State != "unrestricted" {
		t.Errorf("unexpected created limit: %+v", created.Limit)
	}
	if created.Warning == "" {
		t.Error("expected authorization warning while not authorized")
	}

	rec = env.do(t, http.MethodPost, "/api/limits", map[string]interface{}{
		"app_identifier": "com.g", "display_name": "YouTube", "daily_limit_seconds": 1800,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate: expected 409, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/usage", map[string]interface{}{
		"app_identifier": "com.g", "used_seconds_today": 2000,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("report: expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var reported LimitResponse
	decode(t, rec, &reported)
	if !reported.IsExceeded || reported.RemainingSeconds != 0 || reported.State != "blocked" {
		t.Errorf("unexpected report response: %+v", reported)
	}

	rec = env.do(t, http.MethodPut, "/api/limits/com.g", map[string]interface{}{"daily_limit_seconds": 3600})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d", rec.Code)
	}
	var updated LimitResponse
	decode(t, rec, &updated)
	if updated.IsExceeded || updated.State != "unrestricted" {
		t.Errorf("expected raised limit to unblock, got %+v", updated)
	}

	rec = env.do(t, http.MethodGet, "/api/limits", nil)
	var list struct {
		Limits []LimitResponse `json:"limits"`
		Count  int             `json:"count"`
		Total  int64           `json:"total_used_seconds_today"`
	}
	decode(t, rec, &list)
	if list.Count != 1 || list.Total != 2000 {
		t.Errorf("unexpected list: %+v", list)
	}

	rec = env.do(t, http.MethodDelete, "/api/limits/com.g", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodDelete, "/api/limits/com.g", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", rec.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"negative limit", http.MethodPost, "/api/limits", map[string]interface{}{"app_identifier": "com.a", "daily_limit_seconds": -1}, http.StatusBadRequest},
		{"missing limit", http.MethodPost, "/api/limits", map[string]interface{}{"app_identifier": "com.a"}, http.StatusBadRequest},
		{"unknown app usage", http.MethodPost, "/api/usage", map[string]interface{}{"app_identifier": "com.x", "used_seconds_today": 5}, http.StatusNotFound},
		{"negative usage", http.MethodPost, "/api/usage", map[string]interface{}{"app_identifier": "com.x", "used_seconds_today": -5}, http.StatusBadRequest},
		{"unknown app update", http.MethodPut, "/api/limits/com.x", map[string]interface{}{"daily_limit_seconds": 60}, http.StatusNotFound},
		{"unknown app get", http.MethodGet, "/api/limits/com.x", nil, http.StatusNotFound},
		{"bad history date", http.MethodGet, "/api/history?date=yesterday", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := env.do(t, tt.method, tt.path, tt.body); rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body)
			}
		})
	}
}

func TestCreateFromSelection(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/limits/selection", map[string]interface{}{
		"daily_limit_seconds": 900,
		"candidates": []map[string]string{
			{"display_name": "TikTok", "app_identifier": "com.a"},
			{"display_name": "YouTube", "app_identifier": "com.g"},
			{"display_name": "TikTok", "app_identifier": "com.a"},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}
	if n := len(env.ledger.ListLimits()); n != 2 {
		t.Fatalf("expected 2 limits, got %d", n)
	}
}

func TestAuthorizationCheck(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/authorization/check", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 before grant, got %d", rec.Code)
	}
	var body map[string]string
	decode(t, rec, &body)
	if body["message"] != enforcement.ErrAuthorizationRequired.Error() {
		t.Errorf("unexpected message %q", body["message"])
	}

	rec = env.do(t, http.MethodPut, "/api/authorization", map[string]bool{"granted": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("grant: expected 200, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/authorization/check", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after grant, got %d", rec.Code)
	}
}

func TestUsageTotalAndHistory(t *testing.T) {
	env := newTestEnv(t)

	_, _ = env.ledger.AddLimit("com.a", "TikTok", 1800)
	_, _ = env.ledger.AddLimit("com.g", "YouTube", 1800)

	rec := env.do(t, http.MethodPost, "/api/usage/batch", []map[string]interface{}{
		{"app_identifier": "com.a", "used_seconds_today": 1500},
		{"app_identifier": "com.g", "used_seconds_today": 2100},
		{"app_identifier": "com.x", "used_seconds_today": 10},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("batch: expected 200, got %d", rec.Code)
	}
	var batch struct {
		Applied  int               `json:"applied"`
		Rejected map[string]string `json:"rejected"`
	}
	decode(t, rec, &batch)
	if batch.Applied != 2 || len(batch.Rejected) != 1 {
		t.Errorf("unexpected batch result: %+v", batch)
	}

	rec = env.do(t, http.MethodGet, "/api/usage/total", nil)
	var total struct {
		Seconds   int64  `json:"total_used_seconds_today"`
		Formatted string `json:"formatted"`
	}
	decode(t, rec, &total)
	if total.Seconds != 3600 || total.Formatted != "1h 0m" {
		t.Errorf("unexpected total: %+v", total)
	}

	err := env.store.History().Record(context.Background(), storage.DailyUsage{Date: "2024-03-09", AppIdentifier: "com.a", TotalSeconds: 42})
	if err != nil {
		t.Fatalf("seed history: %v", err)
	}
	rec = env.do(t, http.MethodGet, "/api/history", nil)
	var history struct {
		Date  string               `json:"date"`
		Usage []storage.DailyUsage `json:"usage"`
	}
	decode(t, rec, &history)
	if history.Date != "2024-03-09" || len(history.Usage) != 1 || history.Usage[0].TotalSeconds != 42 {
		t.Errorf("unexpected history: %+v", history)
	}
}

type unreachableActuator struct{}

func (unreachableActuator) Blocked(context.Context) ([]string, error) {
	return nil, errors.New("connection refused")
}

func TestAuthorizationStatusReportsAppliedSet(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := bolt.Open(filepath.Join(t.TempDir(), "unplug.bolt"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	logger := zerolog.Nop()
	clock := &limits.TestClock{CurrentTime: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)}
	ledger := limits.NewLedger(store, limits.Options{Clock: clock, Location: time.UTC}, logger)
	gate := authz.NewStatic(true, logger)
	act := actuator.NewRedis(client, "unplug:blocked", "unplug:blocked:changed", logger)
	coord := enforcement.NewCoordinator(act, nil, gate, enforcement.Options{WarningThreshold: 5 * time.Minute}, logger)
	ledger.Subscribe(coord)
	t.Cleanup(func() {
		ctx := context.Background()
		_ = coord.Close(ctx)
		_ = ledger.Close(ctx)
		_ = store.Close()
	})

	gin.SetMode(gin.TestMode)
	env := &testEnv{
		router: NewRouter(Deps{Ledger: ledger, Coordinator: coord, Gate: gate, History: store.History(), Applied: act}, logger),
		ledger: ledger,
		gate:   gate,
		store:  store,
	}

	_, _ = ledger.AddLimit("com.g", "YouTube", 60)
	_, _ = ledger.AddLimit("com.a", "TikTok", 60)
	_, _ = ledger.AddLimit("com.m", "Maps", 600)
	if _, err := ledger.ReportUsage("com.g", 90); err != nil {
		t.Fatalf("ReportUsage() error = %v", err)
	}
	if _, err := ledger.ReportUsage("com.a", 60); err != nil {
		t.Fatalf("ReportUsage() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := coord.Sync(ctx); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	rec := env.do(t, http.MethodGet, "/api/authorization", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var status struct {
		Authorized bool     `json:"authorized"`
		Blocked    []string `json:"blocked"`
		Applied    []string `json:"applied"`
	}
	decode(t, rec, &status)
	if !status.Authorized {
		t.Error("expected authorized")
	}
	if len(status.Applied) != 2 || status.Applied[0] != "com.a" || status.Applied[1] != "com.g" {
		t.Errorf("expected applied [com.a com.g], got %v", status.Applied)
	}
	if len(status.Blocked) != len(status.Applied) {
		t.Errorf("computed %v and applied %v sets differ after sync", status.Blocked, status.Applied)
	}

	// The computed set stays available when the actuator cannot be read.
	env.router = NewRouter(Deps{Ledger: ledger, Coordinator: coord, Gate: gate, History: store.History(), Applied: unreachableActuator{}}, logger)
	rec = env.do(t, http.MethodGet, "/api/authorization", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with unreachable actuator, got %d", rec.Code)
	}
	var degraded map[string]interface{}
	decode(t, rec, &degraded)
	if _, ok := degraded["applied"]; ok {
		t.Errorf("expected no applied set, got %v", degraded["applied"])
	}
	if degraded["applied_error"] != "actuator unavailable" {
		t.Errorf("expected applied_error, got %v", degraded["applied_error"])
	}
	if blocked, _ := degraded["blocked"].([]interface{}); len(blocked) != 2 {
		t.Errorf("expected computed blocked set, got %v", degraded["blocked"])
	}
}
