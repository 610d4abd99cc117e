package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/R3E-Network/savings_layer/internal/config"
	"github.com/R3E-Network/savings_layer/internal/middleware"
	"github.com/R3E-Network/savings_layer/pkg/logger"
)

const testSecret = "runtime-test-secret-0123456789ab"

func memoryConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Auth.JWTSecret = testSecret
	cfg.Server.CORSOrigins = []string{"https://app.example"}
	return cfg
}

func TestNewApplicationWithMemoryStore(t *testing.T) {
	ctx := context.Background()
	rt, err := NewApplication(ctx, memoryConfig(), logger.NewDiscard())
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if err := rt.App().Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer rt.Shutdown(ctx)

	resp := httptest.NewRecorder()
	rt.Handler().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 from healthz, got %d", resp.Code)
	}

	token, err := middleware.IssueToken([]byte(testSecret), "", "alice", "", time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/users", strings.NewReader(`{"savings_rate":25}`))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Origin", "https://app.example")
	resp = httptest.NewRecorder()
	rt.Handler().ServeHTTP(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("unexpected CORS header %q", got)
	}

	var body map[string]map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["account"]["savings_rate"] != float64(25) {
		t.Fatalf("unexpected account: %v", body["account"])
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	rt, err := NewApplication(context.Background(), memoryConfig(), logger.NewDiscard())
	if err != nil {
		t.Fatalf("new application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	if err := rt.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestOpenDatabaseRequiresDSN(t *testing.T) {
	if _, err := OpenDatabase(context.Background(), config.DatabaseConfig{}); err == nil {
		t.Fatal("expected error for empty dsn")
	}
}

func TestNewApplicationPostgres(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres runtime test")
	}
	cfg := memoryConfig()
	cfg.Database.DSN = dsn

	ctx := context.Background()
	rt, err := NewApplication(ctx, cfg, logger.NewDiscard())
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	defer rt.Shutdown(ctx)

	if err := rt.health(ctx); err != nil {
		t.Fatalf("health: %v", err)
	}
}
