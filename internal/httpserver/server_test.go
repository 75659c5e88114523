package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/modulpintar/modulpintar-server/internal/apperr"
	"github.com/modulpintar/modulpintar-server/internal/auth"
	billingsql "github.com/modulpintar/modulpintar-server/internal/billing/sqlite"
	"github.com/modulpintar/modulpintar-server/internal/generator"
	"github.com/modulpintar/modulpintar-server/internal/generator/loopback"
	ledgersql "github.com/modulpintar/modulpintar-server/internal/ledger/sqlite"
	"github.com/modulpintar/modulpintar-server/internal/pricing"
	pricingsql "github.com/modulpintar/modulpintar-server/internal/pricing/sqlite"
	"github.com/modulpintar/modulpintar-server/internal/store"
	userstoresql "github.com/modulpintar/modulpintar-server/internal/userstore/sqlite"
)

type failingEngine struct{}

func (failingEngine) Name() string { return "failing" }

func (failingEngine) Generate(ctx context.Context, spec generator.LessonSpec) (string, error) {
	return "", apperr.New(apperr.GeneratorFailure, "engine exploded")
}

type filteredEngine struct{}

func (filteredEngine) Name() string { return "filtered" }

func (filteredEngine) Generate(ctx context.Context, spec generator.LessonSpec) (string, error) {
	return "", generator.ErrContentFiltered
}

type haltingStreamEngine struct{}

func (haltingStreamEngine) Name() string { return "halting" }

func (haltingStreamEngine) Generate(ctx context.Context, spec generator.LessonSpec) (string, error) {
	return "", apperr.New(apperr.GeneratorFailure, "engine exploded")
}

func (haltingStreamEngine) GenerateStream(ctx context.Context, spec generator.LessonSpec) (<-chan generator.Chunk, error) {
	out := make(chan generator.Chunk, 2)
	out <- generator.Chunk{Text: "partial "}
	out <- generator.Chunk{Err: apperr.New(apperr.GeneratorFailure, "upstream dropped")}
	close(out)
	return out, nil
}

type testEnv struct {
	ts      *httptest.Server
	server  *Server
	pricing pricing.Store
}

func newTestEnv(t *testing.T, engine generator.Generator) *testEnv {
	t.Helper()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	users, err := userstoresql.New(db)
	if err != nil {
		t.Fatalf("userstore: %v", err)
	}
	pricingStore, err := pricingsql.New(db)
	if err != nil {
		t.Fatalf("pricing store: %v", err)
	}
	billingStore, err := billingsql.New(db)
	if err != nil {
		t.Fatalf("billing store: %v", err)
	}
	ledgerStore, err := ledgersql.New(db)
	if err != nil {
		t.Fatalf("ledger store: %v", err)
	}
	if engine == nil {
		engine = loopback.New()
	}

	srv := New(Options{
		Auth:          auth.NewManager("test-secret", time.Hour, "root@sekolah.id", "root-password"),
		Users:         users,
		Pricing:       pricingStore,
		Billing:       billingStore,
		Ledger:        ledgerStore,
		Engine:        engine,
		InitialPoints: 200,
	})

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, server: srv, pricing: pricingStore}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	var payload map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil && err != io.EOF {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp, payload
}

func (e *testEnv) register(t *testing.T, email string) string {
	t.Helper()
	resp, payload := e.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]any{
		"email":    email,
		"password": "rahasia-sekali",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: status %d (%v)", resp.StatusCode, payload)
	}
	token, _ := payload["token"].(string)
	if token == "" {
		t.Fatalf("register returned no token")
	}
	return token
}

func (e *testEnv) rootToken(t *testing.T) string {
	t.Helper()
	resp, payload := e.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"email":    "root@sekolah.id",
		"password": "root-password",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("root login: status %d (%v)", resp.StatusCode, payload)
	}
	return payload["token"].(string)
}

func (e *testEnv) balance(t *testing.T, token string) int64 {
	t.Helper()
	resp, payload := e.do(t, http.MethodGet, "/api/v1/profile", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("profile: status %d", resp.StatusCode)
	}
	user := payload["user"].(map[string]any)
	return int64(user["points"].(float64))
}

func lessonBody(sessions int) map[string]any {
	return map[string]any{
		"subject":  "Matematika",
		"grade":    "VII",
		"topic":    "Perbandingan",
		"sessions": sessions,
	}
}

func TestGenerateDebitsAndReturnsDocument(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.register(t, "guru@sekolah.id")

	resp, payload := env.do(t, http.MethodPost, "/api/v1/modules/generate", token, lessonBody(1))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("generate: status %d (%v)", resp.StatusCode, payload)
	}
	if remaining := int64(payload["points_remaining"].(float64)); remaining != 180 {
		t.Fatalf("expected 180 remaining, got %d", remaining)
	}
	if result, _ := payload["result"].(string); !strings.Contains(result, "Modul Ajar") {
		t.Fatalf("result missing document: %q", result)
	}
	if env.balance(t, token) != 180 {
		t.Fatalf("stored balance not debited")
	}
}

func TestGenerateUnknownTierFailsClosed(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.register(t, "guru@sekolah.id")

	resp, payload := env.do(t, http.MethodPost, "/api/v1/modules/generate", token, lessonBody(6))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unconfigured tier, got %d (%v)", resp.StatusCode, payload)
	}
	if payload["code"] != "no_cost_configured" {
		t.Fatalf("unexpected code %v", payload["code"])
	}
	if env.balance(t, token) != 200 {
		t.Fatalf("failed resolution moved points")
	}
}

func TestGenerateInsufficientPoints(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.register(t, "guru@sekolah.id")

	// nine one-session generations leave 20 points; the tenth still works,
	// the eleventh must not
	for i := 0; i < 10; i++ {
		resp, payload := env.do(t, http.MethodPost, "/api/v1/modules/generate", token, lessonBody(1))
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("generate %d: status %d (%v)", i, resp.StatusCode, payload)
		}
	}

	resp, payload := env.do(t, http.MethodPost, "/api/v1/modules/generate", token, lessonBody(1))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 on empty balance, got %d (%v)", resp.StatusCode, payload)
	}
	if payload["code"] != "insufficient_points" {
		t.Fatalf("unexpected code %v", payload["code"])
	}
	if env.balance(t, token) != 0 {
		t.Fatalf("balance drifted below zero")
	}
}

func TestGenerateRefundsOnEngineFailure(t *testing.T) {
	env := newTestEnv(t, failingEngine{})
	token := env.register(t, "guru@sekolah.id")

	resp, payload := env.do(t, http.MethodPost, "/api/v1/modules/generate", token, lessonBody(1))
	if resp.StatusCode != http.StatusFailedDependency {
		t.Fatalf("expected 424, got %d (%v)", resp.StatusCode, payload)
	}
	if payload["code"] != "generator_failure" {
		t.Fatalf("unexpected code %v", payload["code"])
	}
	msg, _ := payload["error"].(string)
	if !strings.Contains(msg, "failed") || !strings.Contains(msg, "refunded") {
		t.Fatalf("message does not explain the failure and the refund: %q", msg)
	}
	if env.balance(t, token) != 200 {
		t.Fatalf("engine failure kept the debit")
	}
}

func TestGenerateRefundsOnEngineContentFilter(t *testing.T) {
	env := newTestEnv(t, filteredEngine{})
	token := env.register(t, "guru@sekolah.id")

	resp, payload := env.do(t, http.MethodPost, "/api/v1/modules/generate", token, lessonBody(1))
	if resp.StatusCode != http.StatusFailedDependency {
		t.Fatalf("expected 424, got %d (%v)", resp.StatusCode, payload)
	}
	if payload["code"] != "content_filtered" {
		t.Fatalf("unexpected code %v", payload["code"])
	}
	msg, _ := payload["error"].(string)
	if !strings.Contains(msg, "filtered") || !strings.Contains(msg, "refunded") {
		t.Fatalf("message does not explain the filter and the refund: %q", msg)
	}
	if env.balance(t, token) != 200 {
		t.Fatalf("filtered generation kept the debit")
	}
}

func TestGenerateBlockedContentRefusesBeforeDebit(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.register(t, "guru@sekolah.id")

	body := lessonBody(1)
	body["topic"] = "cara membuat bom sederhana"
	resp, payload := env.do(t, http.MethodPost, "/api/v1/modules/generate", token, body)
	if resp.StatusCode != http.StatusFailedDependency {
		t.Fatalf("expected 424, got %d (%v)", resp.StatusCode, payload)
	}
	if payload["code"] != "content_filtered" {
		t.Fatalf("unexpected code %v", payload["code"])
	}
	if env.balance(t, token) != 200 {
		t.Fatalf("blocked request moved points")
	}
}

func TestGenerateStreamRefundsOnMidStreamFailure(t *testing.T) {
	env := newTestEnv(t, haltingStreamEngine{})
	token := env.register(t, "guru@sekolah.id")

	raw, _ := json.Marshal(lessonBody(1))
	req, err := http.NewRequest(http.MethodPost, env.ts.URL+"/api/v1/modules/generate?stream=true", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream started with status %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "partial") {
		t.Fatalf("expected partial output, got %q", body)
	}
	if env.balance(t, token) != 200 {
		t.Fatalf("mid-stream failure kept the debit")
	}
}

func TestGenerateStreamDeliversWholeDocument(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.register(t, "guru@sekolah.id")

	raw, _ := json.Marshal(lessonBody(2))
	req, _ := http.NewRequest(http.MethodPost, env.ts.URL+"/api/v1/modules/generate?stream=true", bytes.NewReader(raw))
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream request: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "Pertemuan 2") {
		t.Fatalf("stream missing document content")
	}
	if env.balance(t, token) != 160 {
		t.Fatalf("expected 160 after two-session stream, got %d", env.balance(t, token))
	}
}

func TestPurchaseLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	rootToken := env.rootToken(t)
	userToken := env.register(t, "guru@sekolah.id")

	// admin publishes a package first
	resp, _ := env.do(t, http.MethodPut, "/api/v1/admin/pricing", rootToken, map[string]any{
		"packages":        []map[string]any{{"id": "hemat-100", "points": 100, "price": 25000}},
		"payment_methods": []map[string]any{{"name": "Transfer BCA", "details": "1234567890 a.n. ModulPintar"}},
		"session_costs":   []map[string]any{{"sessions": 1, "cost": 20}},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update pricing: status %d", resp.StatusCode)
	}

	resp, payload := env.do(t, http.MethodPost, "/api/v1/purchases", userToken, map[string]any{"package_id": "hemat-100"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create purchase: status %d (%v)", resp.StatusCode, payload)
	}
	tx := payload["transaction"].(map[string]any)
	txID := tx["id"].(string)
	if tx["status"] != "PENDING" {
		t.Fatalf("expected PENDING, got %v", tx["status"])
	}

	confirmPath := fmt.Sprintf("/api/v1/purchases/%s/confirm", txID)
	resp, payload = env.do(t, http.MethodPost, confirmPath, userToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("confirm: status %d (%v)", resp.StatusCode, payload)
	}
	if int64(payload["points"].(float64)) != 300 {
		t.Fatalf("expected 300 after confirm, got %v", payload["points"])
	}
	if payload["already_completed"].(bool) {
		t.Fatalf("first confirm flagged as duplicate")
	}

	// duplicate confirmation (e.g. webhook retry) credits nothing
	resp, payload = env.do(t, http.MethodPost, confirmPath, userToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("duplicate confirm: status %d", resp.StatusCode)
	}
	if !payload["already_completed"].(bool) {
		t.Fatalf("duplicate confirm not flagged")
	}
	if int64(payload["points"].(float64)) != 300 {
		t.Fatalf("duplicate confirm changed balance: %v", payload["points"])
	}
	if env.balance(t, userToken) != 300 {
		t.Fatalf("stored balance wrong after confirms")
	}

	// another account cannot touch the transaction
	otherToken := env.register(t, "lain@sekolah.id")
	resp, _ = env.do(t, http.MethodPost, confirmPath, otherToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign transaction, got %d", resp.StatusCode)
	}
}

func TestPurchaseUnknownPackage(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.register(t, "guru@sekolah.id")

	resp, _ := env.do(t, http.MethodPost, "/api/v1/purchases", token, map[string]any{"package_id": "missing"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown package, got %d", resp.StatusCode)
	}
}

func TestAdminEndpointsRequireAdmin(t *testing.T) {
	env := newTestEnv(t, nil)
	userToken := env.register(t, "guru@sekolah.id")

	resp, _ := env.do(t, http.MethodGet, "/api/v1/admin/users", userToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for regular user, got %d", resp.StatusCode)
	}

	rootToken := env.rootToken(t)
	resp, payload := env.do(t, http.MethodGet, "/api/v1/admin/users", rootToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin list users: status %d", resp.StatusCode)
	}
	users := payload["users"].([]any)
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
}

func TestAdminSetPoints(t *testing.T) {
	env := newTestEnv(t, nil)
	userToken := env.register(t, "guru@sekolah.id")
	rootToken := env.rootToken(t)

	resp, payload := env.do(t, http.MethodGet, "/api/v1/admin/users", rootToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list users: status %d", resp.StatusCode)
	}
	first := payload["users"].([]any)[0].(map[string]any)
	id := int64(first["id"].(float64))

	resp, payload = env.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/admin/users/%d/points", id), rootToken, map[string]any{"points": 500})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set points: status %d (%v)", resp.StatusCode, payload)
	}
	if env.balance(t, userToken) != 500 {
		t.Fatalf("balance not overwritten")
	}

	resp, _ = env.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/admin/users/%d/points", id), rootToken, map[string]any{"points": -1})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative points, got %d", resp.StatusCode)
	}
}

func TestAdminCannotGenerate(t *testing.T) {
	env := newTestEnv(t, nil)
	rootToken := env.rootToken(t)

	resp, payload := env.do(t, http.MethodPost, "/api/v1/modules/generate", rootToken, lessonBody(1))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for admin generation, got %d (%v)", resp.StatusCode, payload)
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, payload := env.do(t, http.MethodGet, "/api/v1/profile", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if payload["code"] != "unauthenticated" {
		t.Fatalf("unexpected code %v", payload["code"])
	}

	resp, _ = env.do(t, http.MethodGet, "/api/v1/profile", "garbage-token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for malformed token, got %d", resp.StatusCode)
	}
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, _ := env.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]any{"email": "not-an-email", "password": "rahasia-sekali"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad email, got %d", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]any{"email": "guru@sekolah.id", "password": "short"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for short password, got %d", resp.StatusCode)
	}

	env.register(t, "guru@sekolah.id")
	resp, payload := env.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]any{"email": "guru@sekolah.id", "password": "rahasia-sekali"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate email, got %d (%v)", resp.StatusCode, payload)
	}
}

func TestPointsHistoryTracksLifecycle(t *testing.T) {
	env := newTestEnv(t, failingEngine{})
	token := env.register(t, "guru@sekolah.id")

	resp, _ := env.do(t, http.MethodPost, "/api/v1/modules/generate", token, lessonBody(1))
	if resp.StatusCode != http.StatusFailedDependency {
		t.Fatalf("expected 424, got %d", resp.StatusCode)
	}

	resp, payload := env.do(t, http.MethodGet, "/api/v1/points/history", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history: status %d", resp.StatusCode)
	}
	summary := payload["summary"].(map[string]any)
	// signup credit + generation debit + refund credit
	if int64(summary["credited_points"].(float64)) != 220 {
		t.Fatalf("unexpected credited %v", summary["credited_points"])
	}
	if int64(summary["debited_points"].(float64)) != 20 {
		t.Fatalf("unexpected debited %v", summary["debited_points"])
	}
	entries := payload["entries"].([]any)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	// debit and refund share a request id
	var debitReq, refundReq string
	for _, raw := range entries {
		e := raw.(map[string]any)
		switch e["reason"] {
		case "generation":
			debitReq, _ = e["request_id"].(string)
		case "refund":
			refundReq, _ = e["request_id"].(string)
		}
	}
	if debitReq == "" || debitReq != refundReq {
		t.Fatalf("refund not tied to its debit: %q vs %q", debitReq, refundReq)
	}
}

func TestPublicPricingEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, payload := env.do(t, http.MethodGet, "/api/v1/pricing", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pricing: status %d", resp.StatusCode)
	}
	tiers := payload["session_costs"].([]any)
	if len(tiers) != 5 {
		t.Fatalf("expected default tiers, got %d", len(tiers))
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, payload := env.do(t, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: status %d", resp.StatusCode)
	}
	if payload["status"] != "ok" {
		t.Fatalf("unexpected payload %v", payload)
	}
}
