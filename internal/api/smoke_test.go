// Package api_test runs HTTP-level smoke tests using net/http/httptest.
// These tests do NOT require a PostgreSQL database — they verify:
//   - Gin router routing and middleware wiring
//   - Request validation error responses (400)
//   - JWT auth middleware (401 without token, 401 with bad token)
//   - Response format consistency (success/error envelope)
package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lendaro/settlement/internal/api"
	"github.com/lendaro/settlement/internal/config"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

const testSecret = "test-access-secret-abcdefghijklmnop"

func testCfg() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Env:  "development",
			Port: "8080",
		},
		JWT: config.JWTConfig{
			AccessSecret: testSecret,
		},
	}
}

// buildTestRouter creates a Gin engine with nil services.  The JWT gate and
// the handlers' validation layer run before any service is touched, which is
// all these tests exercise.
func buildTestRouter(t *testing.T) http.Handler {
	t.Helper()
	return api.SetupRouter(api.RouterDeps{
		HoldSvc:    nil,
		InvestSvc:  nil,
		FalloutSvc: nil,
		Ledger:     nil,
		WalletRepo: nil,
		InvestRepo: nil,
		Hub:        nil,
		Cfg:        testCfg(),
	})
}

// signToken issues a valid HS256 bearer token for the test secret.
func signToken(t *testing.T) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  uuid.New().String(),
		"role": "user",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign test token: %v", err)
	}
	return signed
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf *bytes.Buffer
	if body != "" {
		buf = bytes.NewBufferString(body)
	} else {
		buf = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func authed(t *testing.T) map[string]string {
	return map[string]string{"Authorization": "Bearer " + signToken(t)}
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&m); err != nil {
		t.Fatalf("response is not valid JSON: %v — body: %s", err, rr.Body.String())
	}
	return m
}

// ── /healthz ──────────────────────────────────────────────────────────────────

func TestHealthEndpoint(t *testing.T) {
	h := buildTestRouter(t)
	rr := do(t, h, http.MethodGet, "/healthz", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("GET /healthz = %d, want 200", rr.Code)
	}
}

func TestMetricsEndpoint_IsPublic(t *testing.T) {
	h := buildTestRouter(t)
	rr := do(t, h, http.MethodGet, "/metrics", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("GET /metrics = %d, want 200", rr.Code)
	}
}

// ── JWT auth middleware (no token → 401) ──────────────────────────────────────

func TestCreateHold_NoToken_Returns401(t *testing.T) {
	h := buildTestRouter(t)
	rr := do(t, h, http.MethodPost, "/api/v1/holds", `{}`, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("POST /api/v1/holds without token = %d, want 401", rr.Code)
	}
}

func TestWalletBalance_NoToken_Returns401(t *testing.T) {
	h := buildTestRouter(t)
	rr := do(t, h, http.MethodGet, "/api/v1/wallets/"+uuid.New().String(), "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("GET wallet without token = %d, want 401", rr.Code)
	}
}

func TestInvestmentWithdraw_NoToken_Returns401(t *testing.T) {
	h := buildTestRouter(t)
	rr := do(t, h, http.MethodPost, "/api/v1/investments/"+uuid.New().String()+"/withdraw", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("POST investment withdraw without token = %d, want 401", rr.Code)
	}
}

// ── JWT auth middleware (invalid token → 401) ─────────────────────────────────

func TestCreateHold_InvalidToken_Returns401(t *testing.T) {
	h := buildTestRouter(t)
	rr := do(t, h, http.MethodPost, "/api/v1/holds", `{}`, map[string]string{
		"Authorization": "Bearer not.a.valid.jwt",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("POST /api/v1/holds with bad JWT = %d, want 401", rr.Code)
	}
}

func TestCreateHold_WrongSecret_Returns401(t *testing.T) {
	h := buildTestRouter(t)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": uuid.New().String(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte("some-other-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	rr := do(t, h, http.MethodPost, "/api/v1/holds", `{}`, map[string]string{
		"Authorization": "Bearer " + signed,
	})
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("POST /api/v1/holds with wrong-secret JWT = %d, want 401", rr.Code)
	}
}

// ── Validation layer (authenticated, before any service is touched) ───────────

func TestCreateHold_MissingFields(t *testing.T) {
	h := buildTestRouter(t)
	rr := do(t, h, http.MethodPost, "/api/v1/holds", `{}`, authed(t))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("POST /api/v1/holds empty body = %d, want 400", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["success"] != false {
		t.Errorf("response.success should be false on error, got %v", body["success"])
	}
	if body["code"] == nil {
		t.Errorf("error envelope missing 'code', got: %v", body)
	}
}

func TestCreateHold_NegativeShippingCost(t *testing.T) {
	h := buildTestRouter(t)
	payload := `{
		"item_id":"11111111-1111-1111-1111-111111111111",
		"borrower_wallet_id":"22222222-2222-2222-2222-222222222222",
		"owner_wallet_id":"33333333-3333-3333-3333-333333333333",
		"shipping_cost":"-25.00"
	}`
	rr := do(t, h, http.MethodPost, "/api/v1/holds", payload, authed(t))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("negative shipping_cost = %d, want 400", rr.Code)
	}
}

func TestGetHold_MalformedID(t *testing.T) {
	h := buildTestRouter(t)
	rr := do(t, h, http.MethodGet, "/api/v1/holds/not-a-uuid", "", authed(t))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("GET /api/v1/holds/not-a-uuid = %d, want 400", rr.Code)
	}
}

func TestEnableRiskyMode_MissingTolerance(t *testing.T) {
	h := buildTestRouter(t)
	path := "/api/v1/holds/" + uuid.New().String() + "/risky-mode"
	rr := do(t, h, http.MethodPost, path, `{}`, authed(t))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("risky-mode without tolerance = %d, want 400", rr.Code)
	}
}

func TestResolveFallout_NegativeLoss(t *testing.T) {
	h := buildTestRouter(t)
	path := "/api/v1/holds/" + uuid.New().String() + "/fallout"
	rr := do(t, h, http.MethodPost, path, `{"total_loss":"-10"}`, authed(t))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("fallout with negative loss = %d, want 400", rr.Code)
	}
}

// ── Error envelope format ─────────────────────────────────────────────────────

func TestErrorEnvelope_HasRequiredFields(t *testing.T) {
	h := buildTestRouter(t)
	rr := do(t, h, http.MethodPost, "/api/v1/holds", `{}`, authed(t))
	body := decodeBody(t, rr)

	for _, field := range []string{"success", "error", "code"} {
		if _, ok := body[field]; !ok {
			t.Errorf("error envelope missing field %q, got: %v", field, body)
		}
	}
	if body["success"] != false {
		t.Errorf("error envelope.success = %v, want false", body["success"])
	}
}
