package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/bidbox/internal/chain"
	"github.com/mbd888/bidbox/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:          "0",
		Env:           "development",
		LogLevel:      "error",
		RPCURL:        "https://sepolia.base.org",
		ChainID:       84532,
		PrivateKey:    "0000000000000000000000000000000000000000000000000000000000000001",
		TokenContract: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		TokenSymbol:   "USDC",
		TokenDecimals: 6,
		TokenName:     "USD Coin",
		TokenVersion:  "2",
		NonceSecret:   "test-secret-at-least-16-bytes",
		SweepInterval: time.Minute,
	}
}

// newTestServer creates a server with a simulated chain adapter
func newTestServer(t *testing.T) *Server {
	t.Helper()
	sim := chain.NewSimulated(chain.Domain{
		Name:              "USD Coin",
		Version:           "2",
		ChainID:           84532,
		VerifyingContract: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
	})
	s, err := New(testConfig(), WithAdapter(sim))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/healthz", nil)
	s.router.ServeHTTP(w, req)

	// The sweeper isn't running outside Run(), so the aggregate is degraded,
	// but the endpoint must respond and report per-subsystem state.
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["status"] == nil {
		t.Error("Expected status field in health response")
	}
	if resp["checks"] == nil {
		t.Error("Expected checks field in health response")
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/live", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/readyz", nil)
	s.router.ServeHTTP(w, req)

	// Server hasn't called Run() so ready is false
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestMessageRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	messageRoutes := map[string]bool{
		"POST:/v1/messages":              false,
		"GET:/v1/messages/:id":           false,
		"POST:/v1/messages/:id/open":     false,
		"POST:/v1/messages/:id/accept":   false,
		"POST:/v1/messages/:id/decline":  false,
		"POST:/v1/messages/:id/reply":    false,
		"GET:/v1/agents/:address/messages": false,
	}

	for _, route := range routes {
		key := route.Method + ":" + route.Path
		if _, ok := messageRoutes[key]; ok {
			messageRoutes[key] = true
		}
	}

	for route, found := range messageRoutes {
		if !found {
			t.Errorf("Message route %s not registered", route)
		}
	}
}

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	expected := []string{
		"GET:/healthz",
		"GET:/health/live",
		"GET:/readyz",
		"GET:/metrics",
		"GET:/v1/ws",
		"POST:/v1/profiles",
		"GET:/v1/profiles/:wallet",
		"GET:/v1/reputation/:address",
		"POST:/v1/vouches",
		"POST:/v1/blocks",
		"GET:/v1/recipients/:recipient/price-guide",
	}

	routeSet := make(map[string]bool)
	for _, route := range routes {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Core route %s not registered", e)
		}
	}
}

// ---------------------------------------------------------------------------
// Commit challenge test (end to end through the router)
// ---------------------------------------------------------------------------

func TestCommitWithoutPaymentChallenges(t *testing.T) {
	s := newTestServer(t)

	body := `{
		"recipient": "0xbbbb000000000000000000000000000000000002",
		"content": "hello there",
		"bidUsd": "1.50",
		"senderAddr": "0xaaaa000000000000000000000000000000000001",
		"senderName": "tester"
	}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/messages", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusPaymentRequired {
		t.Errorf("Expected 402 challenge, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["paymentRequirements"] == nil {
		t.Error("Expected paymentRequirements in challenge response")
	}
}

// ---------------------------------------------------------------------------
// Profile registration test
// ---------------------------------------------------------------------------

func TestProfileRegistration(t *testing.T) {
	s := newTestServer(t)

	body := `{"wallet":"0xaaaa000000000000000000000000000000000001","username":"testbot","minBidUsd":"1.00"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/profiles", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Errorf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["profile"] == nil {
		t.Error("Expected profile in registration response")
	}
}

// ---------------------------------------------------------------------------
// 404 test
// ---------------------------------------------------------------------------

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/nonexistent", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}
