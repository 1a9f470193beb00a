package broker

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSignedRequestCarriesExactHMACSignature implements §8 scenario 4:
// a signed request must carry X-API-Key/X-Timestamp/X-Signature where
// the signature is HMAC-SHA256 of "METHOD|PATH|params|body|TIMESTAMP"
// keyed by the configured secret, byte-for-byte reproducible given a
// fixed clock.
func TestSignedRequestCarriesExactHMACSignature(t *testing.T) {
	type captured struct{ key, timestamp, signature, method string }
	seen := map[string]captured{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		seen[req.URL.Path] = captured{
			key:       req.Header.Get("X-API-Key"),
			timestamp: req.Header.Get("X-Timestamp"),
			signature: req.Header.Get("X-Signature"),
			method:    req.Method,
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"tok-123"}`))
	}))
	defer server.Close()

	fixedClock := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	b := NewRESTBroker("testvendor", RESTConfig{
		BaseURL:   server.URL,
		Account:   "acct1",
		Password:  "secret",
		APIKey:    "key-abc",
		APISecret: "shh",
		PollInterval: time.Hour,
	}, zerolog.Nop())
	b.clock = func() time.Time { return fixedClock }

	require.NoError(t, b.Connect(context.Background()))
	err := b.Login(context.Background())
	require.NoError(t, err)
	defer b.Disconnect()

	loginReq, ok := seen[b.cfg.Endpoints.Login]
	require.True(t, ok, "the login path should have received a request")
	assert.Equal(t, "key-abc", loginReq.key)
	assert.Equal(t, fixedClock.Format(time.RFC3339), loginReq.timestamp)
	require.NotEmpty(t, loginReq.signature)

	payload := map[string]any{
		"account":  "acct1",
		"password": "secret",
		"server":   "",
		"port":     0,
	}
	wantPayload := canonicalPayload(nil, payload)
	message := "POST|" + b.cfg.Endpoints.Login + "|" + wantPayload + "|" + loginReq.timestamp
	mac := hmac.New(sha256.New, []byte("shh"))
	mac.Write([]byte(message))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), loginReq.signature)
}

// TestScenario4SignedRequestWithParamsAndBody implements spec.md §8
// scenario 4 literally: POST /api/order with JSON body {"price":10} and
// query params {"code":"000001"} must sign
// "POST|/api/order|code=000001|{\"price\":10}|<timestamp>". This is the
// case TestSignedRequestCarriesExactHMACSignature above never exercises
// (that one only ever sends a body, never params), which is exactly
// where canonicalPayload previously dropped query params from the
// signed payload.
func TestScenario4SignedRequestWithParamsAndBody(t *testing.T) {
	var gotSig, gotTimestamp, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotSig = req.Header.Get("X-Signature")
		gotTimestamp = req.Header.Get("X-Timestamp")
		gotQuery = req.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	fixedClock := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
	b := NewRESTBroker("testvendor", RESTConfig{
		BaseURL:      server.URL,
		APIKey:       "demo",
		APISecret:    "secret",
		PollInterval: time.Hour,
	}, zerolog.Nop())
	b.clock = func() time.Time { return fixedClock }

	_, err := b.doRequestParams(context.Background(), "POST", "/api/order", false,
		map[string]string{"code": "000001"}, map[string]int{"price": 10}, nil)
	require.NoError(t, err)

	require.NotEmpty(t, gotQuery, "the code param should have been sent on the wire")
	require.NotEmpty(t, gotSig)

	message := "POST|/api/order|code=000001|{\"price\":10}|" + gotTimestamp
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte(message))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), gotSig)
}

func TestLoginExtractsTokenAndStartsAuthenticatedState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/api/ping":
			w.WriteHeader(http.StatusOK)
		case "/api/auth/login":
			_ = json.NewEncoder(w).Encode(map[string]string{"token": "abc"})
		default:
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	defer server.Close()

	b := NewRESTBroker("testvendor", RESTConfig{BaseURL: server.URL, PollInterval: time.Hour}, zerolog.Nop())
	require.NoError(t, b.Connect(context.Background()))
	assert.True(t, b.IsConnected())
	require.NoError(t, b.Login(context.Background()))
	assert.True(t, b.IsLoggedIn())
	b.Disconnect()
}

func TestCanonicalPayloadSortsKeys(t *testing.T) {
	p1 := canonicalPayload(nil, map[string]any{"b": 1, "a": 2})
	p2 := canonicalPayload(nil, map[string]any{"a": 2, "b": 1})
	assert.Equal(t, p1, p2)
}
