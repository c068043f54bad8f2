package rpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"dataspace/core/events"
	"dataspace/core/runtime"
	"dataspace/core/state"
	"dataspace/crypto"
	"dataspace/native/accounts"
	"dataspace/native/bank"
	"dataspace/native/common"
	"dataspace/native/escrow"
	"dataspace/native/orderbook"
	"dataspace/storage"
)

const testSecret = "rpc-test-secret"

var (
	company  = [20]byte{0xC0}
	person   = [20]byte{0xB0}
	stranger = [20]byte{0xEE}
)

type testEnv struct {
	rt     *runtime.Runtime
	hub    *events.Hub
	server *Server
	auth   AuthConfig
}

func newTestEnv(t *testing.T, limit RateLimit) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := events.NewHub()
	rt := runtime.New(state.NewManager(storage.NewMemDB()), runtime.Config{
		EscrowLockBlocks:   10,
		PunitiveLockBlocks: 20,
	}, runtime.WithEmitter(hub), runtime.WithLogger(logger))
	require.NoError(t, rt.Credit(context.Background(), company, big.NewInt(1000)))
	auth := AuthConfig{HMACSecret: testSecret, Issuer: "dataspace", Audience: "market"}
	server := NewServer(rt, hub, ServerConfig{Auth: auth, RateLimit: limit}, logger)
	return &testEnv{rt: rt, hub: hub, server: server, auth: auth}
}

func (e *testEnv) token(t *testing.T, caller [20]byte) string {
	t.Helper()
	tok, err := IssueToken(e.auth, caller, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path string, caller *[20]byte, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "192.0.2.1:1234"
	if caller != nil {
		req.Header.Set("Authorization", "Bearer "+e.token(t, *caller))
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func addr(a [20]byte) string { return crypto.AccountAddress(a).String() }

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (e *testEnv) seed(t *testing.T, payload string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/v1/orders", &company, publishOrderRequest{
		Name: "weather", Reference: b64("schema-X"), UnitPrice: "100",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, uint64(0), decode[publishOrderResponse](t, rec).OrderID)

	rec = e.do(t, http.MethodPost, "/v1/data", &person, dataRequest{
		Name: "readings", Payload: b64(payload), Company: addr(company), OrderID: 0,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	rec := env.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get(headerRequestID))
}

func TestMutationsRequireToken(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	rec := env.do(t, http.MethodPost, "/v1/orders", nil, publishOrderRequest{Name: "x", UnitPrice: "1"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/orders", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "unauthenticated", decode[errorResponse](t, rec).Code)
}

func TestTokenAudienceMismatch(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	other := env.auth
	other.Audience = "elsewhere"
	tok, err := IssueToken(other, company, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/escrow/buy", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBuyConfirmFlow(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	env.seed(t, "real-data")

	rec := env.do(t, http.MethodGet, "/v1/orders/"+addr(company), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	orders := decode[[]orderJSON](t, rec)
	require.Len(t, orders, 1)
	require.Equal(t, "100", orders[0].UnitPrice)
	require.Equal(t, b64("schema-X"), orders[0].Reference)

	escrowBody := escrowRequest{Person: addr(person), OrderID: 0}
	rec = env.do(t, http.MethodPost, "/v1/escrow/buy", &company, escrowBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	deal := decode[dealJSON](t, rec)
	require.Equal(t, "100", deal.Amount)
	require.Equal(t, escrow.DealStatusLocked.String(), deal.Status)

	rec = env.do(t, http.MethodGet, "/v1/accounts/"+addr(person), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	account := decode[accountJSON](t, rec)
	require.Equal(t, "100", account.Balance)
	require.Equal(t, "0", account.Usable)
	require.Len(t, account.Locks, 1)

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/v1/escrow/download/%s/%s/0", addr(person), addr(company)), &company, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, b64("real-data"), decode[payloadJSON](t, rec).Payload)

	rec = env.do(t, http.MethodPost, "/v1/escrow/confirm", &company, escrowBody)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/v1/escrow/deals/%s/%s/0", addr(company), addr(person)), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, escrow.DealStatusConfirmed.String(), decode[dealJSON](t, rec).Status)

	rec = env.do(t, http.MethodGet, "/v1/accounts/"+addr(person), nil, nil)
	account = decode[accountJSON](t, rec)
	require.Equal(t, "100", account.Usable)
	require.Empty(t, account.Locks)
}

func TestTipOffVerdict(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	env.seed(t, "schema-X")

	escrowBody := escrowRequest{Person: addr(person), OrderID: 0}
	rec := env.do(t, http.MethodPost, "/v1/escrow/buy", &company, escrowBody)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/escrow/tipoff", &company, escrowBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.False(t, decode[tipOffResponse](t, rec).Verdict)

	rec = env.do(t, http.MethodGet, "/v1/accounts/"+addr(person), nil, nil)
	require.Len(t, decode[accountJSON](t, rec).Locks, 1)
}

func TestErrorMapping(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	env.seed(t, "real-data")
	escrowBody := escrowRequest{Person: addr(person), OrderID: 0}

	rec := env.do(t, http.MethodPost, "/v1/escrow/buy", &person, escrowRequest{Person: addr(person), OrderID: 0})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/escrow/buy", &company, escrowRequest{Person: addr(person), OrderID: 7})
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "not_found", decode[errorResponse](t, rec).Code)

	rec = env.do(t, http.MethodPost, "/v1/escrow/confirm", &company, escrowBody)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/data", &person, dataRequest{
		Name: "again", Payload: b64("x"), Company: addr(company), OrderID: 0,
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/v1/escrow/download/%s/%s/0", addr(person), addr(company)), &stranger, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/orders", &company, publishOrderRequest{Name: "x", UnitPrice: "ten"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/orders/not-an-address", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPayloadsOnlyServedToParties(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	env.seed(t, "real-data")
	download := fmt.Sprintf("/v1/escrow/download/%s/%s/0", addr(person), addr(company))

	rec := env.do(t, http.MethodGet, "/v1/data/"+addr(person), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "contentKey")
	require.NotContains(t, rec.Body.String(), b64("real-data"))

	rec = env.do(t, http.MethodGet, "/v1/content/0", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.NotContains(t, rec.Body.String(), b64("real-data"))

	rec = env.do(t, http.MethodGet, download, nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, download, &stranger, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, download, &company, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	errBody := decode[errorResponse](t, rec)
	require.Equal(t, "unauthorized", errBody.Code)
	require.Contains(t, errBody.Error, "not purchased")

	rec = env.do(t, http.MethodGet, download, &person, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, b64("real-data"), decode[payloadJSON](t, rec).Payload)
}

func TestRegisterAccount(t *testing.T) {
	env := newTestEnv(t, RateLimit{})

	rec := env.do(t, http.MethodPost, "/v1/accounts", &company, registerAccountRequest{Name: "Acme", Type: "company"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, "company", decode[profileJSON](t, rec).Type)

	rec = env.do(t, http.MethodPost, "/v1/accounts", &company, registerAccountRequest{Name: "Acme", Type: "company"})
	require.Equal(t, http.StatusConflict, rec.Code)
	rec = env.do(t, http.MethodPost, "/v1/accounts", &person, registerAccountRequest{Name: "alice", Type: "robot"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodPost, "/v1/accounts", &person, registerAccountRequest{Name: "alice", Type: "individual"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/orders", &person, publishOrderRequest{Name: "x", UnitPrice: "1"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/accounts/"+addr(company), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	account := decode[accountJSON](t, rec)
	require.NotNil(t, account.Profile)
	require.Equal(t, "Acme", account.Profile.Name)

	rec = env.do(t, http.MethodGet, "/v1/accounts/"+addr(stranger), nil, nil)
	require.Nil(t, decode[accountJSON](t, rec).Profile)
}

func TestBuyInsufficientFunds(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	rec := env.do(t, http.MethodPost, "/v1/orders", &company, publishOrderRequest{
		Name: "pricey", Reference: b64("ref"), UnitPrice: "5000",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = env.do(t, http.MethodPost, "/v1/data", &person, dataRequest{
		Name: "d", Payload: b64("data"), Company: addr(company), OrderID: 0,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/escrow/buy", &company, escrowRequest{Person: addr(person), OrderID: 0})
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("wrap: %w", escrow.ErrUnauthorized):   http.StatusForbidden,
		escrow.ErrNotPurchased:                           http.StatusForbidden,
		accounts.ErrWrongRole:                            http.StatusForbidden,
		accounts.ErrAlreadyRegistered:                    http.StatusConflict,
		escrow.ErrOrderNotFound:                          http.StatusNotFound,
		bank.ErrInsufficientFunds:                        http.StatusPaymentRequired,
		escrow.ErrDealSettled:                            http.StatusConflict,
		runtime.ErrPayloadTooLarge:                       http.StatusBadRequest,
		common.ErrQuotaBytesExceeded:                     http.StatusTooManyRequests,
		fmt.Errorf("escrow: %w", common.ErrModulePaused): http.StatusServiceUnavailable,
		errors.New("disk on fire"):                       http.StatusInternalServerError,
	}
	for err, want := range cases {
		got, _ := statusFor(err)
		require.Equal(t, want, got, err.Error())
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, RateLimit{RequestsPerSecond: 0.001, Burst: 2})
	path := "/v1/orders/" + addr(company)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, path, nil, nil).Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, path, nil, nil).Code)
	rec := env.do(t, http.MethodGet, path, nil, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "rate_limited", decode[errorResponse](t, rec).Code)
}

func TestRateLimiterKeysByCaller(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerSecond: 0.001, Burst: 1})
	require.True(t, limiter.allow("caller:a"))
	require.False(t, limiter.allow("caller:a"))
	require.True(t, limiter.allow("caller:b"))

	limiter.clockNow = func() time.Time { return time.Now().Add(time.Hour) }
	require.True(t, limiter.allow("caller:c"))
	require.Len(t, limiter.visitors, 1)
}

func TestExtractBearer(t *testing.T) {
	require.Equal(t, "abc", extractBearer("Bearer abc"))
	require.Equal(t, "abc", extractBearer("bearer  abc "))
	require.Empty(t, extractBearer("Basic abc"))
	require.Empty(t, extractBearer(""))
}

func TestRequestIDReused(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	id := "5b0d8c8e-8f63-4c43-9d38-4f4f0f8ab0a1"
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(headerRequestID, id)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, id, rec.Header().Get(headerRequestID))
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events?type=dataspace.order."
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return env.hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, env.rt.Credit(ctx, person, big.NewInt(1)))
	_, err = env.rt.PublishOrder(ctx, company, "weather", []byte("ref"), big.NewInt(5))
	require.NoError(t, err)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var envelope events.Envelope
	require.NoError(t, json.Unmarshal(data, &envelope))
	require.Equal(t, orderbook.EventTypeOrderPublished, envelope.Type)
	require.Equal(t, "0", envelope.Attributes["orderId"])
	require.NotEmpty(t, envelope.ID)
}

func TestCORSPreflight(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server := NewServer(nil, nil, ServerConfig{AllowedOrigins: []string{"https://market.example"}}, logger)

	req := httptest.NewRequest(http.MethodOptions, "/v1/orders", nil)
	req.Header.Set("Origin", "https://market.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "https://market.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
