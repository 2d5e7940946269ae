package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"featurevotes/internal/config"
	"featurevotes/internal/mdk"
	"featurevotes/internal/models"
	"featurevotes/internal/service"
	"featurevotes/internal/store"
)

var fixedNow = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

const testReconcileSecret = "ops-secret"

type downCollaborator struct {
	*mdk.Sandbox
}

func (downCollaborator) ListProducts(ctx context.Context) ([]models.FeatureProduct, error) {
	return nil, errors.New("dial tcp: connection refused")
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type testServer struct {
	handler http.Handler
	sandbox *mdk.Sandbox
}

func newTestServer(t *testing.T, collaborator service.Collaborator, sandbox *mdk.Sandbox) *testServer {
	t.Helper()
	return newTestServerWithSecret(t, collaborator, sandbox, testReconcileSecret)
}

func newTestServerWithSecret(t *testing.T, collaborator service.Collaborator, sandbox *mdk.Sandbox, reconcileSecret string) *testServer {
	t.Helper()

	db, err := store.ConnectDB(store.DriverSQLite, filepath.Join(t.TempDir(), "votes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	migrations, err := store.MigrationsFor(store.DriverSQLite)
	require.NoError(t, err)
	require.NoError(t, store.RunMigrations(db, migrations))
	ledger := store.NewDBStore(db, store.DriverSQLite)

	logger := log.New(io.Discard, "", 0)
	cfg := &config.Config{ProductPrefix: "Feature:", SuccessURL: "/roadmap"}
	svc := service.NewVoteService(logger, ledger, collaborator, nil, cfg)
	svc.SetClock(func() time.Time { return fixedNow })

	return &testServer{handler: NewRouter(logger, svc, ledger, reconcileSecret), sandbox: sandbox}
}

func newSandboxServer(t *testing.T) *testServer {
	sandbox := mdk.NewSandbox(mdk.DefaultSandboxProducts(), 0)
	return newTestServer(t, sandbox, sandbox)
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	return s.doWithHeader(t, method, path, body, nil)
}

func (s *testServer) doWithHeader(t *testing.T, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for key, values := range header {
		req.Header[key] = values
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) createCheckout(t *testing.T, productID string, sats int64) models.FeatureCheckout {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/feature-votes/create-checkout",
		`{"productId":"`+productID+`","amountSats":`+jsonInt(sats)+`}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Data models.FeatureCheckout `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Data
}

func (s *testServer) vote(t *testing.T, productID string, sats int64) string {
	t.Helper()
	checkout := s.createCheckout(t, productID, sats)
	require.NoError(t, s.sandbox.Pay(checkout.CheckoutID))
	rec := s.do(t, http.MethodPost, "/api/feature-votes/confirm", `{"checkoutId":"`+checkout.CheckoutID+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return checkout.CheckoutID
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload ErrorResponsePayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload.Error
}

func TestConfirmHandler(t *testing.T) {
	srv := newSandboxServer(t)

	rec := srv.do(t, http.MethodPost, "/api/feature-votes/confirm", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid JSON body", decodeError(t, rec))

	rec = srv.do(t, http.MethodPost, "/api/feature-votes/confirm", `{"checkoutId":42}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "checkoutId is required", decodeError(t, rec))

	rec = srv.do(t, http.MethodPost, "/api/feature-votes/confirm", `{"checkoutId":"chk_missing"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	checkout := srv.createCheckout(t, "prod_payjoin", 1000)
	rec = srv.do(t, http.MethodPost, "/api/feature-votes/confirm", `{"checkoutId":"`+checkout.CheckoutID+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"accepted":false,"inserted":false,"status":"PENDING_PAYMENT"}`, rec.Body.String())

	require.NoError(t, srv.sandbox.Pay(checkout.CheckoutID))
	for _, wantInserted := range []bool{true, false} {
		rec = srv.do(t, http.MethodPost, "/api/feature-votes/confirm", `{"checkoutId":"`+checkout.CheckoutID+`"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var result models.VoteConfirmation
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.True(t, result.Accepted)
		assert.Equal(t, wantInserted, result.Inserted)
		assert.Equal(t, "prod_payjoin", result.FeatureProductID)
		assert.Equal(t, int64(1000), result.SettledSats)
	}

	rec = srv.do(t, http.MethodGet, "/api/feature-votes/confirm", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCreateCheckoutHandler(t *testing.T) {
	srv := newSandboxServer(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{"invalid json", `[`, http.StatusBadRequest, "Invalid JSON body"},
		{"missing product", `{"amountSats":100}`, http.StatusBadRequest, "productId is required"},
		{"string amount", `{"productId":"prod_payjoin","amountSats":"100"}`, http.StatusBadRequest, "amountSats must be an integer greater than 0"},
		{"zero amount", `{"productId":"prod_payjoin","amountSats":0.4}`, http.StatusBadRequest, "amountSats must be an integer greater than 0"},
		{"unknown product", `{"productId":"prod_nope","amountSats":100}`, http.StatusNotFound, ""},
		{"not a feature", `{"productId":"prod_donation","amountSats":100}`, http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(t, http.MethodPost, "/api/feature-votes/create-checkout", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, decodeError(t, rec))
			}
		})
	}

	rec := srv.do(t, http.MethodPost, "/api/feature-votes/create-checkout", `{"productId":"prod_payjoin","amountSats":99.6}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data models.FeatureCheckout `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(100), resp.Data.AmountSats)
	assert.True(t, strings.HasPrefix(resp.Data.Invoice, "lnbcrt100n"))
	assert.NotEmpty(t, resp.Data.CheckoutID)
}

func TestCheckoutStateHandler(t *testing.T) {
	srv := newSandboxServer(t)
	checkout := srv.createCheckout(t, "prod_coin_control", 2000)

	rec := srv.do(t, http.MethodGet, "/api/feature-votes/checkouts/"+checkout.CheckoutID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var state models.CheckoutState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.False(t, state.Paid)
	assert.Equal(t, checkout.ExpiresAt, state.ExpiresAt)

	require.NoError(t, srv.sandbox.Expire(checkout.CheckoutID))
	rec = srv.do(t, http.MethodGet, "/api/feature-votes/checkouts/"+checkout.CheckoutID, "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.True(t, state.Expired)

	rec = srv.do(t, http.MethodGet, "/api/feature-votes/checkouts/chk_missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReconcileHandler(t *testing.T) {
	srv := newSandboxServer(t)
	checkout := srv.createCheckout(t, "prod_payjoin", 1000)
	require.NoError(t, srv.sandbox.Pay(checkout.CheckoutID))

	authed := http.Header{ReconcileSecretHeader: []string{testReconcileSecret}}

	rec := srv.doWithHeader(t, http.MethodPost, "/api/feature-votes/reconcile", "", authed)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"found":1,"alreadyRecorded":0,"inserted":1,"skippedInvalid":0,"failed":0}`, rec.Body.String())

	rec = srv.doWithHeader(t, http.MethodPost, "/api/feature-votes/reconcile", `{"checkoutIds":["`+checkout.CheckoutID+`","chk_missing"]}`, authed)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"found":1,"alreadyRecorded":1,"inserted":0,"skippedInvalid":1,"failed":0}`, rec.Body.String())
}

func TestReconcileHandler_RequiresSecret(t *testing.T) {
	srv := newSandboxServer(t)

	rec := srv.do(t, http.MethodPost, "/api/feature-votes/reconcile", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Missing X-Reconcile-Secret header", decodeError(t, rec))

	rec = srv.doWithHeader(t, http.MethodPost, "/api/feature-votes/reconcile", "",
		http.Header{ReconcileSecretHeader: []string{"wrong"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Invalid X-Reconcile-Secret header", decodeError(t, rec))
}

func TestReconcileHandler_DisabledWithoutSecret(t *testing.T) {
	sandbox := mdk.NewSandbox(mdk.DefaultSandboxProducts(), 0)
	srv := newTestServerWithSecret(t, sandbox, sandbox, "")

	rec := srv.doWithHeader(t, http.MethodPost, "/api/feature-votes/reconcile", "",
		http.Header{ReconcileSecretHeader: []string{""}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLeaderboardHandler_Golden(t *testing.T) {
	srv := newSandboxServer(t)
	srv.vote(t, "prod_payjoin", 1000)
	srv.vote(t, "prod_payjoin", 500)
	srv.vote(t, "prod_silent_payments", 5000)

	rec := srv.do(t, http.MethodGet, "/api/feature-votes/leaderboard", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var pretty bytes.Buffer
	require.NoError(t, json.Indent(&pretty, rec.Body.Bytes(), "", "  "))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "leaderboard", pretty.Bytes())
}

func TestUpstreamFailureIsBadGateway(t *testing.T) {
	sandbox := mdk.NewSandbox(mdk.DefaultSandboxProducts(), 0)
	srv := newTestServer(t, downCollaborator{Sandbox: sandbox}, sandbox)

	rec := srv.do(t, http.MethodGet, "/api/feature-votes/leaderboard", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "Payment provider request failed", decodeError(t, rec))
}

func TestHealthz(t *testing.T) {
	srv := newSandboxServer(t)
	rec := srv.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	logger := log.New(io.Discard, "", 0)
	down := NewRouter(logger, nil, pingFunc(func(ctx context.Context) error { return errors.New("closed") }), "")
	rec = httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
