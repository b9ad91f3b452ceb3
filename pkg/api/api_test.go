package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/intentmesh/pkg/lifecycle"
	"github.com/speedrun-hq/intentmesh/pkg/models"
	"github.com/speedrun-hq/intentmesh/pkg/settlement"
	"github.com/speedrun-hq/intentmesh/pkg/storage"
	"github.com/speedrun-hq/intentmesh/pkg/storage/memory"
	"github.com/speedrun-hq/intentmesh/pkg/testutil"
	"github.com/speedrun-hq/intentmesh/pkg/tokens"
)

type pingFailing struct {
	*lifecycle.Controller
}

func (pingFailing) Ping(context.Context) error {
	return storage.Fault("ping", errors.New("connection refused"))
}

type testServer struct {
	handler http.Handler
	clock   *testutil.FakeClock
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()
	clk := testutil.NewFakeClock(testutil.BaseTime)
	store := memory.NewIntentStore(storage.WithClock(clk))
	ctrl := lifecycle.NewController(store, lifecycle.WithClock(clk))
	return &testServer{
		handler: NewServer("0", ctrl, opts...).Handler(),
		clock:   clk,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) create(t *testing.T, intent models.Intent) models.Intent {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/intents", testutil.CreateFrom(intent))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created models.Intent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	return created
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = s.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	clk := testutil.NewFakeClock(testutil.BaseTime)
	ctrl := lifecycle.NewController(memory.NewIntentStore(storage.WithClock(clk)), lifecycle.WithClock(clk))
	failing := NewServer("0", pingFailing{ctrl}).Handler()
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	out := httptest.NewRecorder()
	failing.ServeHTTP(out, req)
	assert.Equal(t, http.StatusServiceUnavailable, out.Code)
}

func TestMetricsAuth(t *testing.T) {
	s := newTestServer(t, WithMetricsAPIKey("secret"))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing header", header: "", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic secret", want: http.StatusUnauthorized},
		{name: "wrong key", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "valid key", header: "Bearer secret", want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			s.handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	t.Run("no key configured", func(t *testing.T) {
		open := newTestServer(t)
		rec := open.do(t, http.MethodGet, "/metrics", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestCreateGetList(t *testing.T) {
	s := newTestServer(t)
	created := s.create(t, testutil.NewIntent("a"))
	assert.Equal(t, models.StatusActive, created.Status)
	assert.NotEmpty(t, created.ID)

	rec := s.do(t, http.MethodGet, "/api/v1/intents/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.Intent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, created.ID, got.ID)

	rec = s.do(t, http.MethodGet, "/api/v1/intents?status=active&fromToken=NAM", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list IntentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)

	rec = s.do(t, http.MethodGet, "/api/v1/intents?status=matched", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 0, list.Count)
	assert.NotNil(t, list.Intents)
}

func TestCreateErrors(t *testing.T) {
	s := newTestServer(t)

	t.Run("validation", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/v1/intents", testutil.CreateFrom(testutil.NewIntent("a", testutil.WithAmounts("-1", "5"))))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		body := decodeError(t, rec)
		assert.Equal(t, CodeValidation, body.Error)
		assert.Equal(t, "fromAmount", body.Field)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/intents", bytes.NewBufferString("{"))
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, CodeBadRequest, decodeError(t, rec).Error)
	})

	t.Run("exponent amount", func(t *testing.T) {
		start := time.Now()
		rec := s.do(t, http.MethodPost, "/api/v1/intents", testutil.CreateFrom(testutil.NewIntent("a", testutil.WithAmounts("1e2000000000", "5"))))
		assert.Less(t, time.Since(start), time.Second)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		body := decodeError(t, rec)
		assert.Equal(t, CodeValidation, body.Error)
		assert.Equal(t, "fromAmount", body.Field)
	})

	t.Run("oversized body", func(t *testing.T) {
		raw := `{"fromToken":"NAM","fromAmount":"` + strings.Repeat("1", MaxBodyBytes) + `"}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/intents", strings.NewReader(raw))
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, CodeBadRequest, decodeError(t, rec).Error)
	})

	t.Run("unknown status filter", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/v1/intents?status=pending", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown id", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/v1/intents/intent_missing", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, CodeNotFound, decodeError(t, rec).Error)
	})
}

func TestFulfillAndConfirm(t *testing.T) {
	s := newTestServer(t)
	created := s.create(t, testutil.NewIntent("a"))
	path := "/api/v1/intents/" + created.ID

	rec := s.do(t, http.MethodPost, path+"/fulfill", FulfillRequest{ActingAddress: "bob"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var matched models.Intent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &matched))
	assert.Equal(t, models.StatusMatched, matched.Status)
	assert.Equal(t, "bob", matched.MatchedBy)

	rec = s.do(t, http.MethodPost, path+"/fulfill", FulfillRequest{ActingAddress: "carol"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, CodeInvalidState, body.Error)
	assert.Equal(t, string(lifecycle.ReasonAlreadyClaimed), body.Reason)

	rec = s.do(t, http.MethodPost, path+"/confirm", ConfirmRequest{Reference: "0xabc"})
	require.Equal(t, http.StatusOK, rec.Code)
	var fulfilled models.Intent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fulfilled))
	assert.Equal(t, models.StatusFulfilled, fulfilled.Status)
	assert.Equal(t, "0xabc", fulfilled.SettlementRef)

	rec = s.do(t, http.MethodGet, "/api/v1/addresses/bob/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history IntentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Equal(t, 1, history.Count)
}

func TestFulfillExpired(t *testing.T) {
	s := newTestServer(t)
	created := s.create(t, testutil.NewIntent("a"))
	s.clock.Advance(25 * time.Hour)

	rec := s.do(t, http.MethodPost, "/api/v1/intents/"+created.ID+"/fulfill", FulfillRequest{ActingAddress: "bob"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(lifecycle.ReasonExpired), decodeError(t, rec).Reason)
}

func TestMatchesEndpoints(t *testing.T) {
	s := newTestServer(t)
	a := s.create(t, testutil.NewIntent("a"))

	rec := s.do(t, http.MethodGet, "/api/v1/intents/"+a.ID+"/best-match", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var best BestMatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &best))
	assert.Nil(t, best.Match)

	b := s.create(t, testutil.NewIntent("b", testutil.WithPair("ATOM", "NAM"), testutil.WithAmounts("50", "100")))

	rec = s.do(t, http.MethodGet, "/api/v1/matches", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var refreshed lifecycle.RefreshResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &refreshed))
	assert.Len(t, refreshed.Active, 2)
	require.Len(t, refreshed.Matches, 1)
	assert.True(t, refreshed.Matches[0].CanFulfill)
	assert.Equal(t, 100, refreshed.Matches[0].CompatibilityScore)

	rec = s.do(t, http.MethodGet, "/api/v1/intents/"+a.ID+"/matches", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var matches MatchesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &matches))
	require.Equal(t, 1, matches.Count)
	assert.Equal(t, b.ID, matches.Matches[0].IntentB.ID)

	rec = s.do(t, http.MethodGet, "/api/v1/intents/"+a.ID+"/best-match", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &best))
	require.NotNil(t, best.Match)
	assert.Equal(t, b.ID, best.Match.IntentB.ID)
}

func TestCancel(t *testing.T) {
	s := newTestServer(t)
	created := s.create(t, testutil.NewIntent("a"))
	path := "/api/v1/intents/" + created.ID

	rec := s.do(t, http.MethodDelete, path+"?actingAddress=mallory", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, CodeForbidden, decodeError(t, rec).Error)

	rec = s.do(t, http.MethodDelete, path, FulfillRequest{ActingAddress: created.CreatorAddress})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSweepAndStale(t *testing.T) {
	s := newTestServer(t)
	first := s.create(t, testutil.NewIntent("a"))
	s.create(t, testutil.NewIntent("b", testutil.WithExpiry(testutil.BaseTime.Add(time.Hour))))

	rec := s.do(t, http.MethodPost, "/api/v1/intents/"+first.ID+"/fulfill", FulfillRequest{ActingAddress: "bob"})
	require.Equal(t, http.StatusOK, rec.Code)

	s.clock.Advance(2 * time.Hour)

	rec = s.do(t, http.MethodPost, "/api/v1/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var swept SweepResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &swept))
	assert.Equal(t, 1, swept.Expired)

	rec = s.do(t, http.MethodGet, "/api/v1/matched/stale?olderThan=1h", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stale IntentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stale))
	require.Equal(t, 1, stale.Count)
	assert.Equal(t, first.ID, stale.Intents[0].ID)

	rec = s.do(t, http.MethodGet, "/api/v1/matched/stale?olderThan=3h", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stale))
	assert.Equal(t, 0, stale.Count)

	rec = s.do(t, http.MethodGet, "/api/v1/matched/stale?olderThan=soon", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTokensAndUserIntents(t *testing.T) {
	s := newTestServer(t)
	s.create(t, testutil.NewIntent("a", testutil.WithCreator("alice")))
	s.create(t, testutil.NewIntent("b", testutil.WithCreator("bob")))

	rec := s.do(t, http.MethodGet, "/api/v1/tokens", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []tokens.Token
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, len(tokens.SymbolList))

	rec = s.do(t, http.MethodGet, "/api/v1/addresses/alice/intents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var intents IntentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &intents))
	require.Equal(t, 1, intents.Count)
	assert.Equal(t, "alice", intents.Intents[0].CreatorAddress)
}

func TestErrorFor(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "store fault", err: storage.Fault("list", errors.New("timeout")), status: http.StatusServiceUnavailable, code: CodeStoreFault},
		{name: "settlement fault", err: &settlement.FaultError{IntentID: "i", Kind: settlement.KindGas, Err: errors.New("gas")}, status: http.StatusBadGateway, code: CodeSettlementFault},
		{name: "wrapped not found", err: errors.Join(errors.New("lookup"), storage.ErrNotFound), status: http.StatusNotFound, code: CodeNotFound},
		{name: "unknown", err: errors.New("boom"), status: http.StatusInternalServerError, code: CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := ErrorFor(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, body.Error)
		})
	}
}
