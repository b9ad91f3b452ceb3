package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/intentmesh/pkg/api"
	"github.com/speedrun-hq/intentmesh/pkg/lifecycle"
	"github.com/speedrun-hq/intentmesh/pkg/logger"
	"github.com/speedrun-hq/intentmesh/pkg/models"
	"github.com/speedrun-hq/intentmesh/pkg/settlement"
	"github.com/speedrun-hq/intentmesh/pkg/storage"
	"github.com/speedrun-hq/intentmesh/pkg/storage/memory"
	"github.com/speedrun-hq/intentmesh/pkg/testutil"
	"github.com/speedrun-hq/intentmesh/pkg/tokens"
	"github.com/speedrun-hq/intentmesh/pkg/wallet/local"
)

func setup(t *testing.T) (*Client, *testutil.FakeClock) {
	t.Helper()
	clk := testutil.NewFakeClock(testutil.BaseTime)
	ctrl := lifecycle.NewController(memory.NewIntentStore(storage.WithClock(clk)), lifecycle.WithClock(clk))
	srv := httptest.NewServer(api.NewServer("0", ctrl).Handler())
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", &logger.EmptyLogger{}, WithHTTPClient(srv.Client())), clk
}

func TestClientRoundTrip(t *testing.T) {
	client, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, client.Ping(ctx))

	a, err := client.Create(ctx, testutil.CreateFrom(testutil.NewIntent("a")))
	require.NoError(t, err)
	b, err := client.Create(ctx, testutil.CreateFrom(testutil.NewIntent("b",
		testutil.WithPair("ATOM", "NAM"), testutil.WithAmounts("50", "100"))))
	require.NoError(t, err)

	got, err := client.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.True(t, a.Expiry.Equal(got.Expiry))

	active, err := client.List(ctx, models.IntentFilter{Status: models.StatusActive, ToToken: "NAM"})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, b.ID, active[0].ID)

	mine, err := client.UserIntents(ctx, a.CreatorAddress)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	matches, err := client.MatchesFor(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, b.ID, matches[0].IntentB.ID)

	best, ok, err := client.BestMatchFor(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, best.CanFulfill)

	result, err := client.Refresh(ctx)
	require.NoError(t, err)
	assert.Len(t, result.Matches, 1)

	list, err := client.Tokens(ctx)
	require.NoError(t, err)
	assert.Len(t, list, len(tokens.SymbolList))
}

func TestClientDecodesTypedErrors(t *testing.T) {
	client, clk := setup(t)
	ctx := context.Background()

	t.Run("not found", func(t *testing.T) {
		_, err := client.Get(ctx, "intent_missing")
		assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)
	})

	t.Run("validation", func(t *testing.T) {
		_, err := client.Create(ctx, testutil.CreateFrom(testutil.NewIntent("a", testutil.WithPair("NAM", "DOGE"))))
		var vErr *models.ValidationError
		require.True(t, errors.As(err, &vErr), "got %v", err)
		assert.Equal(t, "toToken", vErr.Field)
		assert.True(t, errors.Is(err, models.ErrValidation))
	})

	created, err := client.Create(ctx, testutil.CreateFrom(testutil.NewIntent("c")))
	require.NoError(t, err)

	t.Run("not owner", func(t *testing.T) {
		err := client.Cancel(ctx, created.ID, "mallory")
		assert.True(t, errors.Is(err, lifecycle.ErrNotOwner), "got %v", err)
	})

	t.Run("already claimed", func(t *testing.T) {
		_, err := client.Fulfill(ctx, created.ID, "bob")
		require.NoError(t, err)

		_, err = client.Fulfill(ctx, created.ID, "carol")
		require.True(t, errors.Is(err, lifecycle.ErrInvalidState), "got %v", err)
		var stateErr *lifecycle.StateError
		require.True(t, errors.As(err, &stateErr))
		assert.Equal(t, lifecycle.ReasonAlreadyClaimed, stateErr.Reason)
		assert.Equal(t, created.ID, stateErr.IntentID)
		assert.Equal(t, models.StatusMatched, stateErr.Current)
	})

	t.Run("expired", func(t *testing.T) {
		other, err := client.Create(ctx, testutil.CreateFrom(testutil.NewIntent("d",
			testutil.WithExpiry(testutil.BaseTime.Add(time.Minute)))))
		require.NoError(t, err)
		clk.Advance(time.Hour)

		_, err = client.Fulfill(ctx, other.ID, "bob")
		reason, ok := lifecycle.ReasonOf(err)
		require.True(t, ok, "got %v", err)
		assert.Equal(t, lifecycle.ReasonExpired, reason)

		count, err := client.SweepExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("stale matched", func(t *testing.T) {
		stale, err := client.StaleMatched(ctx, 30*time.Minute)
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, created.ID, stale[0].ID)
	})
}

func TestDecodeError(t *testing.T) {
	t.Run("store fault", func(t *testing.T) {
		err := decodeError(http.StatusServiceUnavailable, []byte(`{"error":"store_fault","message":"store unavailable"}`))
		assert.True(t, errors.Is(err, storage.ErrStoreFault))
	})

	t.Run("settlement fault", func(t *testing.T) {
		err := decodeError(http.StatusBadGateway, []byte(`{"error":"settlement_fault","reason":"network_error","intentId":"i1","message":"connection refused"}`))
		var fault *settlement.FaultError
		require.True(t, errors.As(err, &fault))
		assert.Equal(t, settlement.KindNetwork, fault.Kind)
		assert.Equal(t, "i1", fault.IntentID)
		assert.True(t, fault.Retryable)
	})

	t.Run("not an envelope", func(t *testing.T) {
		err := decodeError(http.StatusBadGateway, []byte("upstream down"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "502")
	})
}

func TestSettleThroughClient(t *testing.T) {
	client, _ := setup(t)
	ctx := context.Background()

	created, err := client.Create(ctx, testutil.CreateFrom(testutil.NewIntent("a", testutil.WithCreator("alice"))))
	require.NoError(t, err)

	w := local.New("bob")
	result, err := settlement.NewSettler(client, w).Settle(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFulfilled, result.Intent.Status)
	assert.Equal(t, result.Reference, result.Intent.SettlementRef)

	submitted := w.Submitted()
	require.Len(t, submitted, 1)
	assert.Equal(t, "alice", submitted[0].ToAddress)
	assert.Equal(t, "ATOM", submitted[0].Token)

	history, err := client.History(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, created.ID, history[0].ID)
}
