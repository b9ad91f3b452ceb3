package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/intentmesh/pkg/events"
	"github.com/speedrun-hq/intentmesh/pkg/models"
	"github.com/speedrun-hq/intentmesh/pkg/storage"
	"github.com/speedrun-hq/intentmesh/pkg/storage/memory"
	"github.com/speedrun-hq/intentmesh/pkg/testutil"
)

// recordingPublisher keeps every published event
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	ctrl      *Controller
	store     *memory.IntentStore
	clock     *testutil.FakeClock
	publisher *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := testutil.NewFakeClock(testutil.BaseTime)
	store := memory.NewIntentStore(storage.WithClock(clk))
	publisher := &recordingPublisher{}
	return &fixture{
		ctrl:      NewController(store, WithClock(clk), WithPublisher(publisher)),
		store:     store,
		clock:     clk,
		publisher: publisher,
	}
}

func (f *fixture) create(t *testing.T, opts ...testutil.IntentOption) models.Intent {
	t.Helper()
	intent, err := f.ctrl.Create(context.Background(), testutil.CreateFrom(testutil.NewIntent("x", opts...)))
	require.NoError(t, err)
	return *intent
}

func requireReason(t *testing.T, err error, reason Reason) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidState), "expected ErrInvalidState, got %v", err)
	got, ok := ReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, reason, got)
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("valid intent is stored active", func(t *testing.T) {
		data := testutil.CreateFrom(testutil.NewIntent("a", testutil.WithPair(" nam ", "atom")))
		intent, err := f.ctrl.Create(ctx, data)
		require.NoError(t, err)

		assert.Equal(t, models.StatusActive, intent.Status)
		assert.Equal(t, "NAM", intent.FromToken)
		assert.Equal(t, "ATOM", intent.ToToken)
		assert.Equal(t, testutil.BaseTime, intent.CreatedAt)
		assert.Contains(t, f.publisher.types(), events.Created)
	})

	t.Run("invalid intent is rejected", func(t *testing.T) {
		data := testutil.CreateFrom(testutil.NewIntent("b", testutil.WithPair("NAM", "NAM")))
		_, err := f.ctrl.Create(ctx, data)
		assert.True(t, errors.Is(err, models.ErrValidation))

		data = testutil.CreateFrom(testutil.NewIntent("c", testutil.WithExpiry(testutil.BaseTime)))
		_, err = f.ctrl.Create(ctx, data)
		var vErr *models.ValidationError
		require.True(t, errors.As(err, &vErr))
		assert.Equal(t, "expiry", vErr.Field)
	})
}

func TestFulfill(t *testing.T) {
	ctx := context.Background()

	t.Run("active intent becomes matched", func(t *testing.T) {
		f := newFixture(t)
		intent := f.create(t)
		f.clock.Advance(time.Minute)

		matched, err := f.ctrl.Fulfill(ctx, intent.ID, "taker")
		require.NoError(t, err)
		assert.Equal(t, models.StatusMatched, matched.Status)
		assert.Equal(t, "taker", matched.MatchedBy)
		assert.True(t, matched.UpdatedAt.After(intent.UpdatedAt))

		stored, err := f.ctrl.Get(ctx, intent.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusMatched, stored.Status)
		assert.Equal(t, []events.Type{events.Created, events.Matched}, f.publisher.types())
	})

	t.Run("second claim is already_claimed", func(t *testing.T) {
		f := newFixture(t)
		intent := f.create(t)
		_, err := f.ctrl.Fulfill(ctx, intent.ID, "taker")
		require.NoError(t, err)

		_, err = f.ctrl.Fulfill(ctx, intent.ID, "other")
		requireReason(t, err, ReasonAlreadyClaimed)
	})

	t.Run("fulfilled intent is already_fulfilled", func(t *testing.T) {
		f := newFixture(t)
		intent := f.create(t)
		_, err := f.ctrl.Fulfill(ctx, intent.ID, "taker")
		require.NoError(t, err)
		_, err = f.ctrl.ConfirmFulfillment(ctx, intent.ID, "0x01")
		require.NoError(t, err)

		_, err = f.ctrl.Fulfill(ctx, intent.ID, "other")
		requireReason(t, err, ReasonAlreadyFulfilled)
	})

	t.Run("expired but not yet swept", func(t *testing.T) {
		f := newFixture(t)
		intent := f.create(t, testutil.WithExpiry(testutil.BaseTime.Add(time.Hour)))
		f.clock.Advance(time.Hour)

		_, err := f.ctrl.Fulfill(ctx, intent.ID, "taker")
		requireReason(t, err, ReasonExpired)

		stored, err := f.ctrl.Get(ctx, intent.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusActive, stored.Status, "a rejected claim must not write")
	})

	t.Run("swept intent", func(t *testing.T) {
		f := newFixture(t)
		intent := f.create(t, testutil.WithExpiry(testutil.BaseTime.Add(time.Hour)))
		f.clock.Advance(2 * time.Hour)
		_, err := f.ctrl.SweepExpired(ctx)
		require.NoError(t, err)

		_, err = f.ctrl.Fulfill(ctx, intent.ID, "taker")
		requireReason(t, err, ReasonExpired)
	})

	t.Run("unknown intent", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.ctrl.Fulfill(ctx, "intent_missing", "taker")
		assert.True(t, errors.Is(err, storage.ErrNotFound))
		assert.False(t, errors.Is(err, ErrInvalidState))
	})

	t.Run("acting address is required", func(t *testing.T) {
		f := newFixture(t)
		intent := f.create(t)
		_, err := f.ctrl.Fulfill(ctx, intent.ID, "  ")
		assert.True(t, errors.Is(err, models.ErrValidation))
	})

	t.Run("creator cannot claim own intent", func(t *testing.T) {
		f := newFixture(t)
		intent := f.create(t, testutil.WithCreator("alice"))
		_, err := f.ctrl.Fulfill(ctx, intent.ID, "alice")
		assert.True(t, errors.Is(err, models.ErrValidation))

		stored, err := f.ctrl.Get(ctx, intent.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusActive, stored.Status)
	})
}

func TestConcurrentFulfillHasOneWinner(t *testing.T) {
	f := newFixture(t)
	intent := f.create(t)
	ctx := context.Background()

	const claimers = 24
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		reasons = map[Reason]int{}
	)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			actor := "taker-" + string(rune('a'+n))
			_, err := f.ctrl.Fulfill(ctx, intent.ID, actor)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, actor)
				return
			}
			reason, _ := ReasonOf(err)
			reasons[reason]++
		}(i)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, map[Reason]int{ReasonAlreadyClaimed: claimers - 1}, reasons)

	stored, err := f.ctrl.Get(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, winners[0], stored.MatchedBy)
}

func TestConfirmFulfillment(t *testing.T) {
	ctx := context.Background()

	t.Run("matched intent becomes fulfilled", func(t *testing.T) {
		f := newFixture(t)
		intent := f.create(t)
		_, err := f.ctrl.Fulfill(ctx, intent.ID, "taker")
		require.NoError(t, err)

		done, err := f.ctrl.ConfirmFulfillment(ctx, intent.ID, " 0xfeed ")
		require.NoError(t, err)
		assert.Equal(t, models.StatusFulfilled, done.Status)
		assert.Equal(t, "0xfeed", done.SettlementRef)
		assert.Equal(t, "taker", done.MatchedBy)
		assert.Equal(t, []events.Type{events.Created, events.Matched, events.Fulfilled}, f.publisher.types())
	})

	t.Run("active intent is not_matched", func(t *testing.T) {
		f := newFixture(t)
		intent := f.create(t)
		_, err := f.ctrl.ConfirmFulfillment(ctx, intent.ID, "ref")
		requireReason(t, err, ReasonNotMatched)
	})

	t.Run("second confirmation is already_fulfilled", func(t *testing.T) {
		f := newFixture(t)
		intent := f.create(t)
		_, err := f.ctrl.Fulfill(ctx, intent.ID, "taker")
		require.NoError(t, err)
		_, err = f.ctrl.ConfirmFulfillment(ctx, intent.ID, "ref")
		require.NoError(t, err)

		_, err = f.ctrl.ConfirmFulfillment(ctx, intent.ID, "ref-2")
		requireReason(t, err, ReasonAlreadyFulfilled)
	})

	t.Run("empty reference", func(t *testing.T) {
		f := newFixture(t)
		intent := f.create(t)
		_, err := f.ctrl.Fulfill(ctx, intent.ID, "taker")
		require.NoError(t, err)

		_, err = f.ctrl.ConfirmFulfillment(ctx, intent.ID, "")
		assert.True(t, errors.Is(err, models.ErrValidation))
	})

	t.Run("unknown intent", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.ctrl.ConfirmFulfillment(ctx, "intent_missing", "ref")
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	})
}

func TestRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	week := testutil.BaseTime.Add(7 * 24 * time.Hour)

	a := f.create(t, testutil.WithPair("NAM", "ATOM"), testutil.WithAmounts("100", "100"), testutil.WithExpiry(week))
	b := f.create(t, testutil.WithPair("ATOM", "NAM"), testutil.WithAmounts("100", "100"), testutil.WithExpiry(week))
	stale := f.create(t, testutil.WithPair("ATOM", "NAM"), testutil.WithAmounts("100", "100"), testutil.WithExpiry(testutil.BaseTime.Add(time.Minute)))
	f.clock.Advance(time.Hour)

	result, err := f.ctrl.Refresh(ctx)
	require.NoError(t, err)

	ids := make([]string, 0, len(result.Active))
	for _, intent := range result.Active {
		ids = append(ids, intent.ID)
	}
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids)

	require.Len(t, result.Matches, 1)
	match := result.Matches[0]
	assert.Equal(t, 100, match.CompatibilityScore)
	assert.True(t, match.CanFulfill)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, []string{match.IntentA.ID, match.IntentB.ID})

	swept, err := f.ctrl.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, swept.Status)

	active, err := f.ctrl.List(ctx, models.IntentFilter{Status: models.StatusActive})
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestRefreshExcludesIntentsExpiredAfterSweep(t *testing.T) {
	ctx := context.Background()
	storeClk := testutil.NewFakeClock(testutil.BaseTime)
	ctrlClk := testutil.NewFakeClock(testutil.BaseTime)
	ctrl := NewController(memory.NewIntentStore(storage.WithClock(storeClk)), WithClock(ctrlClk))

	create := func(from, to string, expiry time.Time) models.Intent {
		intent, err := ctrl.Create(ctx, testutil.CreateFrom(testutil.NewIntent("x",
			testutil.WithPair(from, to), testutil.WithAmounts("100", "100"), testutil.WithExpiry(expiry))))
		require.NoError(t, err)
		return *intent
	}
	lasting := create("NAM", "ATOM", testutil.BaseTime.Add(time.Hour))
	counter := create("ATOM", "NAM", testutil.BaseTime.Add(time.Hour))
	lapsing := create("ATOM", "NAM", testutil.BaseTime.Add(30*time.Minute))

	// the store sweeps at its own, earlier time
	ctrlClk.Advance(45 * time.Minute)

	result, err := ctrl.Refresh(ctx)
	require.NoError(t, err)

	ids := make([]string, 0, len(result.Active))
	for _, intent := range result.Active {
		ids = append(ids, intent.ID)
	}
	assert.ElementsMatch(t, []string{lasting.ID, counter.ID}, ids)
	assert.NotContains(t, ids, lapsing.ID)

	require.Len(t, result.Matches, 1)
	assert.ElementsMatch(t, []string{lasting.ID, counter.ID},
		[]string{result.Matches[0].IntentA.ID, result.Matches[0].IntentB.ID})
}

func TestSweepExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, testutil.WithExpiry(testutil.BaseTime.Add(time.Minute)))
	f.create(t, testutil.WithExpiry(testutil.BaseTime.Add(2*time.Minute)))
	f.create(t, testutil.WithExpiry(testutil.BaseTime.Add(time.Hour)))
	f.clock.Advance(2 * time.Minute)

	count, err := f.ctrl.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = f.ctrl.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	var expiredEvents []events.Event
	for _, e := range f.publisher.events {
		if e.Type == events.Expired {
			expiredEvents = append(expiredEvents, e)
		}
	}
	require.Len(t, expiredEvents, 1)
	assert.Equal(t, 2, expiredEvents[0].Count)
}

func TestMatchesFor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	target := f.create(t, testutil.WithPair("NAM", "ATOM"), testutil.WithAmounts("100", "10"))
	near := f.create(t, testutil.WithPair("ATOM", "NAM"), testutil.WithAmounts("10", "120"))
	exact := f.create(t, testutil.WithPair("ATOM", "NAM"), testutil.WithAmounts("10", "100"))
	f.create(t, testutil.WithPair("OSMO", "NAM"))

	matches, err := f.ctrl.MatchesFor(ctx, target.ID)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, exact.ID, matches[0].IntentB.ID)
	assert.Equal(t, near.ID, matches[1].IntentB.ID)

	best, ok, err := f.ctrl.BestMatchFor(ctx, target.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, exact.ID, best.IntentB.ID)

	t.Run("claimed target has no matches", func(t *testing.T) {
		_, err := f.ctrl.Fulfill(ctx, target.ID, "taker")
		require.NoError(t, err)

		matches, err := f.ctrl.MatchesFor(ctx, target.ID)
		require.NoError(t, err)
		assert.Empty(t, matches)

		_, ok, err := f.ctrl.BestMatchFor(ctx, target.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unknown target", func(t *testing.T) {
		_, err := f.ctrl.MatchesFor(ctx, "intent_missing")
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	})
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("creator cancels active intent", func(t *testing.T) {
		f := newFixture(t)
		intent := f.create(t, testutil.WithCreator("alice"))

		require.NoError(t, f.ctrl.Cancel(ctx, intent.ID, "alice"))
		_, err := f.ctrl.Get(ctx, intent.ID)
		assert.True(t, errors.Is(err, storage.ErrNotFound))
		assert.Contains(t, f.publisher.types(), events.Cancelled)
	})

	t.Run("other address is refused", func(t *testing.T) {
		f := newFixture(t)
		intent := f.create(t, testutil.WithCreator("alice"))

		err := f.ctrl.Cancel(ctx, intent.ID, "mallory")
		assert.True(t, errors.Is(err, ErrNotOwner))
		_, err = f.ctrl.Get(ctx, intent.ID)
		assert.NoError(t, err)
	})

	t.Run("matched intent cannot be cancelled", func(t *testing.T) {
		f := newFixture(t)
		intent := f.create(t, testutil.WithCreator("alice"))
		_, err := f.ctrl.Fulfill(ctx, intent.ID, "bob")
		require.NoError(t, err)

		err = f.ctrl.Cancel(ctx, intent.ID, "alice")
		requireReason(t, err, ReasonNotActive)
	})

	t.Run("unknown intent", func(t *testing.T) {
		f := newFixture(t)
		err := f.ctrl.Cancel(ctx, "intent_missing", "alice")
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	})
}

// claimFirstStore lets a claim land right before every conditional delete
type claimFirstStore struct {
	*memory.IntentStore
	claimer string
}

func (s claimFirstStore) DeleteIf(ctx context.Context, id string, fn storage.CheckFunc) (*models.Intent, error) {
	_, _ = s.IntentStore.Update(ctx, id, models.IntentUpdate{
		Status:    statusPtr(models.StatusMatched),
		MatchedBy: &s.claimer,
	})
	return s.IntentStore.DeleteIf(ctx, id, fn)
}

func statusPtr(status models.IntentStatus) *models.IntentStatus {
	return &status
}

func TestCancelLosesToConcurrentClaim(t *testing.T) {
	ctx := context.Background()
	clk := testutil.NewFakeClock(testutil.BaseTime)
	store := memory.NewIntentStore(storage.WithClock(clk))
	ctrl := NewController(claimFirstStore{IntentStore: store, claimer: "bob"}, WithClock(clk))

	intent, err := ctrl.Create(ctx, testutil.CreateFrom(testutil.NewIntent("x", testutil.WithCreator("alice"))))
	require.NoError(t, err)

	err = ctrl.Cancel(ctx, intent.ID, "alice")
	requireReason(t, err, ReasonNotActive)

	got, err := store.Get(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusMatched, got.Status)
	assert.Equal(t, "bob", got.MatchedBy)
}

func TestCancelRacesFulfill(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		f := newFixture(t)
		intent := f.create(t, testutil.WithCreator("alice"))

		var wg sync.WaitGroup
		var cancelErr, fulfillErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			cancelErr = f.ctrl.Cancel(ctx, intent.ID, "alice")
		}()
		go func() {
			defer wg.Done()
			_, fulfillErr = f.ctrl.Fulfill(ctx, intent.ID, "bob")
		}()
		wg.Wait()

		got, err := f.ctrl.Get(ctx, intent.ID)
		if cancelErr == nil {
			require.Error(t, fulfillErr)
			assert.True(t, errors.Is(err, storage.ErrNotFound))
			continue
		}
		require.NoError(t, fulfillErr)
		require.NoError(t, err)
		assert.Equal(t, models.StatusMatched, got.Status, "a successful claim is never deleted")
	}
}

func TestUserIntentsAndHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.create(t, testutil.WithCreator("alice"))
	second := f.create(t, testutil.WithCreator("alice"))
	bobs := f.create(t, testutil.WithCreator("bob"))
	f.create(t, testutil.WithCreator("alice"))

	mine, err := f.ctrl.UserIntents(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, mine, 3)

	settle := func(id, taker string) {
		f.clock.Advance(time.Minute)
		_, err := f.ctrl.Fulfill(ctx, id, taker)
		require.NoError(t, err)
		_, err = f.ctrl.ConfirmFulfillment(ctx, id, "ref-"+id)
		require.NoError(t, err)
	}
	settle(second.ID, "carol")
	settle(bobs.ID, "alice")
	settle(first.ID, "dave")

	history, err := f.ctrl.History(ctx, "alice")
	require.NoError(t, err)
	ids := make([]string, 0, len(history))
	for _, intent := range history {
		ids = append(ids, intent.ID)
	}
	assert.Equal(t, []string{first.ID, bobs.ID, second.ID}, ids)

	carol, err := f.ctrl.History(ctx, "carol")
	require.NoError(t, err)
	require.Len(t, carol, 1)
	assert.Equal(t, second.ID, carol[0].ID)

	_, err = f.ctrl.History(ctx, "")
	assert.True(t, errors.Is(err, models.ErrValidation))
	_, err = f.ctrl.UserIntents(ctx, "")
	assert.True(t, errors.Is(err, models.ErrValidation))
}

func TestStaleMatched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old := f.create(t)
	recent := f.create(t)
	_, err := f.ctrl.Fulfill(ctx, old.ID, "taker")
	require.NoError(t, err)
	f.clock.Advance(20 * time.Minute)
	_, err = f.ctrl.Fulfill(ctx, recent.ID, "taker")
	require.NoError(t, err)
	f.clock.Advance(15 * time.Minute)

	stale, err := f.ctrl.StaleMatched(ctx, 30*time.Minute)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)
	assert.Equal(t, models.StatusMatched, stale[0].Status, "stale intents are reported, never reverted")

	stale, err = f.ctrl.StaleMatched(ctx, 10*time.Minute)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	assert.Equal(t, old.ID, stale[0].ID)
}

func TestListRejectsUnknownStatus(t *testing.T) {
	f := newFixture(t)
	_, err := f.ctrl.List(context.Background(), models.IntentFilter{Status: "pending"})
	assert.True(t, errors.Is(err, models.ErrValidation))
}

func TestPublishFailureDoesNotFailWrites(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("broker down")

	intent := f.create(t)
	matched, err := f.ctrl.Fulfill(context.Background(), intent.ID, "taker")
	require.NoError(t, err)
	assert.Equal(t, models.StatusMatched, matched.Status)
}

// faultyStore fails every read of the active pool
type faultyStore struct {
	storage.IntentStore
}

func (s faultyStore) List(context.Context, models.IntentFilter) ([]models.Intent, error) {
	return nil, storage.Fault("list", errors.New("connection reset"))
}

func TestStoreFaultPropagates(t *testing.T) {
	clk := testutil.NewFakeClock(testutil.BaseTime)
	ctrl := NewController(faultyStore{memory.NewIntentStore(storage.WithClock(clk))}, WithClock(clk))

	_, err := ctrl.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrStoreFault))

	var fault *storage.FaultError
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, "list", fault.Op)
}
