// Package storagetest is a conformance suite run against every storage.IntentStore.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/intentmesh/pkg/models"
	"github.com/speedrun-hq/intentmesh/pkg/storage"
	"github.com/speedrun-hq/intentmesh/pkg/testutil"
)

// Factory returns an empty store configured with opts
type Factory func(t *testing.T, opts ...storage.Option) storage.IntentStore

var errAbort = errors.New("abort")

func newIntentData(creator string, opts ...testutil.IntentOption) models.CreateIntent {
	return testutil.CreateFrom(testutil.NewIntent("fixture", append([]testutil.IntentOption{testutil.WithCreator(creator)}, opts...)...))
}

// Run executes the suite against stores built by newStore
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("create assigns id status and timestamps", func(t *testing.T) {
		clk := testutil.NewFakeClock(testutil.BaseTime)
		s := newStore(t, storage.WithClock(clk))

		created, err := s.Create(ctx, newIntentData("alice"))
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)
		assert.Equal(t, models.StatusActive, created.Status)
		assert.True(t, created.CreatedAt.Equal(testutil.BaseTime))
		assert.True(t, created.UpdatedAt.Equal(created.CreatedAt))

		got, err := s.Get(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, *created, *got)
	})

	t.Run("create reports id collisions", func(t *testing.T) {
		s := newStore(t, storage.WithIDGenerator(func() string { return "intent_fixed" }))

		_, err := s.Create(ctx, newIntentData("alice"))
		require.NoError(t, err)
		_, err = s.Create(ctx, newIntentData("bob"))
		assert.ErrorIs(t, err, storage.ErrDuplicateKey)
	})

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "intent_missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("list filters and orders newest first", func(t *testing.T) {
		clk := testutil.NewFakeClock(testutil.BaseTime)
		s := newStore(t, storage.WithClock(clk))

		a, err := s.Create(ctx, newIntentData("alice"))
		require.NoError(t, err)
		clk.Advance(time.Second)
		b, err := s.Create(ctx, newIntentData("bob", testutil.WithPair("ATOM", "NAM")))
		require.NoError(t, err)
		clk.Advance(time.Second)
		c, err := s.Create(ctx, newIntentData("alice", testutil.WithPair("USDC", "OSMO")))
		require.NoError(t, err)

		all, err := s.List(ctx, models.IntentFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{c.ID, b.ID, a.ID}, ids(all))

		byCreator, err := s.List(ctx, models.IntentFilter{CreatorAddress: "alice"})
		require.NoError(t, err)
		assert.Equal(t, []string{c.ID, a.ID}, ids(byCreator))

		conj, err := s.List(ctx, models.IntentFilter{CreatorAddress: "alice", FromToken: "NAM", Status: models.StatusActive})
		require.NoError(t, err)
		assert.Equal(t, []string{a.ID}, ids(conj))

		byTo, err := s.List(ctx, models.IntentFilter{ToToken: "NAM"})
		require.NoError(t, err)
		assert.Equal(t, []string{b.ID}, ids(byTo))

		none, err := s.List(ctx, models.IntentFilter{Status: models.StatusFulfilled})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("list breaks created_at ties by id", func(t *testing.T) {
		seq := 0
		s := newStore(t,
			storage.WithClock(testutil.NewFakeClock(testutil.BaseTime)),
			storage.WithIDGenerator(func() string {
				seq++
				return fmt.Sprintf("intent_%03d", seq)
			}),
		)
		for i := 0; i < 3; i++ {
			_, err := s.Create(ctx, newIntentData("alice"))
			require.NoError(t, err)
		}
		all, err := s.List(ctx, models.IntentFilter{})
		require.NoError(t, err)
		assert.Equal(t, []string{"intent_003", "intent_002", "intent_001"}, ids(all))
	})

	t.Run("update merges and strictly advances updatedAt", func(t *testing.T) {
		clk := testutil.NewFakeClock(testutil.BaseTime)
		s := newStore(t, storage.WithClock(clk))

		created, err := s.Create(ctx, newIntentData("alice"))
		require.NoError(t, err)

		// Clock frozen: updatedAt must still move forward.
		updated, err := s.Update(ctx, created.ID, models.StatusUpdate(models.StatusMatched))
		require.NoError(t, err)
		assert.Equal(t, models.StatusMatched, updated.Status)
		assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))

		clk.Advance(time.Minute)
		ref := "0xabc"
		again, err := s.Update(ctx, created.ID, models.IntentUpdate{SettlementRef: &ref})
		require.NoError(t, err)
		assert.Equal(t, models.StatusMatched, again.Status)
		assert.Equal(t, "0xabc", again.SettlementRef)
		assert.True(t, again.UpdatedAt.Equal(testutil.BaseTime.Add(time.Minute)))

		got, err := s.Get(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, *again, *got)
		assert.True(t, got.CreatedAt.Equal(created.CreatedAt))
	})

	t.Run("update missing and invalid", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Update(ctx, "intent_missing", models.StatusUpdate(models.StatusExpired))
		assert.ErrorIs(t, err, storage.ErrNotFound)

		created, err := s.Create(ctx, newIntentData("alice"))
		require.NoError(t, err)
		_, err = s.Update(ctx, created.ID, models.StatusUpdate("pending"))
		assert.ErrorIs(t, err, storage.ErrInvalidInput)
	})

	t.Run("modify abort leaves record untouched", func(t *testing.T) {
		s := newStore(t)
		created, err := s.Create(ctx, newIntentData("alice"))
		require.NoError(t, err)

		_, err = s.Modify(ctx, created.ID, func(models.Intent) (models.IntentUpdate, error) {
			return models.IntentUpdate{}, errAbort
		})
		assert.ErrorIs(t, err, errAbort)

		got, err := s.Get(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, *created, *got)
	})

	t.Run("concurrent modify has one winner", func(t *testing.T) {
		s := newStore(t)
		created, err := s.Create(ctx, newIntentData("alice"))
		require.NoError(t, err)

		const workers = 16
		var (
			wins int32
			wg   sync.WaitGroup
		)
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				claimer := fmt.Sprintf("taker-%d", w)
				_, err := s.Modify(ctx, created.ID, func(current models.Intent) (models.IntentUpdate, error) {
					if current.Status != models.StatusActive {
						return models.IntentUpdate{}, errAbort
					}
					status := models.StatusMatched
					return models.IntentUpdate{Status: &status, MatchedBy: &claimer}, nil
				})
				if err == nil {
					atomic.AddInt32(&wins, 1)
				} else {
					assert.ErrorIs(t, err, errAbort)
				}
			}(w)
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins)

		got, err := s.Get(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusMatched, got.Status)
		assert.NotEmpty(t, got.MatchedBy)
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		created, err := s.Create(ctx, newIntentData("alice"))
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, created.ID))
		_, err = s.Get(ctx, created.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.ErrorIs(t, s.Delete(ctx, created.ID), storage.ErrNotFound)

		all, err := s.List(ctx, models.IntentFilter{CreatorAddress: "alice"})
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("delete if", func(t *testing.T) {
		s := newStore(t)
		created, err := s.Create(ctx, newIntentData("alice"))
		require.NoError(t, err)

		_, err = s.DeleteIf(ctx, created.ID, func(models.Intent) error { return errAbort })
		assert.ErrorIs(t, err, errAbort)
		_, err = s.Get(ctx, created.ID)
		require.NoError(t, err, "a failed check keeps the record")

		var seen models.Intent
		removed, err := s.DeleteIf(ctx, created.ID, func(current models.Intent) error {
			seen = current
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, created.ID, removed.ID)
		assert.Equal(t, created.ID, seen.ID)

		_, err = s.Get(ctx, created.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = s.DeleteIf(ctx, created.ID, func(models.Intent) error { return nil })
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("delete if sees concurrent claims", func(t *testing.T) {
		s := newStore(t)
		created, err := s.Create(ctx, newIntentData("alice"))
		require.NoError(t, err)

		var wg sync.WaitGroup
		var deleteErr, claimErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, deleteErr = s.DeleteIf(ctx, created.ID, func(current models.Intent) error {
				if current.Status != models.StatusActive {
					return errAbort
				}
				return nil
			})
		}()
		go func() {
			defer wg.Done()
			_, claimErr = s.Modify(ctx, created.ID, func(current models.Intent) (models.IntentUpdate, error) {
				if current.Status != models.StatusActive {
					return models.IntentUpdate{}, errAbort
				}
				return models.StatusUpdate(models.StatusMatched), nil
			})
		}()
		wg.Wait()

		got, err := s.Get(ctx, created.ID)
		if deleteErr == nil {
			assert.ErrorIs(t, claimErr, storage.ErrNotFound)
			assert.ErrorIs(t, err, storage.ErrNotFound)
			return
		}
		assert.ErrorIs(t, deleteErr, errAbort)
		require.NoError(t, claimErr)
		require.NoError(t, err)
		assert.Equal(t, models.StatusMatched, got.Status)
	})

	t.Run("sweep expires due active intents and is idempotent", func(t *testing.T) {
		clk := testutil.NewFakeClock(testutil.BaseTime)
		s := newStore(t, storage.WithClock(clk))

		soon, err := s.Create(ctx, newIntentData("alice", testutil.WithExpiry(testutil.BaseTime.Add(time.Hour))))
		require.NoError(t, err)
		exact, err := s.Create(ctx, newIntentData("bob", testutil.WithExpiry(testutil.BaseTime.Add(2*time.Hour))))
		require.NoError(t, err)
		later, err := s.Create(ctx, newIntentData("carol", testutil.WithExpiry(testutil.BaseTime.Add(48*time.Hour))))
		require.NoError(t, err)
		matched, err := s.Create(ctx, newIntentData("dave", testutil.WithExpiry(testutil.BaseTime.Add(time.Hour))))
		require.NoError(t, err)
		_, err = s.Update(ctx, matched.ID, models.StatusUpdate(models.StatusMatched))
		require.NoError(t, err)

		n, err := s.SweepExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		// Expiry is inclusive: an intent expiring exactly now is swept.
		clk.Set(testutil.BaseTime.Add(2 * time.Hour))
		n, err = s.SweepExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = s.SweepExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		for _, id := range []string{soon.ID, exact.ID} {
			got, err := s.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, models.StatusExpired, got.Status)
			assert.True(t, got.UpdatedAt.After(got.CreatedAt))
		}

		stillMatched, err := s.Get(ctx, matched.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusMatched, stillMatched.Status, "sweep only touches active intents")

		active, err := s.List(ctx, models.IntentFilter{Status: models.StatusActive})
		require.NoError(t, err)
		assert.Equal(t, []string{later.ID}, ids(active))
	})

	t.Run("returned records are copies", func(t *testing.T) {
		s := newStore(t)
		created, err := s.Create(ctx, newIntentData("alice"))
		require.NoError(t, err)

		created.Status = models.StatusFulfilled
		got, err := s.Get(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusActive, got.Status)

		got.FromAmount = "999"
		list, err := s.List(ctx, models.IntentFilter{})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "100", list[0].FromAmount)
	})

	t.Run("ping", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Ping(ctx))
	})
}

func ids(intents []models.Intent) []string {
	out := make([]string, 0, len(intents))
	for _, i := range intents {
		out = append(out, i.ID)
	}
	return out
}
