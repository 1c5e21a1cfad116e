package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"library-api/internal/observability"
)

type fakeSweepStore struct {
	mu      sync.Mutex
	deleted int64
	err     error
	calls   int
	lastNow time.Time
}

func (f *fakeSweepStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastNow = now
	return f.deleted, f.err
}

func TestSweep_DeletesExpired(t *testing.T) {
	store := &fakeSweepStore{deleted: 7}
	sweeper := NewSweeper(store, time.Hour, observability.NewLogger(), nil)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	deleted, err := sweeper.Sweep(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, int64(7), deleted)
	require.Equal(t, now, store.lastNow)
}

func TestSweep_PropagatesStoreError(t *testing.T) {
	store := &fakeSweepStore{err: errors.New("connection refused")}
	sweeper := NewSweeper(store, time.Hour, observability.NewLogger(), nil)

	_, err := sweeper.Sweep(context.Background(), time.Now())
	require.Error(t, err)
}

func TestSweeper_LoopRunsAndStops(t *testing.T) {
	store := &fakeSweepStore{deleted: 1}
	sweeper := NewSweeper(store, 10*time.Millisecond, observability.NewLogger(), nil)

	sweeper.Start()

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.calls >= 2
	}, time.Second, 5*time.Millisecond)

	sweeper.Stop()

	store.mu.Lock()
	after := store.calls
	store.mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	store.mu.Lock()
	require.Equal(t, after, store.calls, "sweeps after Stop")
	store.mu.Unlock()
}

func TestSweeper_LoopSurvivesErrors(t *testing.T) {
	store := &fakeSweepStore{err: errors.New("transient")}
	sweeper := NewSweeper(store, 10*time.Millisecond, observability.NewLogger(), nil)

	sweeper.Start()
	defer sweeper.Stop()

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.calls >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestSweepHandler(t *testing.T) {
	store := &fakeSweepStore{deleted: 3}
	sweeper := NewSweeper(store, time.Hour, observability.NewLogger(), nil)

	send := func(secret, authorization string) *httptest.ResponseRecorder {
		handler := NewSweepHandler(sweeper, observability.NewLogger(), secret)
		r := httptest.NewRequest("POST", "/internal/maintenance/sweep", nil)
		if authorization != "" {
			r.Header.Set("Authorization", authorization)
		}
		w := httptest.NewRecorder()
		handler.Handle(w, r)
		return w
	}

	t.Run("disabled without secret", func(t *testing.T) {
		require.Equal(t, http.StatusNotFound, send("", "Bearer anything").Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		require.Equal(t, http.StatusUnauthorized, send("s3cret", "Bearer wrong").Code)
		require.Equal(t, http.StatusUnauthorized, send("s3cret", "").Code)
	})

	t.Run("sweeps with correct secret", func(t *testing.T) {
		w := send("s3cret", "Bearer s3cret")
		require.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Status  string `json:"status"`
			Deleted int64  `json:"deleted"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.Equal(t, "ok", body.Status)
		require.Equal(t, int64(3), body.Deleted)
	})

	t.Run("store failure is 500", func(t *testing.T) {
		store.mu.Lock()
		store.err = errors.New("down")
		store.mu.Unlock()
		require.Equal(t, http.StatusInternalServerError, send("s3cret", "Bearer s3cret").Code)
	})
}
