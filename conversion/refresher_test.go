package conversion

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kylycht/currencycalc/service"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitRefresh(t *testing.T, c <-chan error) error {
	t.Helper()
	select {
	case err := <-c:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("refresh did not complete")
	}
	return nil
}

func TestRefresherTriggersWhenStale(t *testing.T) {
	var calls int32
	provider := service.RateProviderFunc(func(ctx context.Context, base string) (map[string]float64, error) {
		atomic.AddInt32(&calls, 1)
		return testRates, nil
	})

	e := New(provider, nil)
	done := make(chan error, 1)
	r := NewRefresher(e, RefresherConfig{Base: "USD", OnRefresh: func(err error) { done <- err }})

	require.True(t, r.TriggerIfStale(context.Background()))
	require.NoError(t, waitRefresh(t, done))

	assert.False(t, r.TriggerIfStale(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assertDecimal(t, "92", e.Convert(dec("100"), "USD", "EUR"))
}

func TestRefresherSingleFlight(t *testing.T) {
	release := make(chan struct{})
	provider := service.RateProviderFunc(func(ctx context.Context, base string) (map[string]float64, error) {
		<-release
		return testRates, nil
	})

	e := New(provider, nil)
	done := make(chan error, 2)
	r := NewRefresher(e, RefresherConfig{Base: "USD", OnRefresh: func(err error) { done <- err }})

	require.True(t, r.Trigger(context.Background()))
	assert.False(t, r.Trigger(context.Background()))

	// conversions are served while the fetch is blocked
	assertDecimal(t, "100", e.Convert(dec("100"), "USD", "EUR"))

	close(release)
	require.NoError(t, waitRefresh(t, done))
	assertDecimal(t, "92", e.Convert(dec("100"), "USD", "EUR"))

	assert.True(t, r.Trigger(context.Background()))
	require.NoError(t, waitRefresh(t, done))
}

func TestRefresherFailureKeepsSnapshot(t *testing.T) {
	var fail atomic.Bool
	provider := service.RateProviderFunc(func(ctx context.Context, base string) (map[string]float64, error) {
		if fail.Load() {
			return nil, errors.New("timeout")
		}
		return testRates, nil
	})

	e := New(provider, nil)
	done := make(chan error, 1)
	r := NewRefresher(e, RefresherConfig{Base: "USD", OnRefresh: func(err error) { done <- err }})

	r.Trigger(context.Background())
	require.NoError(t, waitRefresh(t, done))

	fail.Store(true)
	r.Trigger(context.Background())
	err := waitRefresh(t, done)

	var fetchErr *FetchError
	assert.ErrorAs(t, err, &fetchErr)
	assertDecimal(t, "80", e.Convert(dec("100"), "USD", "GBP"))
}

func TestRefresherStartStop(t *testing.T) {
	var calls int32
	provider := service.RateProviderFunc(func(ctx context.Context, base string) (map[string]float64, error) {
		atomic.AddInt32(&calls, 1)
		return testRates, nil
	})

	e := New(provider, nil)
	done := make(chan error, 4)
	r := NewRefresher(e, RefresherConfig{
		Base:      "USD",
		MaxAge:    time.Hour,
		Interval:  5 * time.Millisecond,
		OnRefresh: func(err error) { done <- err },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.Start(ctx)
	require.NoError(t, waitRefresh(t, done))

	// snapshot is fresh, ticks must not fetch again
	time.Sleep(30 * time.Millisecond)
	r.Stop()
	r.Stop()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRefresherFailureLoggedOnceAsError(t *testing.T) {
	var buf bytes.Buffer
	orig := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = orig })

	provider := service.RateProviderFunc(func(ctx context.Context, base string) (map[string]float64, error) {
		return nil, errors.New("timeout")
	})

	done := make(chan error, 1)
	r := NewRefresher(New(provider, nil), RefresherConfig{Base: "USD", OnRefresh: func(err error) { done <- err }})

	require.True(t, r.Trigger(context.Background()))
	require.Error(t, waitRefresh(t, done))

	assert.Equal(t, 1, strings.Count(buf.String(), `"level":"error"`))
}
