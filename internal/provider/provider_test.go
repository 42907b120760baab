package provider

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

	"colorcal/internal/model"
)

func TestError_IsAndKind(t *testing.T) {
	malformed := Malformed(errors.New("unexpected token"), "decode list-calendars")
	wrapped := fmt.Errorf("list calendars: %w", malformed)

	assert.True(t, errors.Is(wrapped, ErrMalformedResponse))
	assert.True(t, errors.Is(wrapped, ErrProviderUnavailable))
	assert.False(t, errors.Is(wrapped, ErrAccessDenied))
	assert.Equal(t, KindMalformedResponse, KindOf(wrapped))
	assert.True(t, malformed.Retryable())
	assert.Equal(t, "decode list-calendars: unexpected token", malformed.Error())

	denied := AccessDenied("grant access in System Settings")
	assert.True(t, errors.Is(denied, ErrAccessDenied))
	assert.False(t, denied.Retryable())
	assert.False(t, errors.Is(denied, ErrProviderUnavailable))

	assert.True(t, errors.Is(InvalidRange("bad"), ErrInvalidRange))
	assert.True(t, errors.Is(InvalidArgument("bad"), ErrInvalidArgument))
	assert.Equal(t, KindUnavailable, KindOf(errors.New("plain")))
}

func TestTag(t *testing.T) {
	assert.NoError(t, Tag(nil, "op"))

	plain := Tag(errors.New("boom"), "fetch events")
	assert.True(t, errors.Is(plain, ErrProviderUnavailable))
	assert.Equal(t, "fetch events: boom", plain.Error())

	denied := AccessDenied("nope")
	assert.Same(t, denied, Tag(denied, "op"))

	assert.ErrorIs(t, Tag(context.Canceled, "op"), context.Canceled)
	assert.Equal(t, KindUnavailable, KindOf(Tag(context.Canceled, "op")))
	var pe *Error
	assert.False(t, errors.As(Tag(context.Canceled, "op"), &pe))
}

func TestValidateRange(t *testing.T) {
	now := time.Now()
	assert.NoError(t, ValidateRange(now, now.Add(time.Second)))
	assert.ErrorIs(t, ValidateRange(now, now), ErrInvalidRange)
	assert.ErrorIs(t, ValidateRange(now.Add(time.Second), now), ErrInvalidRange)
}

func TestIDSet(t *testing.T) {
	assert.Nil(t, IDSet(nil))
	assert.Nil(t, IDSet([]string{""}))
	assert.Equal(t, map[string]bool{"a": true, "b": true}, IDSet([]string{"a", "b", ""}))
}

type blockingAccess struct {
	*StubProvider
	release chan struct{}
	calls   atomic.Int32
	results []AccessResult
	errs    []error
}

func (b *blockingAccess) RequestAccess(ctx context.Context) (AccessResult, error) {
	n := int(b.calls.Add(1)) - 1
	<-b.release
	return b.results[n], b.errs[n]
}

func TestAccessGate_ConcurrentCallersShareOneRequest(t *testing.T) {
	p := &blockingAccess{
		StubProvider: NewStubProvider(),
		release:      make(chan struct{}),
		results:      []AccessResult{Granted()},
		errs:         []error{nil},
	}
	gate := NewAccessGate(p)

	var wg sync.WaitGroup
	results := make([]AccessResult, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := gate.Wait(context.Background())
			assert.NoError(t, err)
			results[i] = res
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(p.release)
	wg.Wait()

	assert.EqualValues(t, 1, p.calls.Load())
	for _, res := range results {
		assert.True(t, res.Granted)
	}

	// Decided answers are served from cache.
	require.NoError(t, gate.Require(context.Background()))
	assert.EqualValues(t, 1, p.calls.Load())
}

func TestAccessGate_ErrorsAreNotCached(t *testing.T) {
	p := &blockingAccess{
		StubProvider: NewStubProvider(),
		release:      make(chan struct{}),
		results:      []AccessResult{{}, Denied("turn on calendar access")},
		errs:         []error{errors.New("helper crashed"), nil},
	}
	close(p.release)
	gate := NewAccessGate(p)

	err := gate.Require(context.Background())
	assert.ErrorIs(t, err, ErrProviderUnavailable)

	err = gate.Require(context.Background())
	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.Contains(t, err.Error(), "turn on calendar access")

	err = gate.Require(context.Background())
	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.EqualValues(t, 2, p.calls.Load())
}

func TestAccessGate_WaitHonoursContext(t *testing.T) {
	p := &blockingAccess{
		StubProvider: NewStubProvider(),
		release:      make(chan struct{}),
		results:      []AccessResult{Granted()},
		errs:         []error{nil},
	}
	gate := NewAccessGate(p)
	gate.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := gate.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(p.release)
	res, err := gate.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Granted)
	assert.EqualValues(t, 1, p.calls.Load())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register("stub", func() (Provider, error) { return NewStubProvider(), nil })
	r.Register("broken", func() (Provider, error) { return nil, errors.New("no token") })

	p, err := r.Open("stub")
	require.NoError(t, err)
	assert.NotNil(t, p)

	_, err = r.Open("broken")
	assert.ErrorContains(t, err, "open broken provider: no token")

	_, err = r.Open("eventkit")
	assert.ErrorContains(t, err, `"eventkit" is not implemented`)
	assert.Equal(t, []string{"broken", "stub"}, r.Names())
}

func TestStubProvider_FetchEvents(t *testing.T) {
	day := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	s := NewStubProvider()
	s.Events = []model.Event{
		{ID: "1", CalendarID: "a", Start: day.Add(time.Hour), End: day.Add(2 * time.Hour)},
		{ID: "2", CalendarID: "b", Start: day.Add(time.Hour), End: day.Add(2 * time.Hour)},
		{ID: "3", CalendarID: "a", Start: day.Add(48 * time.Hour), End: day.Add(49 * time.Hour)},
	}

	got, err := s.FetchEvents(context.Background(), day, day.Add(24*time.Hour), []string{"a"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].ID)

	_, err = s.FetchEvents(context.Background(), day, day, nil)
	assert.ErrorIs(t, err, ErrInvalidRange)
	assert.Len(t, s.Fetches(), 2)
}
