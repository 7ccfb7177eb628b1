package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yomtov/internal/calendar"
	"yomtov/internal/model"
)

type fakeRefresher struct {
	calls  int
	accept bool
}

func (f *fakeRefresher) RequestRefresh(context.Context) bool {
	f.calls++
	return f.accept
}

func bigCalendar() *calendar.Static {
	occs := []model.RawOccurrence{raw("Purim", "2025-03-14"), raw("Purim Katan", "2025-03-14")}
	for i := 1; i <= 9; i++ {
		occs = append(occs, raw("Observance "+string(rune('A'+i)), time.Date(2025, time.April, i, 0, 0, 0, 0, time.UTC).Format("2006-01-02")))
	}
	return &calendar.Static{Occurrences: occs}
}

func TestServiceRebuildAndSnapshot(t *testing.T) {
	svc := NewService(NewBuilder(bigCalendar(), ""), allOn, 4)
	now := time.Date(2025, time.March, 14, 9, 30, 0, 0, time.UTC)

	require.NoError(t, svc.Rebuild(context.Background(), now))

	v := svc.Snapshot()
	assert.Equal(t, "2025-03-14", v.Day)
	assert.Equal(t, []string{"Purim", "Purim Katan"}, titles(v.Today), "more than one record today is fine")
	assert.Len(t, v.Upcoming, 4)
	assert.True(t, v.HasMore)
	assert.False(t, v.IsRefreshing)
	assert.Empty(t, v.LastError)
	assert.NotEmpty(t, v.RefreshID)
	assert.Equal(t, now, v.RefreshedAt)

	v = svc.RequestExpand()
	assert.Len(t, v.Upcoming, 8)
	assert.True(t, v.HasMore)

	v = svc.RequestExpand()
	assert.Len(t, v.Upcoming, 9)
	assert.False(t, v.HasMore)
}

func TestServiceKeepsPreviousFeedOnFailure(t *testing.T) {
	cal := bigCalendar()
	svc := NewService(NewBuilder(cal, ""), allOn, 4)
	now := time.Date(2025, time.March, 14, 9, 30, 0, 0, time.UTC)

	require.NoError(t, svc.Rebuild(context.Background(), now))
	before := svc.Snapshot()

	cal.Err = errors.New("engine fault")
	err := svc.Rebuild(context.Background(), now.Add(time.Hour))
	require.ErrorIs(t, err, ErrFeedUnavailable)
	require.Error(t, svc.Rebuild(context.Background(), now.Add(90*time.Minute)))

	after := svc.Snapshot()
	assert.Equal(t, 2, after.Failures)
	assert.Equal(t, before.Today, after.Today)
	assert.Equal(t, before.Upcoming, after.Upcoming)
	assert.Equal(t, before.RefreshedAt, after.RefreshedAt)
	assert.Contains(t, after.LastError, "engine fault")

	cal.Err = nil
	require.NoError(t, svc.Rebuild(context.Background(), now.Add(2*time.Hour)))
	assert.Empty(t, svc.Snapshot().LastError)
	assert.Zero(t, svc.Snapshot().Failures)
}

func TestServiceRebuildIsIdempotent(t *testing.T) {
	svc := NewService(NewBuilder(bigCalendar(), ""), allOn, 4)
	now := time.Date(2025, time.March, 14, 9, 30, 0, 0, time.UTC)

	require.NoError(t, svc.Rebuild(context.Background(), now))
	feed1, today1 := svc.Feed(), svc.Snapshot().Today
	require.NoError(t, svc.Rebuild(context.Background(), now))

	assert.Equal(t, feed1, svc.Feed())
	assert.Equal(t, today1, svc.Snapshot().Today)
}

func TestServiceManualRefreshResetsPager(t *testing.T) {
	svc := NewService(NewBuilder(bigCalendar(), ""), allOn, 4)
	require.NoError(t, svc.Rebuild(context.Background(), time.Date(2025, time.March, 14, 0, 0, 0, 0, time.UTC)))

	// No scheduler wired yet.
	assert.False(t, svc.RequestManualRefresh(context.Background()))

	r := &fakeRefresher{accept: true}
	svc.SetRefresher(r)
	svc.RequestExpand()
	require.Len(t, svc.Snapshot().Upcoming, 8)

	assert.True(t, svc.RequestManualRefresh(context.Background()))
	assert.Equal(t, 1, r.calls)
	assert.Len(t, svc.Snapshot().Upcoming, 4)

	svc.RequestExpand()
	svc.ResetPagination()
	assert.Len(t, svc.Snapshot().Upcoming, 4)
	assert.Equal(t, 1, r.calls, "resetting pagination alone does not rebuild")
}

func TestServiceSetSettings(t *testing.T) {
	svc := NewService(NewBuilder(bigCalendar(), ""), allOn, 4)

	display := allOn
	display.DateDisplay = model.DateDisplayOther
	assert.False(t, svc.SetSettings(display), "display mode alone does not invalidate the feed")
	assert.Equal(t, model.DateDisplayOther, svc.Settings().DateDisplay)

	toggled := display
	toggled.RoshChodesh = false
	assert.True(t, svc.SetSettings(toggled))
}
