package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/claimboard/internal/model"
)

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339Nano, s)
	require.NoError(t, err)
	return v
}

func TestThisWeekWindow(t *testing.T) {
	tests := []struct {
		name      string
		now       string
		wantStart string
		wantEnd   string
	}{
		{
			name:      "thursday",
			now:       "2024-03-14T10:00:00Z",
			wantStart: "2024-03-11T00:00:00Z",
			wantEnd:   "2024-03-14T23:59:59.999Z",
		},
		{
			name:      "monday is its own week start",
			now:       "2024-03-11T00:00:00Z",
			wantStart: "2024-03-11T00:00:00Z",
			wantEnd:   "2024-03-11T23:59:59.999Z",
		},
		{
			name:      "sunday belongs to previous monday",
			now:       "2024-03-17T22:15:00Z",
			wantStart: "2024-03-11T00:00:00Z",
			wantEnd:   "2024-03-17T23:59:59.999Z",
		},
		{
			name:      "week crossing month boundary",
			now:       "2024-03-02T08:00:00Z",
			wantStart: "2024-02-26T00:00:00Z",
			wantEnd:   "2024-03-02T23:59:59.999Z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ThisWeekWindow(mustParse(t, tt.now))
			assert.Equal(t, model.WindowWeekly, w.Kind)
			assert.True(t, w.Start.Equal(mustParse(t, tt.wantStart)), "start = %s", w.Start)
			assert.True(t, w.End.Equal(mustParse(t, tt.wantEnd)), "end = %s", w.End)
			assert.True(t, w.EndInclusive)
		})
	}
}

func TestThisMonthWindow(t *testing.T) {
	tests := []struct {
		name      string
		now       string
		wantStart string
		wantEnd   string
	}{
		{"march", "2024-03-14T10:00:00Z", "2024-03-01T00:00:00Z", "2024-03-31T23:59:59.999Z"},
		{"leap february", "2024-02-29T23:00:00Z", "2024-02-01T00:00:00Z", "2024-02-29T23:59:59.999Z"},
		{"december", "2023-12-05T00:00:00Z", "2023-12-01T00:00:00Z", "2023-12-31T23:59:59.999Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ThisMonthWindow(mustParse(t, tt.now))
			assert.True(t, w.Start.Equal(mustParse(t, tt.wantStart)), "start = %s", w.Start)
			assert.True(t, w.End.Equal(mustParse(t, tt.wantEnd)), "end = %s", w.End)
			assert.True(t, w.EndInclusive)
		})
	}
}

func TestTodayWindow(t *testing.T) {
	w := TodayWindow(mustParse(t, "2024-03-14T10:00:00Z"))

	assert.Equal(t, model.WindowDaily, w.Kind)
	assert.True(t, w.Start.Equal(mustParse(t, "2024-03-14T05:30:00Z")), "start = %s", w.Start)
	assert.True(t, w.End.Equal(mustParse(t, "2024-03-15T05:29:59.999Z")), "end = %s", w.End)
	assert.False(t, w.EndInclusive)

	assert.True(t, w.Contains(w.Start))
	assert.False(t, w.Contains(w.End))
	assert.False(t, w.Contains(w.Start.Add(-time.Nanosecond)))
}

func TestTodayWindow_UniformBounds(t *testing.T) {
	c := Calendar{DailyOffset: DefaultDailyOffset, UniformBounds: true}
	w := c.Today(mustParse(t, "2024-03-14T10:00:00Z"))

	assert.True(t, w.EndInclusive)
	assert.True(t, w.Contains(w.End))
}

func TestWindowsAreIdempotent(t *testing.T) {
	now := mustParse(t, "2024-03-14T10:00:00Z")
	c := Default()

	for _, kind := range []model.WindowKind{model.WindowDaily, model.WindowWeekly, model.WindowMonthly} {
		a, err := c.Window(kind, now)
		require.NoError(t, err)
		b, err := c.Window(kind, now)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	}

	_, err := c.Window("yearly", now)
	assert.Error(t, err)
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want model.WindowKind
		ok   bool
	}{
		{"daily", model.WindowDaily, true},
		{" Today ", model.WindowDaily, true},
		{"WEEK", model.WindowWeekly, true},
		{"monthly", model.WindowMonthly, true},
		{"yearly", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := ParseKind(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestFixedClock(t *testing.T) {
	now := mustParse(t, "2024-03-14T10:00:00Z")
	assert.True(t, Fixed(now).Now().Equal(now))
}
