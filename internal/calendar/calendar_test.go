package calendar

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAt(t *testing.T, at time.Time) *Calendar {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(at)
	c, err := New(mock)
	require.NoError(t, err)
	return c
}

func TestStatusRegularSession(t *testing.T) {
	// Wednesday 15:00 UTC is 11:00 in New York (EDT) and 16:00 in London (BST).
	c := newAt(t, time.Date(2024, time.June, 12, 15, 0, 0, 0, time.UTC))

	nyse, err := c.Status("NYSE")
	require.NoError(t, err)
	assert.True(t, nyse.Open)
	assert.Equal(t, time.Date(2024, time.June, 12, 20, 0, 0, 0, time.UTC), nyse.NextChange)

	lse, err := c.Status("LSE")
	require.NoError(t, err)
	assert.True(t, lse.Open)

	tse, err := c.Status("TSE")
	require.NoError(t, err)
	assert.False(t, tse.Open, "midnight in Tokyo")
}

func TestStatusLunchBreak(t *testing.T) {
	// 03:00 UTC is 12:00 in Tokyo.
	c := newAt(t, time.Date(2024, time.June, 12, 3, 0, 0, 0, time.UTC))
	tse, err := c.Status("TSE")
	require.NoError(t, err)
	assert.False(t, tse.Open)
	assert.Equal(t, time.Date(2024, time.June, 12, 3, 30, 0, 0, time.UTC), tse.NextChange)
}

func TestStatusWeekend(t *testing.T) {
	// Saturday noon UTC.
	c := newAt(t, time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC))
	nyse, err := c.Status("NYSE")
	require.NoError(t, err)
	assert.False(t, nyse.Open)
	assert.Equal(t, time.Date(2024, time.June, 17, 13, 30, 0, 0, time.UTC), nyse.NextChange)

	// Sunday 08:00 UTC is 11:00 in Baghdad, a trading day there.
	c = newAt(t, time.Date(2024, time.June, 16, 8, 0, 0, 0, time.UTC))
	isx, err := c.Status("ISX")
	require.NoError(t, err)
	assert.True(t, isx.Open)
}

func TestAll(t *testing.T) {
	c := newAt(t, time.Date(2024, time.June, 12, 15, 0, 0, 0, time.UTC))
	all := c.All()
	require.Len(t, all, len(Exchanges))
	assert.Equal(t, "ASX", all[0].Code)

	_, err := c.Status("MOON")
	assert.Error(t, err)
}
