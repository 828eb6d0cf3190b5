package plausibility

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arcade-scores/internal/config"
	"github.com/arcade-scores/internal/domain"
)

func testGames() map[string]config.GameConfig {
	return map[string]config.GameConfig{
		"space-rocks": {SessionTTL: 15 * time.Minute, PointsPerSecond: 10},
		"pixel-dash":  {SessionTTL: 10 * time.Minute, PointsPerSecond: 50},
		"block-drop":  {SessionTTL: 30 * time.Minute, PointsPerSecond: 40, PointsPerInput: 25, BaseAllowance: 100},
		"clicker":     {SessionTTL: 5 * time.Minute, PointsPerInput: 3},
	}
}

func TestMaxPlausibleScore(t *testing.T) {
	b := NewBounder(testGames(), 5*time.Second)

	testCases := []struct {
		name       string
		gameID     string
		duration   int64
		inputCount int
		expMax     int64
	}{
		{name: "time rate over a minute", gameID: "space-rocks", duration: 60000, inputCount: 300, expMax: 600},
		{name: "partial second rounds up", gameID: "space-rocks", duration: 1050, inputCount: 3, expMax: 11},
		{name: "fast game one second", gameID: "pixel-dash", duration: 1000, inputCount: 10, expMax: 50},
		{name: "input cap tighter than time cap", gameID: "block-drop", duration: 60000, inputCount: 10, expMax: 350},
		{name: "time cap tighter than input cap", gameID: "block-drop", duration: 1000, inputCount: 100, expMax: 140},
		{name: "input only game", gameID: "clicker", duration: 90000, inputCount: 40, expMax: 120},
		{name: "input only game without inputs", gameID: "clicker", duration: 90000, inputCount: 0, expMax: 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := b.MaxPlausibleScore(tc.gameID, tc.duration, tc.inputCount)
			require.NoError(t, err)
			require.Equal(t, tc.expMax, got)
		})
	}
}

func TestMaxPlausibleScoreRejects(t *testing.T) {
	b := NewBounder(testGames(), 5*time.Second)

	testCases := []struct {
		name       string
		gameID     string
		duration   int64
		inputCount int
		expErr     error
	}{
		{name: "unknown game", gameID: "pong", duration: 1000, expErr: domain.ErrInvalidArgument},
		{name: "zero duration", gameID: "space-rocks", duration: 0, expErr: domain.ErrInvalidArgument},
		{name: "negative duration", gameID: "space-rocks", duration: -5, expErr: domain.ErrInvalidArgument},
		{name: "negative inputs", gameID: "space-rocks", duration: 1000, inputCount: -1, expErr: domain.ErrInvalidArgument},
		{name: "duration beyond ttl window", gameID: "space-rocks", duration: (15*time.Minute + 6*time.Second).Milliseconds(), expErr: domain.ErrScoreImplausible},
		{name: "duration overflowing nanoseconds", gameID: "space-rocks", duration: 9223372036855, expErr: domain.ErrScoreImplausible},
		{name: "max duration", gameID: "space-rocks", duration: math.MaxInt64, expErr: domain.ErrScoreImplausible},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := b.MaxPlausibleScore(tc.gameID, tc.duration, tc.inputCount)
			require.ErrorIs(t, err, tc.expErr)
		})
	}

	// inside the grace window is still fine
	_, err := b.MaxPlausibleScore("space-rocks", (15*time.Minute + 4*time.Second).Milliseconds(), 0)
	require.NoError(t, err)
}

func TestCheck(t *testing.T) {
	b := NewBounder(testGames(), 0)

	v, err := b.Check("space-rocks", 60000, 200, 500)
	require.NoError(t, err)
	require.True(t, v.Plausible)
	require.Equal(t, int64(600), v.MaxScore)
	require.Empty(t, v.Reason)

	v, err = b.Check("pixel-dash", 1000, 20, 100000)
	require.NoError(t, err)
	require.False(t, v.Plausible)
	require.Equal(t, domain.ReasonScoreExceedsBound, v.Reason)

	v, err = b.Check("space-rocks", 60000, 200, 600)
	require.NoError(t, err)
	require.True(t, v.Plausible)

	_, err = b.Check("space-rocks", 60000, 200, -1)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestMaxPlausibleScoreSaturates(t *testing.T) {
	b := NewBounder(map[string]config.GameConfig{
		"huge": {SessionTTL: time.Hour, PointsPerSecond: math.MaxFloat64 / 2},
	}, 0)

	got, err := b.MaxPlausibleScore("huge", 1000, 1)
	require.NoError(t, err)
	require.Equal(t, int64(math.MaxInt64), got)
}
