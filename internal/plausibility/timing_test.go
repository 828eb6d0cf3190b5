package plausibility

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arcade-scores/internal/domain"
)

func evenlySpaced(n int, gap int64) []domain.InputEvent {
	out := make([]domain.InputEvent, n)
	for i := range out {
		out[i] = domain.InputEvent{T: int64(i) * gap, Kind: domain.InputKindAction}
	}
	return out
}

func TestRegularTiming(t *testing.T) {
	require.True(t, RegularTiming(evenlySpaced(60, 100), 50, 2*time.Millisecond))

	// too few events to judge
	require.False(t, RegularTiming(evenlySpaced(10, 100), 50, 2*time.Millisecond))

	human := make([]domain.InputEvent, 0, 60)
	var at int64
	for i := 0; i < 60; i++ {
		at += int64(80 + (i*37)%90)
		human = append(human, domain.InputEvent{T: at, Kind: domain.InputKindDirection})
	}
	require.False(t, RegularTiming(human, 50, 2*time.Millisecond))
}

func TestRegularTimingIgnoresSimultaneousEvents(t *testing.T) {
	inputs := make([]domain.InputEvent, 0, 120)
	for i := 0; i < 60; i++ {
		at := int64(i) * 250
		inputs = append(inputs,
			domain.InputEvent{T: at, Kind: domain.InputKindDirection},
			domain.InputEvent{T: at, Kind: domain.InputKindAction},
		)
	}
	require.True(t, RegularTiming(inputs, 50, 2*time.Millisecond))
	require.False(t, RegularTiming(inputs, 1, 2*time.Millisecond))
}
