package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arcade-scores/internal/domain"
)

func sampleInputs() []domain.InputEvent {
	return []domain.InputEvent{
		{T: 0, Kind: domain.InputKindDirection, Payload: domain.InputPayload{Up: true}},
		{T: 120, Kind: domain.InputKindAction, Payload: domain.InputPayload{Action: true}},
		{T: 120, Kind: domain.InputKindDirection, Payload: domain.InputPayload{Left: true, Up: true}},
		{T: 4500, Kind: domain.InputKindAction, Payload: domain.InputPayload{Secondary: true}},
	}
}

func TestDigestIsStable(t *testing.T) {
	inputs := sampleInputs()
	first := Digest(42, inputs)

	for i := 0; i < 10; i++ {
		require.Equal(t, first, Digest(42, inputs))
	}
	require.Len(t, first, Size)
	require.Regexp(t, `^[0-9a-f]{64}$`, first)
}

func TestDigestMatchesCanonicalEncoding(t *testing.T) {
	inputs := sampleInputs()
	sum := sha256.Sum256(Encode(7, inputs))
	require.Equal(t, hex.EncodeToString(sum[:]), Digest(7, inputs))

	// seed 7, zero events
	require.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 7, 0, 0, 0, 0}, Encode(7, nil))

	enc := Encode(1, []domain.InputEvent{{T: 258, Kind: domain.InputKindAction, Payload: domain.InputPayload{Up: true, Action: true}}})
	require.Equal(t, []byte{0, 0, 0, 0, 0, 0, 1, 2, kindAction, 0b010001}, enc[12:])
}

func TestDigestDetectsChanges(t *testing.T) {
	base := Digest(42, sampleInputs())

	testCases := []struct {
		name   string
		seed   uint64
		mutate func([]domain.InputEvent) []domain.InputEvent
	}{
		{
			name:   "different seed",
			seed:   43,
			mutate: func(in []domain.InputEvent) []domain.InputEvent { return in },
		},
		{
			name: "flipped action",
			seed: 42,
			mutate: func(in []domain.InputEvent) []domain.InputEvent {
				in[1].Payload.Action = false
				return in
			},
		},
		{
			name: "shifted offset",
			seed: 42,
			mutate: func(in []domain.InputEvent) []domain.InputEvent {
				in[3].T++
				return in
			},
		},
		{
			name: "changed kind",
			seed: 42,
			mutate: func(in []domain.InputEvent) []domain.InputEvent {
				in[0].Kind = domain.InputKindAction
				return in
			},
		},
		{
			name: "swapped order",
			seed: 42,
			mutate: func(in []domain.InputEvent) []domain.InputEvent {
				in[1], in[2] = in[2], in[1]
				return in
			},
		},
		{
			name: "dropped event",
			seed: 42,
			mutate: func(in []domain.InputEvent) []domain.InputEvent {
				return in[:len(in)-1]
			},
		},
		{
			name: "appended empty event",
			seed: 42,
			mutate: func(in []domain.InputEvent) []domain.InputEvent {
				return append(in, domain.InputEvent{T: 4500, Kind: domain.InputKindDirection})
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Digest(tc.seed, tc.mutate(sampleInputs()))
			require.NotEqual(t, base, got)
		})
	}
}

func TestEqual(t *testing.T) {
	d := Digest(1, sampleInputs())
	require.True(t, Equal(d, d))
	require.False(t, Equal(d, Digest(2, sampleInputs())))
	require.False(t, Equal(d[:10], d))
}
