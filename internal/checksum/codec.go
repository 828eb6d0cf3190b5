// Package checksum implements the replay digest that binds a submitted input log to its seed.
//
// The canonical encoding is big-endian and fixed-width:
//
//	seed    uint64
//	count   uint32
//	events  count × { t uint64, kind uint8, buttons uint8 }
//
// Button bits, lowest first: up, down, left, right, action, secondary.
// The digest is the lowercase hex SHA-256 of that encoding.
package checksum

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"hash"

	"github.com/arcade-scores/internal/domain"
)

// Size is the length of a hex-encoded digest
const Size = sha256.Size * 2

const (
	kindDirection byte = 1
	kindAction    byte = 2
)

// Digest computes the replay checksum of seed and inputs
func Digest(seed uint64, inputs []domain.InputEvent) string {
	h := sha256.New()
	write(h, seed, inputs)
	return hex.EncodeToString(h.Sum(nil))
}

// Equal compares a claimed digest to a computed one in constant time
func Equal(claimed, computed string) bool {
	if len(claimed) != len(computed) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(claimed), []byte(computed)) == 1
}

// Encode returns the canonical byte encoding of seed and inputs
func Encode(seed uint64, inputs []domain.InputEvent) []byte {
	buf := make([]byte, 0, 12+len(inputs)*10)
	buf = binary.BigEndian.AppendUint64(buf, seed)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(inputs)))
	for _, ev := range inputs {
		buf = appendEvent(buf, ev)
	}
	return buf
}

func write(h hash.Hash, seed uint64, inputs []domain.InputEvent) {
	var head [12]byte
	binary.BigEndian.PutUint64(head[:8], seed)
	binary.BigEndian.PutUint32(head[8:], uint32(len(inputs)))
	h.Write(head[:])

	var ev [10]byte
	for _, in := range inputs {
		h.Write(appendEvent(ev[:0], in))
	}
}

func appendEvent(buf []byte, ev domain.InputEvent) []byte {
	buf = binary.BigEndian.AppendUint64(buf, uint64(ev.T))
	return append(buf, kindCode(ev.Kind), buttons(ev.Payload))
}

func kindCode(k domain.InputKind) byte {
	switch k {
	case domain.InputKindDirection:
		return kindDirection
	case domain.InputKindAction:
		return kindAction
	}
	return 0
}

func buttons(p domain.InputPayload) byte {
	var b byte
	for i, on := range []bool{p.Up, p.Down, p.Left, p.Right, p.Action, p.Secondary} {
		if on {
			b |= 1 << i
		}
	}
	return b
}
