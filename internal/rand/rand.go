// Package rand generates request and client identifiers.
package rand

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"

	"github.com/gofrs/uuid"
)

const (
	bytesInUint64 = 8
	charset       = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789" // reduced base64
)

var charsetLen = len(charset)

var defaultSource = newSource()

func newSource() *source {
	seed := make([]byte, bytesInUint64*2)

	if _, err := cryptorand.Read(seed); err != nil {
		panic("unreachable")
	}

	return &source{
		//nolint:gosec // no security required
		rng: rand.New(rand.NewPCG(
			binary.LittleEndian.Uint64(seed[:8]),
			binary.LittleEndian.Uint64(seed[8:]),
		)),
	}
}

type source struct {
	mut sync.Mutex
	rng *rand.Rand
}

// fill writes random bytes into buf, eight at a time.
func (s *source) fill(buf []byte) {
	var chunk [bytesInUint64]byte

	s.mut.Lock()
	defer s.mut.Unlock()

	for i := 0; i < len(buf); i += bytesInUint64 {
		binary.LittleEndian.PutUint64(chunk[:], s.rng.Uint64())
		copy(buf[i:], chunk[:])
	}
}

// NewRequestID returns a base62 id correlating a SyncResponse to its
// SyncRequest on a duplex connection. The distribution is not uniform,
// ids only need to be unique among the requests in flight.
func NewRequestID(length int) string {
	buf := make([]byte, length)
	defaultSource.fill(buf)

	for i, b := range buf {
		buf[i] = charset[int(b)%charsetLen]
	}

	return string(buf)
}

// NewClientID returns a time ordered UUID identifying a client towards a hub.
func NewClientID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Must(uuid.NewV4()).String()
	}
	return id.String()
}
