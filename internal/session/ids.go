package session

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"
)

// Session and export job ids are ULID-shaped: a 48-bit millisecond
// timestamp followed by 80 random bits, Crockford base32 encoded into 26
// characters, so they sort by creation time.

const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

var (
	idMu    sync.Mutex
	idLast  uint64
	idCount uint16
)

func newID() string {
	idMu.Lock()
	ts := uint64(time.Now().UnixMilli())
	if ts == idLast {
		idCount++
	} else {
		idLast, idCount = ts, 0
	}
	seq := idCount
	idMu.Unlock()

	var b [16]byte
	binary.BigEndian.PutUint64(b[0:8], ts<<16)
	rand.Read(b[6:])
	// Within one millisecond the counter keeps ids ordered and distinct.
	binary.BigEndian.PutUint16(b[6:8], seq)
	return encodeID(b)
}

// encodeID writes the 128 bits of b as 26 base32 digits, most significant
// first. The leading digit carries only the top 3 bits.
func encodeID(b [16]byte) string {
	hi := binary.BigEndian.Uint64(b[0:8])
	lo := binary.BigEndian.Uint64(b[8:16])

	var out [26]byte
	for i := 25; i >= 0; i-- {
		out[i] = crockford[lo&31]
		lo = lo>>5 | hi<<59
		hi >>= 5
	}
	return string(out[:])
}
