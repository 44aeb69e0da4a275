package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Order IDs are time-ordered 64-bit integers: 41 bits of milliseconds since
// epoch, 10 bits of node id, 12 bits of in-millisecond sequence. Sorting by
// id sorts by creation time, which the order listing relies on.
const (
	idEpochMs    = int64(1640995200000) // 2022-01-01T00:00:00Z
	nodeBits     = 10
	sequenceBits = 12
	maxSequence  = (1 << sequenceBits) - 1
)

var (
	idMu     sync.Mutex
	idNode   int64 = 1
	idLastMs int64
	idSeq    int64
)

func GenerateOrderID() int64 {
	idMu.Lock()
	defer idMu.Unlock()

	now := time.Now().UnixMilli()
	if now == idLastMs {
		idSeq++
		if idSeq > maxSequence {
			for now <= idLastMs {
				now = time.Now().UnixMilli()
			}
			idSeq = 0
		}
	} else {
		idSeq = 0
	}
	idLastMs = now

	return (now-idEpochMs)<<(nodeBits+sequenceBits) | idNode<<sequenceBits | idSeq
}

// GenerateOrderNumber builds the human-readable reference: date plus a
// random six-digit suffix, e.g. ORD-20260114-042917.
func GenerateOrderNumber() string {
	suffix, _ := rand.Int(rand.Reader, big.NewInt(1000000))
	return fmt.Sprintf("ORD-%s-%06d", time.Now().Format("20060102"), suffix.Int64())
}

// GenerateNonce returns a request nonce for gateway signatures.
func GenerateNonce() string {
	return uuid.NewString()
}

// GenerateLockToken returns an owner token for redis locks.
func GenerateLockToken() string {
	return uuid.NewString()
}
