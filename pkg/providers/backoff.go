package providers

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Backoff computes retry delays: base*2^(attempt-1) capped at Max, plus
// uniform jitter of up to Jitter*delay, with the result never above Max.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64 // 0..1

	// rand returns a float in [0,1). Nil uses a crypto-seeded source.
	rand func() float64
}

var (
	jitterMu  sync.Mutex
	jitterRng = rand.New(rand.NewPCG(seed64(), seed64()))
)

func seed64() uint64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err == nil {
		return binary.LittleEndian.Uint64(b[:])
	}
	return uint64(time.Now().UnixNano())
}

func jitterFloat64() float64 {
	jitterMu.Lock()
	defer jitterMu.Unlock()
	return jitterRng.Float64()
}

// Delay returns the wait before retry number attempt (1 for the first retry).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := b.Base
	for i := 1; i < attempt; i++ {
		if d >= b.Max/2 {
			d = b.Max
			break
		}
		d *= 2
	}
	if d > b.Max {
		d = b.Max
	}

	if b.Jitter > 0 {
		r := b.rand
		if r == nil {
			r = jitterFloat64
		}
		d += time.Duration(r() * b.Jitter * float64(d))
	}
	if d > b.Max {
		d = b.Max
	}
	return d
}

// ClampRetryAfter bounds a server-provided Retry-After to [Base, Max].
func (b Backoff) ClampRetryAfter(d time.Duration) time.Duration {
	if d < b.Base {
		return b.Base
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// parseRetryAfter parses the Retry-After header value.
// It supports both delay-seconds and HTTP-date formats.
func parseRetryAfter(header string, now time.Time) (time.Duration, bool) {
	v := strings.TrimSpace(header)
	if v == "" {
		return 0, false
	}

	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}

	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
