// Package ratelimit paces outbound requests per provider.
//
// # Overview
//
// A Pacer enforces a minimum interval between the starts of consecutive
// requests to the same provider. It is a client-side courtesy throttle that
// smooths bursts before a backend's own rate limiting kicks in; it never
// rejects a request, it only delays it.
//
// Each provider gets its own golang.org/x/time/rate limiter with a burst of
// one, so the first request goes out immediately and every subsequent one
// waits until the interval since the previous start has elapsed:
//
//	pacer := ratelimit.NewPacer(150 * time.Millisecond)
//	pacer.SetInterval("local", 100*time.Millisecond)
//	if err := pacer.WaitIfNeeded(ctx, "openai"); err != nil {
//	    return err // ctx cancelled while waiting
//	}
//
// # Thread Safety
//
// Pacer is safe for concurrent use. Concurrent callers for the same provider
// are serialized through the limiter's reservations.
package ratelimit
