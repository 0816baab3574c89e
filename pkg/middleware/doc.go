// Package middleware rate limits the endpoints that render documents.
//
// RateLimiter is a per-process token bucket. DistributedRateLimiter keeps a
// fixed-window counter in Redis so replicas share one budget. Both are keyed
// by client address:
//
//	limiter := middleware.NewRateLimiter(&middleware.RateLimitConfig{
//		RequestsPerWindow: 60,
//		WindowDuration:    time.Minute,
//		BurstSize:         10,
//	})
//	limiter.StartCleanup(ctx)
//	handler := middleware.NewRateLimitMiddleware(limiter, logger).Handler(next)
//
// Rejected requests get 429 with Retry-After. Limiter errors let the request
// through unless SetFailOpen(false) is called.
package middleware
