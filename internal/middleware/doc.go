// Package middleware provides HTTP middleware for the write gateway.
//
// The middleware package contains reusable middleware components for
// request logging, panic recovery, rate limiting, CORS, and compression.
//
// # Available Middleware
//
//   - Logger: structured request logging
//   - Recovery: panic recovery with a JSON error response
//   - RateLimit: token-bucket rate limiting keyed by remote address
//   - CORS: cross-origin access control
//   - Compress: gzip response compression
//
// # Request IDs
//
// RequestID assigns a unique identifier to every inbound request and
// stores it in the request context:
//
//	requestID := middleware.GetRequestID(r.Context())
//
// # Rate Limiting
//
// Rate limiting protects the gateway's admission control from being
// overwhelmed by a single source:
//
//	handler := middleware.Chain(mux, middleware.RateLimit(limiter))
//
// # Composing middleware
//
// Chain applies middleware in the order given, with the first middleware
// in the list becoming the outermost handler:
//
//	handler := middleware.Chain(
//		mux,
//		middleware.RequestID,
//		middleware.Logger,
//		middleware.Recovery,
//	)
package middleware
