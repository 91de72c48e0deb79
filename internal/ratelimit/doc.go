// Package ratelimit provides per-client sliding-window request admission.
//
// This is a single-instance, in-memory limiter intended for basic abuse
// prevention on a single server. It does not protect against distributed
// attacks across many clients or bandwidth-bill attacks; inbound data is
// already accepted by the time this runs. For those, use an upstream WAF
// or CDN-level rate limiting.
package ratelimit
