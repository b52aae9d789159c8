// Package access decides whether a parsed proxy request may be dialed.
//
// A Gate applies, in order: the protocol version check, the host blacklist,
// the per-client login rate limit and the Basic proxy credential check. The
// first failing check is reported as one of the sentinel errors in this
// package so the caller can pick the matching canned response.
package access
