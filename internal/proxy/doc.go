// Package proxy implements the forwarding HTTP/HTTPS proxy server.
//
// A [Server] accepts client connections under a fixed ceiling on concurrent
// sessions. Each session reads one request head, runs it through an
// access gate, dials the target through the configured dialer, and then
// either acknowledges a CONNECT tunnel or forwards the request with its
// proxy headers removed. From then on it is a transparent byte [Relay]
// until either side closes or both go idle.
//
// Requests that fail the gate or cannot reach their target get a short
// canned HTTP response before the connection is closed.
package proxy
