// Package socks5 is the client half of the SOCKS5 handshake, used when
// upstream connections are chained through a SOCKS5 server.
//
// It wraps the low-level protocol types in github.com/txthinking/socks5.
// Only no-auth and username/password methods and the CONNECT command are
// supported.
package socks5
