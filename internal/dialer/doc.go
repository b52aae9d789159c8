// Package dialer opens the proxy's outbound connections.
//
// Every implementation satisfies [Dialer]. [New] picks one from an upstream
// URL: a plain TCP connection, or a tunnel through another HTTP(S), SOCKS5
// or SSH proxy.
package dialer
