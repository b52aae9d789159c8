// Package httpwire parses the raw bytes a proxy client sends before a
// session is set up, and the first bytes an upstream server answers with.
//
// It deliberately works on the first read from the socket rather than on a
// buffered http.Request: the proxy never interprets bodies or framing, it
// only needs the request line, a handful of headers and the resolved
// upstream target before it starts relaying bytes verbatim.
package httpwire
