package httpwire

import (
	"bytes"
	"strings"
)

// ResponseSummary is the status line of an upstream response, used only for
// logging. StatusCode is kept as a string and not validated.
type ResponseSummary struct {
	Protocol   string
	StatusCode string
	StatusText string
}

// SniffResponse extracts the status line from the first chunk an upstream
// sent. Chunks that do not start with an HTTP status line, such as TLS
// records inside a CONNECT tunnel, yield a zero ResponseSummary.
func SniffResponse(chunk []byte) ResponseSummary {
	line, _, _ := bytes.Cut(chunk, crlf)
	if !bytes.HasPrefix(line, []byte("HTTP/")) {
		return ResponseSummary{}
	}

	fields := strings.SplitN(string(line), " ", 3)
	if len(fields) < 2 {
		return ResponseSummary{}
	}

	s := ResponseSummary{Protocol: fields[0], StatusCode: fields[1]}
	if len(fields) == 3 {
		s.StatusText = fields[2]
	}
	return s
}
