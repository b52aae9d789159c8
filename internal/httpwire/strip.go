package httpwire

import "bytes"

var hopHeaderPrefixes = [][]byte{
	[]byte("Proxy-Connection:"),
	[]byte("Proxy-Authorization:"),
}

// StripProxyHeaders removes Proxy-Connection and Proxy-Authorization lines
// from the header block of raw before it is forwarded upstream. Matching is
// a case-sensitive prefix match at the start of a line. Bytes after the
// header block are left untouched, and raw is returned as-is when there is
// nothing to remove.
func StripProxyHeaders(raw []byte) []byte {
	headEnd := len(raw)
	if i := bytes.Index(raw, headTerm); i >= 0 {
		headEnd = i + len(headTerm)
	}

	lines := bytes.Split(raw[:headEnd], crlf)
	kept := make([][]byte, 0, len(lines))
	for _, line := range lines {
		if !isHopHeader(line) {
			kept = append(kept, line)
		}
	}
	if len(kept) == len(lines) {
		return raw
	}

	out := bytes.Join(kept, crlf)
	return append(out, raw[headEnd:]...)
}

func isHopHeader(line []byte) bool {
	for _, p := range hopHeaderPrefixes {
		if bytes.HasPrefix(line, p) {
			return true
		}
	}
	return false
}
