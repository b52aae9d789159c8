package proxy

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/die-net/portcullis/internal/access"
	"github.com/die-net/portcullis/internal/httpwire"
)

// ErrUpstreamUnreachable reports that the target could not be dialed.
var ErrUpstreamUnreachable = errors.New("upstream unreachable")

var connectionEstablished = []byte("HTTP/1.1 200 Connection Established\r\n\r\n")

const blockPage = `<html><head><title>ISP ERROR</title></head><body>` +
	`<p style="text-align: center;">&nbsp;</p><p style="text-align: center;">&nbsp;</p>` +
	`<p style="text-align: center;">&nbsp;</p><p style="text-align: center;">&nbsp;</p>` +
	`<p style="text-align: center;">&nbsp;</p><p style="text-align: center;">&nbsp;</p>` +
	`<p style="text-align: center;"><span><strong>**YOU ARE NOT AUTHORIZED TO ACCESS THIS WEB PAGE | YOUR PROXY SERVER HAS BLOCKED THIS DOMAIN**</strong></span></p>` +
	`<p style="text-align: center;"><span><strong>**CONTACT YOUR PROXY ADMINISTRATOR**</strong></span></p>` +
	`</body></html>`

var blockResponse = []byte("HTTP/1.1 200 OK\r\n" +
	"Pragma: no-cache\r\n" +
	"Cache-Control: no-cache\r\n" +
	"Content-Type: text/html\r\n" +
	"Connection: close\r\n" +
	"\r\n" + blockPage)

var authRequiredResponse = []byte("HTTP/1.1 407 Proxy Authentication Required\r\n" +
	`Proxy-Authenticate: Basic realm="` + access.BasicRealm + `"` + "\r\n" +
	"\r\n")

// cannedResponses maps each session failure to the bytes sent to the client
// before closing. Lookups use errors.Is, so wrapped errors match.
var cannedResponses = []struct {
	err  error
	body []byte
}{
	{httpwire.ErrMalformedRequest, statusOnly(http.StatusBadRequest)},
	{access.ErrProtocolUnsupported, statusOnly(http.StatusHTTPVersionNotSupported)},
	{access.ErrBlocked, blockResponse},
	{access.ErrRateLimited, statusOnly(http.StatusTooManyRequests)},
	{access.ErrAuthRequired, authRequiredResponse},
	{ErrUpstreamUnreachable, statusOnly(http.StatusServiceUnavailable)},
}

func statusOnly(code int) []byte {
	return fmt.Appendf(nil, "HTTP/1.1 %d %s\r\n\r\n", code, http.StatusText(code))
}

// cannedResponse returns the response for err, or nil if err has none.
func cannedResponse(err error) []byte {
	for _, r := range cannedResponses {
		if errors.Is(err, r.err) {
			return r.body
		}
	}
	return nil
}
