package access

import (
	"crypto/subtle"
	"encoding/base64"
	"strings"
)

// BasicRealm is the realm advertised in the Proxy-Authenticate challenge.
const BasicRealm = "Proxy Authentication Required"

// Credentials is the single username/password pair a proxy accepts.
type Credentials struct {
	Username string
	Password string
}

// Enabled reports whether authentication is required. Both fields must be
// set; a lone username or password runs an open proxy.
func (c Credentials) Enabled() bool {
	return c.Username != "" && c.Password != ""
}

// Check validates a Proxy-Authorization header value of the form
// "Basic base64(user:pass)". It always succeeds when c is not Enabled.
func (c Credentials) Check(header string) bool {
	if !c.Enabled() {
		return true
	}

	scheme, payload, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Basic") {
		return false
	}

	decoded, err := base64.StdEncoding.Strict().DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return false
	}

	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return false
	}

	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(c.Username))
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(c.Password))
	return userOK&passOK == 1
}

// BasicAuthHeader returns the Proxy-Authorization value for user and pass.
func BasicAuthHeader(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}
