package access

import "strings"

// Blacklist is a read-only set of denied hosts. Lookups need no locking.
type Blacklist struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewBlacklist builds a Blacklist from hosts. Entries are trimmed and
// lower-cased; blank entries are ignored.
func NewBlacklist(hosts []string) *Blacklist {
	b := &Blacklist{exact: make(map[string]struct{}, len(hosts))}
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(h, "*."); ok {
			b.suffixes = append(b.suffixes, "."+rest)
			continue
		}
		b.exact[h] = struct{}{}
	}
	return b
}

// Contains reports whether host is denied. A nil Blacklist denies nothing.
func (b *Blacklist) Contains(host string) bool {
	if b == nil || host == "" {
		return false
	}
	host = strings.ToLower(host)
	if _, ok := b.exact[host]; ok {
		return true
	}
	for _, s := range b.suffixes {
		if strings.HasSuffix(host, s) {
			return true
		}
	}
	return false
}

// Len returns the number of entries.
func (b *Blacklist) Len() int {
	if b == nil {
		return 0
	}
	return len(b.exact) + len(b.suffixes)
}
