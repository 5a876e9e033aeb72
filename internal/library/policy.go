package library

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/starford/bibcite/internal/apperr"
)

// HostPolicy restricts the hosts libraries may be fetched from. Entries are
// exact host names, "*.example.org" for any subdomain, or "*" for any host.
type HostPolicy struct {
	anyHost  bool
	exact    map[string]bool
	suffixes []string
}

// NewHostPolicy builds a policy from host patterns. Blank entries are ignored.
func NewHostPolicy(hosts ...string) *HostPolicy {
	p := &HostPolicy{exact: map[string]bool{}}
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		switch {
		case h == "":
		case h == "*":
			p.anyHost = true
		case strings.HasPrefix(h, "*."):
			p.suffixes = append(p.suffixes, h[1:])
		default:
			p.exact[h] = true
		}
	}
	return p
}

// Check returns apperr.ErrURLNotAllowed unless rawURL is an http(s) URL whose
// host the policy admits. A nil policy admits every http(s) URL.
func (p *HostPolicy) Check(rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return fmt.Errorf("%w: %q is not an http(s) url", apperr.ErrURLNotAllowed, rawURL)
	}
	if p == nil || p.anyHost {
		return nil
	}
	host := strings.ToLower(u.Hostname())
	if p.exact[host] {
		return nil
	}
	for _, s := range p.suffixes {
		if strings.HasSuffix(host, s) {
			return nil
		}
	}
	return fmt.Errorf("%w: host %s", apperr.ErrURLNotAllowed, host)
}
