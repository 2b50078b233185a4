// Package privacy removes credentials and hostnames from text before it is
// logged, reported or shown to a user.
package privacy

import (
	"crypto/sha256"
	"fmt"
	"net/netip"
	"net/url"
	"regexp"
	"strings"
)

// any scheme, since notification services use their own (ntfy://, telegram://)
var urlPattern = regexp.MustCompile(`\b[a-zA-Z][a-zA-Z0-9+.-]*://[^\s"'<>]+`)

// ScrubMessage replaces every URL in message with its anonymized form.
func ScrubMessage(message string) string {
	return urlPattern.ReplaceAllStringFunc(message, AnonymizeURL)
}

// AnonymizeURL keeps the scheme and a host category and replaces the rest
// with a short hash, so repeated failures against one endpoint still group
// together in logs.
func AnonymizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		hash := sha256.Sum256([]byte(rawURL))
		return fmt.Sprintf("url-hash-%x", hash[:6])
	}

	parts := []string{u.Scheme, u.Host, u.Path}
	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return fmt.Sprintf("%s://%s-%x", u.Scheme, categorizeHost(u.Hostname()), hash[:6])
}

// categorizeHost reduces a hostname to localhost, private-ip, public-ip or
// its top-level domain.
func categorizeHost(host string) string {
	if host == "" {
		return "no-host"
	}
	if host == "localhost" {
		return "localhost"
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		switch {
		case addr.IsLoopback():
			return "localhost"
		case addr.IsPrivate(), addr.IsLinkLocalUnicast():
			return "private-ip"
		default:
			return "public-ip"
		}
	}
	if i := strings.LastIndex(host, "."); i >= 0 && i < len(host)-1 {
		return "domain-" + strings.ToLower(host[i+1:])
	}
	return "host"
}

// SanitizedError reports a scrubbed message but unwraps to the original.
type SanitizedError struct {
	err error
	msg string
}

func (e *SanitizedError) Error() string { return e.msg }
func (e *SanitizedError) Unwrap() error { return e.err }

// WrapError scrubs URLs out of err's message. A nil err stays nil.
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	return &SanitizedError{err: err, msg: ScrubMessage(err.Error())}
}
