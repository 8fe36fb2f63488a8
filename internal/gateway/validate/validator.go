// Package validate is the trust boundary of the gateway: request bodies and
// target URLs pass through here exactly once before any upstream work.
package validate

import (
	"context"
	"net"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/mediagate/gateway/internal/common/configtypes"
	"github.com/mediagate/gateway/internal/common/urlutil"
)

// ValidatedTarget is a URL that passed the domain allow-list and SSRF checks.
// It is never constructed from an unchecked URL.
type ValidatedTarget struct {
	SanitizedURL string
	Hostname     string
	VideoID      string
}

// videoIDRe matches the canonical 11-character resource identifier.
var videoIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// Validator checks target URLs against the domain allow-list and private
// address ranges, and strips all non-essential query parameters.
type Validator struct {
	allowedDomains map[string]struct{}
	allowedParams  map[string]struct{}
	resolver       urlutil.IPResolver
	resolveCheck   bool
}

// NewValidator builds a Validator from configuration. When cfg.ResolveCheck
// is unset, resolved-IP re-validation defaults to on: hostname allow-listing
// alone does not defeat DNS rebinding.
func NewValidator(cfg configtypes.ValidationConfig) *Validator {
	v := &Validator{
		allowedDomains: make(map[string]struct{}, len(cfg.AllowedDomains)),
		allowedParams:  make(map[string]struct{}, len(cfg.AllowedParams)),
		resolver:       net.DefaultResolver,
		resolveCheck:   cfg.ResolveCheck == nil || *cfg.ResolveCheck,
	}
	for _, d := range cfg.AllowedDomains {
		v.allowedDomains[strings.ToLower(d)] = struct{}{}
	}
	for _, p := range cfg.AllowedParams {
		v.allowedParams[p] = struct{}{}
	}
	return v
}

// WithResolver substitutes the DNS resolver. Tests inject a fake here.
func (v *Validator) WithResolver(r urlutil.IPResolver) *Validator {
	v.resolver = r
	return v
}

// Validate parses, guards and sanitizes a raw target URL.
// The returned error is always a *Error; no side effects on any path.
func (v *Validator) Validate(ctx context.Context, rawURL string) (*ValidatedTarget, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, newError(KindInvalidFormat, "url is empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, newError(KindInvalidFormat, "url does not parse")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, newError(KindInvalidFormat, "scheme %q is not http or https", u.Scheme)
	}
	if u.User != nil {
		return nil, newError(KindInvalidFormat, "url contains userinfo")
	}

	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return nil, newError(KindInvalidFormat, "url has no host")
	}

	// Textual check first: private IP literals and localhost never reach DNS.
	if hostname == "localhost" {
		return nil, newError(KindPrivateAddress, "host is localhost")
	}
	if err := urlutil.ValidateHostNotPrivateIP(hostname); err != nil {
		return nil, newError(KindPrivateAddress, "host is a private address literal")
	}

	if _, ok := v.allowedDomains[hostname]; !ok {
		return nil, newError(KindDisallowedDomain, "host %q is not an allowed media domain", hostname)
	}

	// Re-validate resolved addresses to defeat DNS rebinding between
	// check and connect. Staleness between this lookup and the provider's
	// connect is narrowed, not eliminated; the provider runs on an
	// isolated network segment as the second line of defense.
	if v.resolveCheck {
		if err := urlutil.ValidateResolvedHost(ctx, v.resolver, hostname); err != nil {
			return nil, newError(KindPrivateAddress, "host resolves to a blocked range")
		}
	}

	videoID, ok := extractVideoID(u)
	if !ok {
		return nil, newError(KindInvalidFormat, "no video identifier in url")
	}

	return &ValidatedTarget{
		SanitizedURL: v.sanitize(u),
		Hostname:     hostname,
		VideoID:      videoID,
	}, nil
}

// sanitize rebuilds the URL keeping only allow-listed query parameters,
// dropping the fragment and normalizing scheme and host. Deterministic
// parameter order makes sanitization idempotent and cache keys stable.
func (v *Validator) sanitize(u *url.URL) string {
	clean := *u
	clean.Scheme = strings.ToLower(u.Scheme)
	clean.Host = strings.ToLower(u.Hostname())
	clean.User = nil
	clean.Fragment = ""
	clean.RawFragment = ""

	query := u.Query()
	kept := url.Values{}
	keys := make([]string, 0, len(query))
	for name := range query {
		if _, ok := v.allowedParams[name]; ok {
			keys = append(keys, name)
		}
	}
	sort.Strings(keys)
	for _, name := range keys {
		// A repeated parameter keeps its first value only
		kept.Set(name, query.Get(name))
	}
	clean.RawQuery = kept.Encode()

	return clean.String()
}

// extractVideoID pulls the canonical resource identifier from the URL:
// the v parameter on watch URLs, or the first path segment on youtu.be
// and the /shorts/, /embed/, /live/ path forms.
func extractVideoID(u *url.URL) (string, bool) {
	if id := u.Query().Get("v"); id != "" {
		return id, videoIDRe.MatchString(id)
	}

	segments := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	if len(segments) == 0 {
		return "", false
	}

	host := strings.ToLower(u.Hostname())
	if host == "youtu.be" {
		return segments[0], videoIDRe.MatchString(segments[0])
	}

	if len(segments) >= 2 {
		switch segments[0] {
		case "shorts", "embed", "live":
			return segments[1], videoIDRe.MatchString(segments[1])
		}
	}

	return "", false
}
