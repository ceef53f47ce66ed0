// Package minaturl parses and inspects the URLs minato resolves cache
// entries for.
package minaturl

import (
	"net/url"

	"github.com/pkg/errors"
)

// LocalSchemes lists the URL schemes that address the local filesystem
// rather than a remote object store.
var LocalSchemes = map[string]bool{
	"":     true,
	"file": true,
	"osfs": true,
}

// URL is an immutable, parsed view of a raw URL string.
//
// Query parsing follows application/x-www-form-urlencoded rules: repeated
// keys accumulate into a slice of values.
type URL struct {
	raw     string
	parsed  *url.URL
	queries url.Values
}

// Parse parses raw into a URL value.
func Parse(raw string) (*URL, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(err, "minaturl: parse")
	}
	queries, err := url.ParseQuery(parsed.RawQuery)
	if err != nil {
		return nil, errors.Wrap(err, "minaturl: parse query")
	}
	return &URL{raw: raw, parsed: parsed, queries: queries}, nil
}

// Raw returns the original, unparsed string.
func (u *URL) Raw() string {
	return u.raw
}

// String implements fmt.Stringer by returning the original raw string.
func (u *URL) String() string {
	return u.raw
}

// Scheme returns the URL scheme, e.g. "https" or "s3". Empty for bare
// filesystem paths.
func (u *URL) Scheme() string {
	return u.parsed.Scheme
}

// Username returns the userinfo username, if any.
func (u *URL) Username() string {
	return u.parsed.User.Username()
}

// Password returns the userinfo password, if any.
func (u *URL) Password() string {
	pass, _ := u.parsed.User.Password()
	return pass
}

// Hostname returns the host without any port suffix.
func (u *URL) Hostname() string {
	return u.parsed.Hostname()
}

// Netloc returns the raw "user:pass@host:port" authority component,
// matching Python's urlparse().netloc. net/url's Host never includes
// userinfo, so it is reattached from User here.
func (u *URL) Netloc() string {
	if u.parsed.User == nil {
		return u.parsed.Host
	}
	return u.parsed.User.String() + "@" + u.parsed.Host
}

// Path returns the URL path component.
func (u *URL) Path() string {
	return u.parsed.Path
}

// IsLocal returns true if the scheme addresses the local filesystem.
func (u *URL) IsLocal() bool {
	return LocalSchemes[u.parsed.Scheme]
}

// GetQuery returns the first value of key, or ("", false) if absent.
func (u *URL) GetQuery(key string) (string, bool) {
	values, ok := u.queries[key]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// GetQueries returns all values of key, or nil if absent.
func (u *URL) GetQueries(key string) []string {
	return u.queries[key]
}
