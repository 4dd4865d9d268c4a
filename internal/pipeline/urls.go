package pipeline

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL lowercases the scheme and host, drops default ports and the
// fragment, and sorts query parameters so equivalent links share one queue row.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.RawQuery = u.Query().Encode()
	return u.String(), nil
}

// NormalizeLinks normalizes and de-duplicates links, keeping first-seen order.
// Links that cannot be normalized are returned as errors.
func NormalizeLinks(links []string) ([]string, []error) {
	seen := make(map[string]struct{}, len(links))
	out := make([]string, 0, len(links))
	var errs []error
	for _, link := range links {
		n, err := NormalizeURL(link)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out, errs
}
