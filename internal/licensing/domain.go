package licensing

import "strings"

// NormalizeDomain canonicalizes a hostname for domain-lock comparison and
// storage: lowercase, no scheme, no trailing slashes. Idempotent.
func NormalizeDomain(raw string) string {
	domain := strings.ToLower(strings.TrimSpace(raw))
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "http://")
	domain = strings.TrimRight(domain, "/")
	return domain
}

// DomainsMatch reports whether two raw domain values refer to the same host.
func DomainsMatch(a, b string) bool {
	return NormalizeDomain(a) == NormalizeDomain(b)
}
