package tenant

import (
	"net"
	"regexp"
	"strings"
)

// accountPattern is the chain account-name grammar: a-z, digits 1-5 and dots,
// at most 12 characters.
var accountPattern = regexp.MustCompile(`^[a-z1-5.]{1,12}$`)

// reservedLabels are infrastructure hostnames that never identify a tenant.
var reservedLabels = map[string]struct{}{
	"www":       {},
	"api":       {},
	"admin":     {},
	"mail":      {},
	"ftp":       {},
	"localhost": {},
}

// Resolve maps an inbound hostname to a tenant id. The leftmost label of a
// hostname with at least three labels is the candidate; hyphens are read back
// as dots because account names permit dots but DNS labels do not, and the
// two characters never co-occur in a valid account name, so the substitution
// round-trips unambiguously. A false result means single-tenant handling, and
// no store lookup has happened.
func Resolve(hostname string) (string, bool) {
	host := strings.ToLower(strings.TrimSpace(hostname))
	if host == "" {
		return "", false
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	labels := strings.Split(host, ".")
	if len(labels) < 3 {
		return "", false
	}

	candidate := labels[0]
	if _, reserved := reservedLabels[candidate]; reserved {
		return "", false
	}

	candidate = strings.ReplaceAll(candidate, "-", ".")
	if !accountPattern.MatchString(candidate) {
		return "", false
	}
	return candidate, true
}
