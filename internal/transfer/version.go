package transfer

import (
	"strings"

	"golang.org/x/mod/semver"
)

// MinProducerVersion is the oldest log producer whose message
// format the processor understands.
const MinProducerVersion = "v11.68.0"

// NormalizeVersion converts a producer version such as
// "11.110.0.12" to a semver string ("v11.110.0"). It returns ""
// when v has no numeric major component.
func NormalizeVersion(v string) string {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if idx := strings.IndexAny(v, "-+ "); idx >= 0 {
		v = v[:idx]
	}
	parts := strings.Split(v, ".")
	for len(parts) < 3 {
		parts = append(parts, "0")
	}
	sv := "v" + strings.Join(parts[:3], ".")
	if !semver.IsValid(sv) {
		return ""
	}
	return sv
}

// SupportedVersion reports whether a producer version is at least
// MinProducerVersion. Unparseable versions are assumed supported
// so that development builds are not flagged.
func SupportedVersion(v string) bool {
	sv := NormalizeVersion(v)
	if sv == "" {
		return true
	}
	return semver.Compare(sv, MinProducerVersion) >= 0
}
