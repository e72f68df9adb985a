package helpers

import (
	"fmt"
	"net/netip"
	"strings"
)

// IsValidIPLiteral reports whether addr parses as an IPv4 or IPv6 literal,
// as required for the desired server's address field and the config's
// trustedIP/untrustedIPs/adminIPS/mantaIPS fields.
func IsValidIPLiteral(addr string) bool {
	_, err := netip.ParseAddr(addr)
	return err == nil
}

// ValidateIPLiteral returns a descriptive error when addr is not a valid
// IPv4 or IPv6 literal.
func ValidateIPLiteral(field, addr string) error {
	if !IsValidIPLiteral(addr) {
		return fmt.Errorf("%s: %q is not a valid IPv4 or IPv6 literal", field, addr)
	}
	return nil
}

// IsValidDomain validates the config's service domain; the ZK directory
// path is derived from this value by reversing its dotted segments.
func IsValidDomain(domain string) error {
	if len(domain) == 0 || len(domain) > 253 {
		return fmt.Errorf("domain length must be between 1 and 253 characters")
	}

	if strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return fmt.Errorf("domain cannot start or end with a dot")
	}

	if strings.HasPrefix(domain, "-") || strings.HasSuffix(domain, "-") {
		return fmt.Errorf("domain cannot start or end with a hyphen")
	}

	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return fmt.Errorf("domain must have at least two labels (e.g., example.com)")
	}

	for _, label := range labels {
		if err := validateDomainLabel(label); err != nil {
			return fmt.Errorf("invalid label '%s': %w", label, err)
		}
	}

	return nil
}

func validateDomainLabel(label string) error {
	if len(label) == 0 || len(label) > 63 {
		return fmt.Errorf("label length must be between 1 and 63 characters")
	}

	if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
		return fmt.Errorf("label cannot start or end with hyphen")
	}

	for _, r := range label {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-') {
			return fmt.Errorf("label contains invalid character: %c", r)
		}
	}

	return nil
}
