// Package ipfilter evaluates whitelist/blacklist IP filters for a rule.
//
// A filter spec is either a literal address or an IPv4 CIDR block. Malformed
// specs never match and never fail the request; operator typos must not take
// the application down.
package ipfilter

import (
	"net/netip"
	"strconv"
	"strings"

	"github.com/half-blood-labs/route-shield/internal/model"
)

// Evaluate decides allow/deny for ip against the rule's filter list.
// Blacklist entries take precedence; a present whitelist set admits only
// matching addresses; an empty filter list admits everyone.
func Evaluate(ip string, filters []model.IPFilter) model.Reason {
	if len(filters) == 0 {
		return model.ReasonAllowed
	}

	hasWhitelist := false
	whitelisted := false
	for _, f := range filters {
		if !f.Enabled {
			continue
		}
		switch f.Kind {
		case model.FilterBlacklist:
			if Matches(f.IPSpec, ip) {
				return model.ReasonIPBlacklisted
			}
		case model.FilterWhitelist:
			hasWhitelist = true
			if Matches(f.IPSpec, ip) {
				whitelisted = true
			}
		}
	}

	if hasWhitelist && !whitelisted {
		return model.ReasonIPNotWhitelisted
	}
	return model.ReasonAllowed
}

// Matches reports whether spec covers ip. A spec without a slash matches by
// textual equality; a spec with a slash is an IPv4 CIDR block and matches iff
// the address's 32-bit value equals the network under the prefix mask. /32 is
// a single address, /0 is all of IPv4. Anything unparseable matches nothing.
func Matches(spec, ip string) bool {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return false
	}
	if !strings.Contains(spec, "/") {
		return spec == ip
	}

	network, bits, ok := parseCIDR(spec)
	if !ok {
		return false
	}
	addr, ok := parseIPv4(ip)
	if !ok {
		// valid IPv4 CIDR entries never match IPv6 traffic
		return false
	}
	mask := prefixMask(bits)
	return addr&mask == network&mask
}

// parseCIDR splits "a.b.c.d/n" into the network's 32-bit value and prefix
// length. Returns ok=false for anything that is not a valid IPv4 CIDR.
func parseCIDR(spec string) (network uint32, bits int, ok bool) {
	idx := strings.IndexByte(spec, '/')
	if idx < 0 {
		return 0, 0, false
	}
	network, ok = parseIPv4(spec[:idx])
	if !ok {
		return 0, 0, false
	}
	bits, err := strconv.Atoi(spec[idx+1:])
	if err != nil || bits < 0 || bits > 32 {
		return 0, 0, false
	}
	return network, bits, true
}

func parseIPv4(s string) (uint32, bool) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return 0, false
	}
	addr = addr.Unmap()
	if !addr.Is4() {
		return 0, false
	}
	b := addr.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), true
}

func prefixMask(bits int) uint32 {
	if bits <= 0 {
		return 0
	}
	return ^uint32(0) << (32 - bits)
}
