package ipfilter

import (
	"testing"

	"github.com/half-blood-labs/route-shield/internal/model"
)

func filter(kind model.FilterKind, spec string) model.IPFilter {
	return model.IPFilter{IPSpec: spec, Kind: kind, Enabled: true}
}

func TestEvaluateEmptyListAllows(t *testing.T) {
	if got := Evaluate("1.2.3.4", nil); got != model.ReasonAllowed {
		t.Fatalf("Evaluate with no filters = %s, want allowed", got)
	}
}

func TestEvaluateCIDRBlacklist(t *testing.T) {
	filters := []model.IPFilter{filter(model.FilterBlacklist, "10.0.0.0/8")}

	tests := []struct {
		ip   string
		want model.Reason
	}{
		{"10.1.2.3", model.ReasonIPBlacklisted},
		{"192.168.0.1", model.ReasonAllowed},
		{"10.255.255.255", model.ReasonIPBlacklisted},
	}
	for _, tc := range tests {
		if got := Evaluate(tc.ip, filters); got != tc.want {
			t.Errorf("Evaluate(%s) = %s, want %s", tc.ip, got, tc.want)
		}
	}
}

func TestEvaluateWhitelist(t *testing.T) {
	filters := []model.IPFilter{filter(model.FilterWhitelist, "192.168.1.100")}

	if got := Evaluate("192.168.1.100", filters); got != model.ReasonAllowed {
		t.Errorf("whitelisted ip = %s, want allowed", got)
	}
	if got := Evaluate("192.168.1.101", filters); got != model.ReasonIPNotWhitelisted {
		t.Errorf("non-whitelisted ip = %s, want ip_not_whitelisted", got)
	}
}

func TestBlacklistTakesPrecedence(t *testing.T) {
	filters := []model.IPFilter{
		filter(model.FilterWhitelist, "1.2.3.4"),
		filter(model.FilterBlacklist, "1.2.3.4"),
	}
	if got := Evaluate("1.2.3.4", filters); got != model.ReasonIPBlacklisted {
		t.Fatalf("Evaluate = %s, want ip_blacklisted", got)
	}
}

func TestDisabledFiltersIgnored(t *testing.T) {
	filters := []model.IPFilter{
		{IPSpec: "1.2.3.4", Kind: model.FilterBlacklist, Enabled: false},
	}
	if got := Evaluate("1.2.3.4", filters); got != model.ReasonAllowed {
		t.Fatalf("disabled blacklist blocked: %s", got)
	}
}

func TestInvalidSpecNeverMatches(t *testing.T) {
	filters := []model.IPFilter{filter(model.FilterBlacklist, "not-an-ip")}
	if got := Evaluate("1.2.3.4", filters); got != model.ReasonAllowed {
		t.Fatalf("invalid spec blocked request: %s", got)
	}

	// an invalid whitelist still counts as a whitelist being present
	filters = []model.IPFilter{filter(model.FilterWhitelist, "bogus/99")}
	if got := Evaluate("1.2.3.4", filters); got != model.ReasonIPNotWhitelisted {
		t.Fatalf("Evaluate = %s, want ip_not_whitelisted", got)
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		spec string
		ip   string
		want bool
	}{
		{"1.2.3.4", "1.2.3.4", true},
		{"1.2.3.4", "1.2.3.5", false},
		{"10.0.0.0/8", "10.200.1.1", true},
		{"10.0.0.0/8", "11.0.0.1", false},
		{"192.168.1.0/24", "192.168.1.255", true},
		{"192.168.1.0/24", "192.168.2.1", false},
		{"1.2.3.4/32", "1.2.3.4", true},
		{"1.2.3.4/32", "1.2.3.5", false},
		{"0.0.0.0/0", "203.0.113.7", true},
		// mask applies to the network side too
		{"10.0.0.99/8", "10.77.1.2", true},
		// malformed specs
		{"", "1.2.3.4", false},
		{"10.0.0.0/33", "10.0.0.1", false},
		{"10.0.0.0/-1", "10.0.0.1", false},
		{"10.0.0.0/abc", "10.0.0.1", false},
		{"300.0.0.0/8", "10.0.0.1", false},
		// IPv6: literal equality only; IPv4 CIDRs match only IPv4-mapped forms
		{"::1", "::1", true},
		{"10.0.0.0/8", "::ffff:10.0.0.1", true}, // 4-in-6 unmaps to IPv4
		{"10.0.0.0/8", "2001:db8::1", false},
	}
	for _, tc := range tests {
		if got := Matches(tc.spec, tc.ip); got != tc.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", tc.spec, tc.ip, got, tc.want)
		}
	}
}
