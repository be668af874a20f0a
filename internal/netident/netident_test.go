package netident_test

import (
	"testing"

	"phishdetect/internal/netident"
)

func TestHostname(t *testing.T) {
	testCases := []struct {
		rawURL   string
		expected string
		wantErr  bool
	}{
		{"https://good.example.com/page", "good.example.com", false},
		{"http://a.b.example.co.uk:8080/x?y=1", "a.b.example.co.uk", false},
		{"example.com/path", "example.com", false},
		{"https://", "", true},
		{"", "", true},
	}
	for _, tc := range testCases {
		got, err := netident.Hostname(tc.rawURL)
		if tc.wantErr {
			if err == nil {
				t.Errorf("Hostname(%q): expected error, got %q", tc.rawURL, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("Hostname(%q): unexpected error %v", tc.rawURL, err)
			continue
		}
		if got != tc.expected {
			t.Errorf("Hostname(%q) = %q, expected %q", tc.rawURL, got, tc.expected)
		}
	}
}

func TestRegisteredDomain(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
	}{
		{"good.example.com", "example.com"},
		{"https://good.example.com/page", "example.com"},
		{"a.b.example.co.uk", "example.co.uk"},
		{"Example.COM.", "example.com"},
		{"example.com:443", "example.com"},
		// unclassifiable inputs come back sanitized but unreduced
		{"localhost", "localhost"},
		{"127.0.0.1", "127.0.0.1"},
		{"http://10.0.0.1:8443/login", "10.0.0.1"},
		{"[::1]:443", "::1"},
		{"", ""},
	}
	for _, tc := range testCases {
		if got := netident.RegisteredDomain(tc.input); got != tc.expected {
			t.Errorf("RegisteredDomain(%q) = %q, expected %q", tc.input, got, tc.expected)
		}
	}
}

// Distinct registrable domains must never be equated.
func TestRegisteredDomainDistinct(t *testing.T) {
	pairs := [][2]string{
		{"https://login.paypal.com", "https://paypal.com.evil.net"},
		{"https://example.co.uk", "https://example.com"},
		{"https://10.0.0.1", "https://127.0.0.1"},
		{"192.168.0.1", "172.16.0.1"},
	}
	for _, p := range pairs {
		a, b := netident.RegisteredDomain(p[0]), netident.RegisteredDomain(p[1])
		if a == b {
			t.Errorf("RegisteredDomain equated %q and %q (both %q)", p[0], p[1], a)
		}
	}
}
