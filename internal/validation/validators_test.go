package validation

import (
	"strings"
	"testing"
)

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		// Happy paths
		{"simple", "my-policy", false},
		{"underscore", "zone_lan", false},
		{"alphanumeric", "policy123", false},

		// Sad paths
		{"empty", "", true},
		{"space", "my policy", true},
		{"dot", "my.policy", true},
		{"semicolon", "policy;drop", true},
		{"long", strings.Repeat("a", 256), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentifier(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateIdentifier(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePath(t *testing.T) {
	allowedDirs := []string{"/etc/wardline", "/var/lib/wardline"}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		// Happy paths
		{"relative", "config.yaml", false},
		{"allowed absolute", "/etc/wardline/firewall.yaml", false},
		{"allowed subdir", "/var/lib/wardline/state/db", false},

		// Sad paths
		{"empty", "", true},
		{"path traversal", "../../../etc/passwd", true},
		{"absolute not allowed", "/etc/passwd", true},
		{"null byte", "/etc/wardline/config\x00.yaml", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePath(tt.path, allowedDirs)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestValidateIPOrCIDR(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		// Happy paths - IPs
		{"ipv4", "192.168.1.1", false},
		{"ipv6", "2001:db8::1", false},
		{"ipv4 loopback", "127.0.0.1", false},

		// Happy paths - CIDRs
		{"ipv4 cidr", "192.168.1.0/24", false},
		{"ipv6 cidr", "2001:db8::/32", false},

		// Sad paths
		{"empty", "", true},
		{"invalid ip", "999.999.999.999", true},
		{"invalid cidr", "192.168.1.0/99", true},
		{"text", "not-an-ip", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIPOrCIDR(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateIPOrCIDR(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePortNumber(t *testing.T) {
	tests := []struct {
		name    string
		port    int
		wantErr bool
	}{
		{"min valid", 1, false},
		{"http", 80, false},
		{"https", 443, false},
		{"max valid", 65535, false},

		{"zero", 0, true},
		{"negative", -1, true},
		{"too high", 65536, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePortNumber(tt.port)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePortNumber(%d) error = %v, wantErr %v", tt.port, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"clean", "hello", "hello"},
		{"semicolon", "hello;world", "helloworld"},
		{"pipe", "a|b", "ab"},
		{"multiple", "a;b|c&d", "abcd"},
		{"quotes", "a\"b'c", "abc"},
		{"newlines", "a\nb\rc", "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizeString(tt.input)
			if result != tt.expected {
				t.Errorf("SanitizeString(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
