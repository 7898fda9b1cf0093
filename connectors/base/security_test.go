// Copyright 2025 StayGuard
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package base

import (
	"net"
	"strings"
	"testing"
)

func TestValidateURL_Format(t *testing.T) {
	opts := DefaultURLValidationOptions()

	if err := ValidateURL("", opts); err == nil {
		t.Error("empty URL should be rejected")
	}
	if err := ValidateURL("://not-a-url", opts); err == nil {
		t.Error("malformed URL should be rejected")
	}
	if err := ValidateURL("ftp://files.example.com", opts); err == nil {
		t.Error("non-http scheme should be rejected")
	}
	if err := ValidateURL("https://", opts); err == nil {
		t.Error("URL without hostname should be rejected")
	}
}

func TestValidateURL_PrivateIPs(t *testing.T) {
	opts := DefaultURLValidationOptions()

	blocked := []string{
		"http://127.0.0.1:8090",
		"http://localhost:8090",
		"http://10.0.0.5",
		"http://192.168.1.20:8091",
		"http://169.254.169.254", // cloud metadata endpoint
	}
	for _, u := range blocked {
		if err := ValidateURL(u, opts); err == nil {
			t.Errorf("ValidateURL(%q) should reject private address", u)
		}
	}

	opts.AllowPrivateIPs = true
	for _, u := range blocked {
		if err := ValidateURL(u, opts); err != nil {
			t.Errorf("ValidateURL(%q) with AllowPrivateIPs = %v", u, err)
		}
	}
}

func TestValidateURL_HostLists(t *testing.T) {
	opts := DefaultURLValidationOptions()
	opts.AllowPrivateIPs = true

	opts.BlockedHosts = []string{"evil.example.com"}
	if err := ValidateURL("https://evil.example.com", opts); err == nil {
		t.Error("blocked host should be rejected")
	}
	if err := ValidateURL("https://sub.evil.example.com", opts); err == nil {
		t.Error("subdomain of blocked host should be rejected")
	}

	opts.BlockedHosts = nil
	opts.AllowedHosts = []string{"pms.property.example"}
	if err := ValidateURL("https://pms.property.example", opts); err != nil {
		t.Errorf("allowed host rejected: %v", err)
	}
	if err := ValidateURL("https://other.example.com", opts); err == nil {
		t.Error("host outside allow list should be rejected")
	}
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip      string
		private bool
	}{
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"172.16.0.1", true},
		{"192.168.0.1", true},
		{"169.254.169.254", true},
		{"0.0.0.0", true},
		{"100.64.0.1", true}, // carrier-grade NAT
		{"192.0.2.1", true},  // TEST-NET-1
		{"224.0.0.1", true},  // multicast
		{"255.255.255.255", true},
		{"::1", true},
		{"8.8.8.8", false},
		{"203.1.113.10", false},
		{"2001:4860:4860::8888", false},
	}

	for _, tt := range tests {
		ip := net.ParseIP(tt.ip)
		if ip == nil {
			t.Fatalf("bad test IP %q", tt.ip)
		}
		if got := isPrivateIP(ip); got != tt.private {
			t.Errorf("isPrivateIP(%s) = %v, want %v", tt.ip, got, tt.private)
		}
	}
}

func TestSanitizeLogString(t *testing.T) {
	if got := SanitizeLogString("line1\nline2\rline3"); strings.ContainsAny(got, "\n\r") {
		t.Errorf("newlines not escaped: %q", got)
	}
	if got := SanitizeLogString("red\x1b[31mtext\x1b[0m"); strings.Contains(got, "\x1b") {
		t.Errorf("ANSI escapes not stripped: %q", got)
	}
	long := strings.Repeat("x", 2000)
	if got := SanitizeLogString(long); len(got) > 520 {
		t.Errorf("long string not truncated: %d chars", len(got))
	}
	if got := SanitizeLogString("plain message"); got != "plain message" {
		t.Errorf("clean string altered: %q", got)
	}
}
