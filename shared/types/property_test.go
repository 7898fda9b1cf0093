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

package types

import (
	"testing"
	"time"
)

func TestPropertyClassIsValid(t *testing.T) {
	tests := []struct {
		name  string
		class PropertyClass
		want  bool
	}{
		{"hotel", PropertyClassHotel, true},
		{"resort", PropertyClassResort, true},
		{"serviced apartment", PropertyClassServicedApartment, true},
		{"unknown", PropertyClass("casino"), false},
		{"empty", PropertyClass(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.class.IsValid(); got != tt.want {
				t.Errorf("IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsEUCountry(t *testing.T) {
	tests := []struct {
		name string
		code string
		want bool
	}{
		{"Germany", "DE", true},
		{"France lowercase", "fr", true},
		{"Norway EEA", "NO", true},
		{"India", "IN", false},
		{"United States", "US", false},
		{"United Kingdom post-exit", "GB", false},
		{"padded", " ie ", true},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsEUCountry(tt.code); got != tt.want {
				t.Errorf("IsEUCountry(%q) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}

func TestPropertyProfileLocation(t *testing.T) {
	p := PropertyProfile{TimeZone: "Asia/Kolkata"}
	loc := p.Location()
	if loc.String() != "Asia/Kolkata" {
		t.Errorf("Location() = %s, want Asia/Kolkata", loc)
	}

	// Unknown and empty zones fall back to UTC rather than failing.
	for _, tz := range []string{"", "Mars/Olympus"} {
		p := PropertyProfile{TimeZone: tz}
		if p.Location() != time.UTC {
			t.Errorf("Location() for %q = %v, want UTC", tz, p.Location())
		}
	}
}

func TestPropertyProfileInEU(t *testing.T) {
	eu := PropertyProfile{Code: "P09", CountryCode: "ES"}
	if !eu.InEU() {
		t.Error("InEU() = false for ES, want true")
	}
	in := PropertyProfile{Code: "P01", CountryCode: "IN"}
	if in.InEU() {
		t.Error("InEU() = true for IN, want false")
	}
}
