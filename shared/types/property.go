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

// Package types provides shared type definitions used across StayGuard
// components. This file defines the property profile: one engine instance
// serves exactly one property.
package types

import (
	"strings"
	"time"
)

// PropertyClass represents the kind of hospitality property.
type PropertyClass string

const (
	// PropertyClassHotel is a city or business hotel.
	PropertyClassHotel PropertyClass = "hotel"
	// PropertyClassResort is a leisure resort property.
	PropertyClassResort PropertyClass = "resort"
	// PropertyClassServicedApartment is an extended-stay property.
	PropertyClassServicedApartment PropertyClass = "serviced_apartment"
)

// String returns the string representation of the PropertyClass
func (c PropertyClass) String() string {
	return string(c)
}

// IsValid returns true if the PropertyClass is a valid known value
func (c PropertyClass) IsValid() bool {
	switch c {
	case PropertyClassHotel, PropertyClassResort, PropertyClassServicedApartment:
		return true
	default:
		return false
	}
}

// PropertyProfile identifies the property an engine instance serves and the
// regional facts compliance checks depend on (country for GDPR territorial
// scope, timezone for the night-hours urgency window).
type PropertyProfile struct {
	// Code is the short property identifier carried on every incident (e.g. "P01").
	Code string `json:"code"`

	// Name is the display name used in notifications and reports.
	Name string `json:"name"`

	// Class is the property type.
	Class PropertyClass `json:"class"`

	// City and CountryCode locate the property. CountryCode is ISO 3166-1 alpha-2.
	City        string `json:"city"`
	CountryCode string `json:"country_code"`

	// TimeZone is an IANA zone name (e.g. "Asia/Kolkata").
	TimeZone string `json:"time_zone"`

	// RoomCount bounds scope estimates for guest-impact calculations.
	RoomCount int `json:"room_count"`
}

// Location resolves the profile's IANA timezone, falling back to UTC when
// the zone is unknown or unset.
func (p PropertyProfile) Location() *time.Location {
	if p.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// euCountries is the set of ISO 3166-1 alpha-2 codes where GDPR applies
// (EU members plus EEA states).
var euCountries = map[string]struct{}{
	"AT": {}, "BE": {}, "BG": {}, "HR": {}, "CY": {}, "CZ": {}, "DK": {},
	"EE": {}, "FI": {}, "FR": {}, "DE": {}, "GR": {}, "HU": {}, "IE": {},
	"IT": {}, "LV": {}, "LT": {}, "LU": {}, "MT": {}, "NL": {}, "PL": {},
	"PT": {}, "RO": {}, "SK": {}, "SI": {}, "ES": {}, "SE": {},
	"IS": {}, "LI": {}, "NO": {},
}

// IsEUCountry reports whether the ISO country code falls under GDPR
// territorial scope.
func IsEUCountry(code string) bool {
	_, ok := euCountries[strings.ToUpper(strings.TrimSpace(code))]
	return ok
}

// InEU reports whether the property itself is in GDPR scope.
func (p PropertyProfile) InEU() bool {
	return IsEUCountry(p.CountryCode)
}
