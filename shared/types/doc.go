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

/*
Package types provides shared type definitions used across StayGuard
components.

# Overview

This package contains common types shared between the triage engine, the
external-system connectors, and the service entry point. It provides a
single source of truth for shared data structures.

# Property Profile

Each engine instance serves exactly one property. PropertyProfile carries
the identity and regional facts other packages depend on:

	profile := types.PropertyProfile{
	    Code:        "P01",
	    Name:        "Harbor View Grand",
	    Class:       types.PropertyClassHotel,
	    City:        "Mumbai",
	    CountryCode: "IN",
	    TimeZone:    "Asia/Kolkata",
	}

	if profile.InEU() {
	    // GDPR applies to guest data at this property
	}

	localHour := time.Now().In(profile.Location()).Hour()

# Thread Safety

All types in this package are value types and are safe for concurrent use.
*/
package types
