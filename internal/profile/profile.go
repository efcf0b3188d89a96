// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package profile

import (
	"fmt"
	"os"
	"strings"
)

type ProfileType string

var Current = DEV // dev profile as default

const (
	DEV  ProfileType = "DEV"
	TEST ProfileType = "TEST"
	PROD ProfileType = "PROD"
)

// Parse returns the profile named by s, ignoring case.
func Parse(s string) (ProfileType, bool) {
	switch p := ProfileType(strings.ToUpper(strings.TrimSpace(s))); p {
	case DEV, TEST, PROD:
		return p, true
	}
	return "", false
}

// InitProfile reads PROFILE and keeps DEV when it is unset or unknown.
func InitProfile() {
	if p, ok := Parse(os.Getenv("PROFILE")); ok {
		Current = p
	}
	fmt.Printf("Current profile: %s\n", Current)
}
