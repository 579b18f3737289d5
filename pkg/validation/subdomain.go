// Copyright (C) 2025 IntraTask AS (platform@intratask.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for configuration values that end up in
// outbound URLs or storage keys. Using these validators prevents a
// malformed or hostile value from redirecting API traffic or corrupting
// key layout.
package validation

import (
	"fmt"
	"regexp"
)

// subdomainPattern matches valid Zendesk account subdomains.
// Allows: lowercase letters, digits, interior hyphens.
// Max length: 63 characters (DNS label limit).
var subdomainPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// ValidateSubdomain validates a Zendesk account subdomain before it is
// interpolated into https://<subdomain>.zendesk.com.
//
// Valid subdomains:
//   - 1-63 characters
//   - Lowercase letters a-z and digits 0-9
//   - Hyphens, but not leading or trailing
//
// Returns an error if the subdomain is invalid.
//
// Example:
//
//	if err := validation.ValidateSubdomain(sub); err != nil {
//	    return nil, fmt.Errorf("invalid subdomain: %w", err)
//	}
//	// Safe to build the account URL
func ValidateSubdomain(subdomain string) error {
	if subdomain == "" {
		return fmt.Errorf("subdomain cannot be empty")
	}

	if !subdomainPattern.MatchString(subdomain) {
		return fmt.Errorf("invalid subdomain format: %q (must be 1-63 lowercase alphanumeric chars or interior hyphens)", subdomain)
	}

	return nil
}

// tagPattern matches Zendesk tag identifiers as they appear on tickets.
// Tags are lowercase slugs; Zendesk itself replaces spaces on entry, but
// slashes and underscores survive (the severity tags use both).
var tagPattern = regexp.MustCompile(`^[a-zæøå0-9][a-zæøå0-9_/\-]{0,79}$`)

// ValidateTag validates a single ticket tag identifier.
func ValidateTag(tag string) error {
	if tag == "" {
		return fmt.Errorf("tag cannot be empty")
	}

	if !tagPattern.MatchString(tag) {
		return fmt.Errorf("invalid tag format: %q", tag)
	}

	return nil
}

// ValidateTags validates multiple tag identifiers.
// Returns an error listing all invalid tags if any fail validation.
func ValidateTags(tags []string) error {
	var invalid []string
	for _, t := range tags {
		if err := ValidateTag(t); err != nil {
			invalid = append(invalid, t)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid tags: %v", invalid)
	}
	return nil
}
