// Copyright (C) 2025 IntraTask AS (platform@intratask.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// Severity tags that admit a ticket into the deviation pipeline. These are
// the literal Zendesk tag identifiers used by the helpdesk (Norwegian:
// operational outage / critical, serious defect, minor defect). Tickets
// without at least one of them are dropped before embedding.
const (
	TagCriticalOutage = "a_-_driftsstans/kritisk_feil"
	TagMajorDefect    = "b_-_alvorlig_feil/mangel"
	TagMinorDefect    = "c_-_mindre_feil/mangel"
)

// severityTags is the allow-list consulted by FilterBySeverity.
var severityTags = map[string]struct{}{
	TagCriticalOutage: {},
	TagMajorDefect:    {},
	TagMinorDefect:    {},
}

// IsSeverityTag reports whether the tag is one of the pipeline's severity
// tags.
func IsSeverityTag(tag string) bool {
	_, ok := severityTags[tag]
	return ok
}

// FilterBySeverity keeps the tickets whose tag set intersects the severity
// allow-list. Pure function; the input slice is not modified. A ticket with
// no tags (including one whose tags were malformed upstream and arrived
// empty) is excluded.
func FilterBySeverity(tickets []Ticket) []Ticket {
	filtered := make([]Ticket, 0, len(tickets))
	for _, t := range tickets {
		for _, tag := range t.Tags {
			if IsSeverityTag(tag) {
				filtered = append(filtered, t)
				break
			}
		}
	}
	return filtered
}
