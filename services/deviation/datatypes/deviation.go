// Copyright (C) 2025 IntraTask AS (platform@intratask.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "fmt"

// Sentinel values for deviations generated by the clustering pipeline.
// Manually created deviations (dashboard) use real user identities and
// free-form fields instead.
const (
	// DeviationCreatorSystem marks a deviation as auto-generated from the
	// ticket source rather than created by a user.
	DeviationCreatorSystem = "zendesk"

	// DeviationStatusProposed is the initial status of every auto-generated
	// deviation. A human reviewer promotes or dismisses it later.
	DeviationStatusProposed = "proposed"

	DeviationCategoryQuality = "quality"
	DeviationPriorityNormal  = "normal"
)

// Deviation is an internally tracked issue record. The pipeline creates one
// per qualifying ticket cluster; each member ticket gets a back-reference
// to it via Ticket.DeviationID.
type Deviation struct {
	// ID is assigned by the store on creation (UUID).
	ID string `json:"id"`

	Creator     string `json:"creator"`
	Category    string `json:"category"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`

	// Progress is a completion percentage, 0-100.
	Progress int `json:"progress" validate:"gte=0,lte=100"`

	// Solution is filled in by a reviewer once the deviation is resolved.
	Solution string `json:"solution,omitempty"`
}

// NewProposedDeviation builds the deviation record for a ticket cluster
// whose representative is the given ticket id.
func NewProposedDeviation(representativeID int64) Deviation {
	return Deviation{
		Creator:     DeviationCreatorSystem,
		Category:    DeviationCategoryQuality,
		Title:       fmt.Sprintf("Ticket #%d has multiple similar tickets", representativeID),
		Description: "The system found multiple potentially recurring tickets",
		Status:      DeviationStatusProposed,
		Priority:    DeviationPriorityNormal,
		Progress:    0,
	}
}

// Validate checks field ranges on the deviation record.
func (d *Deviation) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("invalid deviation: %w", err)
	}
	return nil
}
