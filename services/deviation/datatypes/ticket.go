// Copyright (C) 2025 IntraTask AS (platform@intratask.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the typed records that flow through the
// deviation pipeline: tickets ingested from Zendesk, their embedding
// vectors, and the deviation records materialized from ticket clusters.
//
// The original data arrives as loosely shaped JSON from the Zendesk
// incremental export. Everything is converted into these concrete records
// and validated at the ingestion boundary; the clustering core never sees
// untyped data.
package datatypes

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// EmbeddingDimensions is the output dimensionality of the embedding model.
// Every stored vector has exactly this many components.
const EmbeddingDimensions = 384

// validate is the shared validator instance. The validator is safe for
// concurrent use and caches struct metadata, so one instance is enough.
var validate = validator.New()

// Ticket is a helpdesk ticket imported from the source system.
//
// A ticket is immutable after ingestion except for DeviationID, which is
// set exactly once when the ticket becomes part of a materialized cluster.
type Ticket struct {
	// ID is the source-assigned ticket identifier, globally unique in the
	// store. Re-ingesting a known ID is a no-op.
	ID int64 `json:"id" validate:"required,gt=0"`

	// CreatedAt is the source-side creation timestamp.
	CreatedAt time.Time `json:"created_at" validate:"required"`

	Subject     string `json:"subject"`
	Description string `json:"description"`
	Status      string `json:"status"`

	// Tags are the Zendesk tag strings attached to the ticket.
	Tags []string `json:"tags"`

	// DescriptionVector holds the embedding of Description, one decimal
	// string per component. Decimal strings avoid serialization loss when
	// the record round-trips through the store; parsing back to float64
	// happens once at the clustering boundary.
	DescriptionVector []string `json:"description_vector,omitempty"`

	// DeviationID links the ticket to the deviation that owns it.
	// Empty until the ticket is clustered; never rewritten afterwards.
	DeviationID string `json:"deviation_id,omitempty"`
}

// Validate checks the ticket's required fields.
//
// Called at the ingestion boundary so malformed source rows are rejected
// before they reach the store or the clustering engine.
func (t *Ticket) Validate() error {
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("invalid ticket: %w", err)
	}
	return nil
}

// HasEmbedding reports whether an embedding vector is attached.
func (t *Ticket) HasEmbedding() bool {
	return len(t.DescriptionVector) > 0
}

// InDeviation reports whether the ticket is owned by a deviation.
func (t *Ticket) InDeviation() bool {
	return t.DeviationID != ""
}

// ZendeskTicket is the wire shape of a ticket in the Zendesk incremental
// export response. Field set is intentionally minimal; everything else in
// the payload is ignored.
type ZendeskTicket struct {
	ID          int64    `json:"id"`
	CreatedAt   string   `json:"created_at"`
	Subject     string   `json:"subject"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	Tags        []string `json:"tags"`
}

// ToTicket converts the wire record into a validated Ticket.
//
// The Zendesk timestamp is RFC 3339. Conversion fails for a missing id or
// an unparsable timestamp; callers treat such rows as malformed source
// data and skip them.
func (z *ZendeskTicket) ToTicket() (Ticket, error) {
	createdAt, err := time.Parse(time.RFC3339, z.CreatedAt)
	if err != nil {
		return Ticket{}, fmt.Errorf("ticket %d: bad created_at %q: %w", z.ID, z.CreatedAt, err)
	}

	t := Ticket{
		ID:          z.ID,
		CreatedAt:   createdAt,
		Subject:     z.Subject,
		Description: z.Description,
		Status:      z.Status,
		Tags:        z.Tags,
	}
	if err := t.Validate(); err != nil {
		return Ticket{}, err
	}
	return t, nil
}
