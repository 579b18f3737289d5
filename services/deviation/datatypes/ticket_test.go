// Copyright (C) 2025 IntraTask AS (platform@intratask.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZendeskTicket_ToTicket(t *testing.T) {
	z := ZendeskTicket{
		ID:          4711,
		CreatedAt:   "2023-05-01T08:30:00Z",
		Subject:     "cannot log in",
		Description: "user reports login failure after password reset",
		Status:      "open",
		Tags:        []string{TagMajorDefect, "login"},
	}

	ticket, err := z.ToTicket()
	require.NoError(t, err)

	assert.Equal(t, int64(4711), ticket.ID)
	assert.Equal(t, time.Date(2023, 5, 1, 8, 30, 0, 0, time.UTC), ticket.CreatedAt)
	assert.Equal(t, "cannot log in", ticket.Subject)
	assert.Equal(t, []string{TagMajorDefect, "login"}, ticket.Tags)
	assert.False(t, ticket.HasEmbedding())
	assert.False(t, ticket.InDeviation())
}

func TestZendeskTicket_ToTicket_Malformed(t *testing.T) {
	tests := []struct {
		name string
		z    ZendeskTicket
	}{
		{"missing id", ZendeskTicket{CreatedAt: "2023-05-01T08:30:00Z"}},
		{"zero id", ZendeskTicket{ID: 0, CreatedAt: "2023-05-01T08:30:00Z"}},
		{"negative id", ZendeskTicket{ID: -3, CreatedAt: "2023-05-01T08:30:00Z"}},
		{"missing created_at", ZendeskTicket{ID: 1}},
		{"garbage created_at", ZendeskTicket{ID: 1, CreatedAt: "yesterday"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.z.ToTicket()
			assert.Error(t, err)
		})
	}
}

func TestNewProposedDeviation(t *testing.T) {
	d := NewProposedDeviation(1234)

	assert.Equal(t, DeviationCreatorSystem, d.Creator)
	assert.Equal(t, DeviationStatusProposed, d.Status)
	assert.Equal(t, DeviationCategoryQuality, d.Category)
	assert.Equal(t, DeviationPriorityNormal, d.Priority)
	assert.Equal(t, 0, d.Progress)
	assert.Contains(t, d.Title, "#1234")
	require.NoError(t, d.Validate())
}
