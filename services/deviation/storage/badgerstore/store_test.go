// Copyright (C) 2025 IntraTask AS (platform@intratask.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package badgerstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intratask/deviation-engine/services/deviation/datatypes"
	"github.com/intratask/deviation-engine/services/deviation/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func storedTicket(id int64) datatypes.Ticket {
	return datatypes.Ticket{
		ID:                id,
		CreatedAt:         time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC),
		Subject:           "login broken",
		Description:       "cannot log in",
		Status:            "open",
		Tags:              []string{datatypes.TagMajorDefect},
		DescriptionVector: []string{"1", "0", "0"},
	}
}

func TestCreateAndFindTicket(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateTicket(ctx, storedTicket(42)))

	got, err := s.FindTicketByID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.ID)
	assert.Equal(t, []string{"1", "0", "0"}, got.DescriptionVector)
	assert.True(t, got.CreatedAt.Equal(time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)))
}

func TestCreateTicket_DuplicateIsRejected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	original := storedTicket(42)
	require.NoError(t, s.CreateTicket(ctx, original))

	changed := storedTicket(42)
	changed.Subject = "a different subject"
	err := s.CreateTicket(ctx, changed)
	assert.ErrorIs(t, err, storage.ErrTicketExists)

	// The stored record must be the original.
	got, err := s.FindTicketByID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "login broken", got.Subject)
}

func TestFindTicketByID_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.FindTicketByID(context.Background(), 999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCountTickets(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	count, err := s.CountTickets(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	for id := int64(1); id <= 5; id++ {
		require.NoError(t, s.CreateTicket(ctx, storedTicket(id)))
	}

	count, err = s.CountTickets(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestFindTicketsPage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Insert out of id order; pages must still come back ascending.
	for _, id := range []int64{30, 10, 50, 20, 40} {
		require.NoError(t, s.CreateTicket(ctx, storedTicket(id)))
	}

	page, err := s.FindTicketsPage(ctx, false, 0, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, int64(10), page[0].ID)
	assert.Equal(t, int64(20), page[1].ID)
	assert.Equal(t, int64(30), page[2].ID)

	page, err = s.FindTicketsPage(ctx, false, 3, 3)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(40), page[0].ID)
	assert.Equal(t, int64(50), page[1].ID)
}

func TestFindTicketsPage_FiltersOnDeviationMembership(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for id := int64(1); id <= 4; id++ {
		require.NoError(t, s.CreateTicket(ctx, storedTicket(id)))
	}

	deviation := datatypes.NewProposedDeviation(1)
	require.NoError(t, s.CreateDeviation(ctx, &deviation))
	require.NoError(t, s.AssignTicketsToDeviation(ctx, deviation.ID, []int64{1, 3}))

	unclustered, err := s.FindTicketsPage(ctx, false, 0, 10)
	require.NoError(t, err)
	require.Len(t, unclustered, 2)
	assert.Equal(t, int64(2), unclustered[0].ID)
	assert.Equal(t, int64(4), unclustered[1].ID)

	clustered, err := s.FindTicketsPage(ctx, true, 0, 10)
	require.NoError(t, err)
	require.Len(t, clustered, 2)
	assert.Equal(t, int64(1), clustered[0].ID)
	assert.Equal(t, int64(3), clustered[1].ID)
}

func TestCreateDeviation_AssignsID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	deviation := datatypes.NewProposedDeviation(42)
	require.Empty(t, deviation.ID)

	require.NoError(t, s.CreateDeviation(ctx, &deviation))
	require.NotEmpty(t, deviation.ID)

	got, err := s.FindDeviationByID(ctx, deviation.ID)
	require.NoError(t, err)
	assert.Equal(t, deviation.Title, got.Title)
	assert.Equal(t, datatypes.DeviationStatusProposed, got.Status)
}

func TestAssignTicketsToDeviation_ExactlyOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for id := int64(1); id <= 3; id++ {
		require.NoError(t, s.CreateTicket(ctx, storedTicket(id)))
	}

	first := datatypes.NewProposedDeviation(1)
	require.NoError(t, s.CreateDeviation(ctx, &first))
	require.NoError(t, s.AssignTicketsToDeviation(ctx, first.ID, []int64{1, 2}))

	// Re-assigning to the same deviation is a no-op.
	require.NoError(t, s.AssignTicketsToDeviation(ctx, first.ID, []int64{1, 2}))

	// Assigning to a different deviation is refused.
	second := datatypes.NewProposedDeviation(3)
	require.NoError(t, s.CreateDeviation(ctx, &second))
	err := s.AssignTicketsToDeviation(ctx, second.ID, []int64{2, 3})
	assert.ErrorIs(t, err, storage.ErrAlreadyAssigned)

	// The failed call must not have touched ticket 3 either.
	got, err := s.FindTicketByID(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, got.DeviationID)
}

func TestAssignTicketsToDeviation_UnknownRecords(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateTicket(ctx, storedTicket(1)))

	err := s.AssignTicketsToDeviation(ctx, "no-such-deviation", []int64{1})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	deviation := datatypes.NewProposedDeviation(1)
	require.NoError(t, s.CreateDeviation(ctx, &deviation))
	err = s.AssignTicketsToDeviation(ctx, deviation.ID, []int64{999})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
