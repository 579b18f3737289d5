// Copyright (C) 2025 IntraTask AS (platform@intratask.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package storage defines the persistence contract for tickets and
// deviations. The badgerstore subpackage provides the embedded
// implementation; the pipeline only sees these interfaces.
package storage

import (
	"context"
	"errors"

	"github.com/intratask/deviation-engine/services/deviation/datatypes"
)

var (
	// ErrNotFound is returned when a looked-up record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrTicketExists is returned by CreateTicket for an id that is
	// already stored. Callers treating re-imports as idempotent skip it.
	ErrTicketExists = errors.New("ticket already exists")

	// ErrAlreadyAssigned is returned when a ticket that belongs to one
	// deviation is assigned to a different one.
	ErrAlreadyAssigned = errors.New("ticket already assigned to a deviation")
)

// TicketStore persists tickets keyed by their source id.
type TicketStore interface {
	// CreateTicket stores a new ticket. Returns ErrTicketExists if the id
	// is already present; the stored record is never overwritten.
	CreateTicket(ctx context.Context, ticket datatypes.Ticket) error

	// FindTicketByID returns the stored ticket or ErrNotFound.
	FindTicketByID(ctx context.Context, id int64) (datatypes.Ticket, error)

	// CountTickets returns the total number of stored tickets.
	CountTickets(ctx context.Context) (int, error)

	// FindTicketsPage returns up to limit tickets whose deviation
	// membership matches hasDeviation, skipping offset matches, in
	// ascending id order.
	FindTicketsPage(ctx context.Context, hasDeviation bool, offset, limit int) ([]datatypes.Ticket, error)
}

// DeviationStore persists deviations and ticket membership.
type DeviationStore interface {
	// CreateDeviation stores a new deviation, assigning an id if the
	// record has none. The assigned id is written back to the record.
	CreateDeviation(ctx context.Context, deviation *datatypes.Deviation) error

	// FindDeviationByID returns the stored deviation or ErrNotFound.
	FindDeviationByID(ctx context.Context, id string) (datatypes.Deviation, error)

	// AssignTicketsToDeviation links the tickets to the deviation.
	// Assignment is exactly-once: a ticket already in this deviation is a
	// no-op, a ticket in a different deviation is ErrAlreadyAssigned, and
	// an unknown ticket is ErrNotFound. On any error no ticket in the
	// call is modified.
	AssignTicketsToDeviation(ctx context.Context, deviationID string, ticketIDs []int64) error
}

// Store is the full persistence surface the pipeline needs.
type Store interface {
	TicketStore
	DeviationStore
	Close() error
}

// PoolChunkSize is how many tickets LoadUnclusteredPool requests per page.
const PoolChunkSize = 2000

// LoadUnclusteredPool returns every stored ticket not yet in a deviation,
// in ascending id order, paging through the store in fixed chunks so one
// read never materializes an unbounded result set inside the store.
//
// Ascending id order makes the pool order stable across runs, which the
// order-dependent clustering pass relies on.
func LoadUnclusteredPool(ctx context.Context, store TicketStore) ([]datatypes.Ticket, error) {
	var pool []datatypes.Ticket

	for offset := 0; ; offset += PoolChunkSize {
		chunk, err := store.FindTicketsPage(ctx, false, offset, PoolChunkSize)
		if err != nil {
			return nil, err
		}
		pool = append(pool, chunk...)
		if len(chunk) < PoolChunkSize {
			return pool, nil
		}
	}
}
