// Copyright (C) 2025 IntraTask AS (platform@intratask.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/intratask/deviation-engine/services/deviation/cluster"
	"github.com/intratask/deviation-engine/services/deviation/datatypes"
	"github.com/intratask/deviation-engine/services/deviation/embed"
	"github.com/intratask/deviation-engine/services/deviation/storage"
)

// =============================================================================
// Fakes
// =============================================================================

// memStore is an in-memory storage.Store with the same semantics as the
// badger-backed one.
type memStore struct {
	tickets    map[int64]datatypes.Ticket
	deviations map[string]datatypes.Deviation
	nextDevID  int

	failCreateDeviation int // fail the next n CreateDeviation calls
}

func newMemStore() *memStore {
	return &memStore{
		tickets:    make(map[int64]datatypes.Ticket),
		deviations: make(map[string]datatypes.Deviation),
	}
}

func (m *memStore) CreateTicket(_ context.Context, t datatypes.Ticket) error {
	if _, ok := m.tickets[t.ID]; ok {
		return storage.ErrTicketExists
	}
	m.tickets[t.ID] = t
	return nil
}

func (m *memStore) FindTicketByID(_ context.Context, id int64) (datatypes.Ticket, error) {
	t, ok := m.tickets[id]
	if !ok {
		return datatypes.Ticket{}, storage.ErrNotFound
	}
	return t, nil
}

func (m *memStore) CountTickets(context.Context) (int, error) {
	return len(m.tickets), nil
}

func (m *memStore) FindTicketsPage(_ context.Context, hasDeviation bool, offset, limit int) ([]datatypes.Ticket, error) {
	ids := make([]int64, 0, len(m.tickets))
	for id, t := range m.tickets {
		if t.InDeviation() == hasDeviation {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if offset >= len(ids) {
		return nil, nil
	}
	end := offset + limit
	if end > len(ids) {
		end = len(ids)
	}

	out := make([]datatypes.Ticket, 0, end-offset)
	for _, id := range ids[offset:end] {
		out = append(out, m.tickets[id])
	}
	return out, nil
}

func (m *memStore) CreateDeviation(_ context.Context, d *datatypes.Deviation) error {
	if m.failCreateDeviation > 0 {
		m.failCreateDeviation--
		return errors.New("simulated deviation write failure")
	}
	if d.ID == "" {
		m.nextDevID++
		d.ID = fmt.Sprintf("dev-%d", m.nextDevID)
	}
	m.deviations[d.ID] = *d
	return nil
}

func (m *memStore) FindDeviationByID(_ context.Context, id string) (datatypes.Deviation, error) {
	d, ok := m.deviations[id]
	if !ok {
		return datatypes.Deviation{}, storage.ErrNotFound
	}
	return d, nil
}

func (m *memStore) AssignTicketsToDeviation(_ context.Context, deviationID string, ticketIDs []int64) error {
	for _, id := range ticketIDs {
		t, ok := m.tickets[id]
		if !ok {
			return fmt.Errorf("ticket %d: %w", id, storage.ErrNotFound)
		}
		if t.DeviationID != "" && t.DeviationID != deviationID {
			return storage.ErrAlreadyAssigned
		}
	}
	for _, id := range ticketIDs {
		t := m.tickets[id]
		t.DeviationID = deviationID
		m.tickets[id] = t
	}
	return nil
}

func (m *memStore) Close() error { return nil }

// fakeSource serves a fixed ticket slice.
type fakeSource struct {
	tickets []datatypes.Ticket
}

func (f *fakeSource) FetchTicketsSince(_ context.Context, start time.Time) ([]datatypes.Ticket, error) {
	var out []datatypes.Ticket
	for _, t := range f.tickets {
		if !t.CreatedAt.Before(start) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeSource) FetchTicketsForDay(_ context.Context, day time.Time) ([]datatypes.Ticket, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	var out []datatypes.Ticket
	for _, t := range f.tickets {
		if !t.CreatedAt.Before(dayStart) && t.CreatedAt.Before(dayEnd) {
			out = append(out, t)
		}
	}
	return out, nil
}

// textEmbedder maps each distinct text to its own axis of a unit vector,
// so identical texts are perfectly similar and distinct texts orthogonal.
type textEmbedder struct {
	dims int
	axes map[string]int
}

func newTextEmbedder(dims int) *textEmbedder {
	return &textEmbedder{dims: dims, axes: make(map[string]int)}
}

func (f *textEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		axis, ok := f.axes[text]
		if !ok {
			axis = len(f.axes)
			if axis >= f.dims {
				return nil, fmt.Errorf("test embedder out of axes for %q", text)
			}
			f.axes[text] = axis
		}
		vec := make([]float64, f.dims)
		vec[axis] = 1
		out[i] = vec
	}
	return out, nil
}

func (f *textEmbedder) Dimensions() int { return f.dims }

// =============================================================================
// Helpers
// =============================================================================

var testDay = time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)

func severityTicket(id int64, description string) datatypes.Ticket {
	return datatypes.Ticket{
		ID:          id,
		CreatedAt:   testDay.Add(time.Duration(id) * time.Minute),
		Subject:     "recurring fault",
		Description: description,
		Status:      "open",
		Tags:        []string{datatypes.TagMajorDefect},
	}
}

func noiseTicket(id int64) datatypes.Ticket {
	t := severityTicket(id, fmt.Sprintf("unique problem %d", id))
	t.Tags = []string{"billing"}
	return t
}

func newTestRunner(store storage.Store, source TicketSource, opts ...Option) *Runner {
	generator := embed.NewGenerator(newTextEmbedder(16), embed.DefaultGeneratorConfig())
	// A small minimum keeps the fixtures readable; the production value
	// only scales the same behavior up.
	opts = append(opts, WithClusterOptions(cluster.Options{Threshold: 0.77, MinClusterSize: 3}))
	return NewRunner(store, source, generator, opts...)
}
