// Copyright (C) 2025 IntraTask AS (platform@intratask.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intratask/deviation-engine/services/deviation/datatypes"
	"github.com/intratask/deviation-engine/services/deviation/embed"
	"github.com/intratask/deviation-engine/services/deviation/pipeline"
	"github.com/intratask/deviation-engine/services/deviation/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Fakes
// =============================================================================

type memStore struct {
	tickets    map[int64]datatypes.Ticket
	deviations map[string]datatypes.Deviation
	nextDevID  int
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
		t := m.tickets[id]
		t.DeviationID = deviationID
		m.tickets[id] = t
	}
	return nil
}

func (m *memStore) Close() error { return nil }

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

type constEmbedder struct{ dims int }

func (f *constEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i := range texts {
		vec := make([]float64, f.dims)
		vec[0] = 1
		out[i] = vec
	}
	return out, nil
}

func (f *constEmbedder) Dimensions() int { return f.dims }

// =============================================================================
// Helpers
// =============================================================================

var testSince = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestRunner(store storage.Store, source pipeline.TicketSource) *pipeline.Runner {
	generator := embed.NewGenerator(&constEmbedder{dims: 4}, embed.DefaultGeneratorConfig())
	return pipeline.NewRunner(store, source, generator)
}

func wireTicket(id int64) datatypes.ZendeskTicket {
	return datatypes.ZendeskTicket{
		ID:          id,
		CreatedAt:   "2023-05-01T10:00:00Z",
		Subject:     "recurring fault",
		Description: "printer on fire",
		Status:      "open",
		Tags:        []string{datatypes.TagMajorDefect},
	}
}

func postJSON(router *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			panic(err)
		}
	}
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", path, &buf)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

// =============================================================================
// HealthCheck Tests
// =============================================================================

func TestHealthCheck_ReturnsOK(t *testing.T) {
	router := gin.New()
	router.GET("/health", HealthCheck)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]string
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)
	assert.Equal(t, "ok", response["status"])
}

// =============================================================================
// Initialize Tests
// =============================================================================

func TestInitialize_Success(t *testing.T) {
	source := &fakeSource{tickets: []datatypes.Ticket{
		{ID: 1, CreatedAt: testSince.Add(time.Hour), Subject: "x", Tags: []string{datatypes.TagCriticalOutage}},
	}}
	runner := newTestRunner(newMemStore(), source)

	router := gin.New()
	router.POST("/api/initialize", Initialize(runner, EnvironmentDevelopment, testSince))

	w := postJSON(router, "/api/initialize", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "success", response["status"])
	assert.Equal(t, float64(1), response["tickets_fetched"])
}

func TestInitialize_ForbiddenOutsideDevelopment(t *testing.T) {
	runner := newTestRunner(newMemStore(), &fakeSource{})

	router := gin.New()
	router.POST("/api/initialize", Initialize(runner, "production", testSince))

	w := postJSON(router, "/api/initialize", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestInitialize_AlreadyInitialized(t *testing.T) {
	store := newMemStore()
	store.tickets[1] = datatypes.Ticket{ID: 1, CreatedAt: testSince}
	runner := newTestRunner(store, &fakeSource{})

	router := gin.New()
	router.POST("/api/initialize", Initialize(runner, EnvironmentDevelopment, testSince))

	w := postJSON(router, "/api/initialize", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var response map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "already initialized", response["error"])
}

func TestInitialize_SinceOverride(t *testing.T) {
	source := &fakeSource{tickets: []datatypes.Ticket{
		{ID: 1, CreatedAt: time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC), Subject: "x", Tags: []string{datatypes.TagMinorDefect}},
		{ID: 2, CreatedAt: time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC), Subject: "y", Tags: []string{datatypes.TagMinorDefect}},
	}}
	runner := newTestRunner(newMemStore(), source)

	router := gin.New()
	router.POST("/api/initialize", Initialize(runner, EnvironmentDevelopment, testSince))

	w := postJSON(router, "/api/initialize", InitializeRequest{Since: "2023-05-01"})
	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, float64(1), response["tickets_fetched"])
}

func TestInitialize_BadSinceFormat(t *testing.T) {
	runner := newTestRunner(newMemStore(), &fakeSource{})

	router := gin.New()
	router.POST("/api/initialize", Initialize(runner, EnvironmentDevelopment, testSince))

	w := postJSON(router, "/api/initialize", InitializeRequest{Since: "01.05.2023"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// AnalyseTodaysTickets Tests
// =============================================================================

func TestAnalyseTodaysTickets_Success(t *testing.T) {
	store := newMemStore()
	runner := newTestRunner(store, &fakeSource{})

	router := gin.New()
	router.POST("/api/analyse-todays-tickets", AnalyseTodaysTickets(runner))

	w := postJSON(router, "/api/analyse-todays-tickets", []datatypes.ZendeskTicket{wireTicket(1), wireTicket(2)})
	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "success", response["status"])
	assert.Equal(t, float64(2), response["tickets_received"])
	assert.Len(t, store.tickets, 2)
}

func TestAnalyseTodaysTickets_SkipsMalformed(t *testing.T) {
	store := newMemStore()
	runner := newTestRunner(store, &fakeSource{})

	router := gin.New()
	router.POST("/api/analyse-todays-tickets", AnalyseTodaysTickets(runner))

	batch := []datatypes.ZendeskTicket{
		wireTicket(1),
		{ID: 2, CreatedAt: "garbage", Tags: []string{datatypes.TagMajorDefect}},
	}
	w := postJSON(router, "/api/analyse-todays-tickets", batch)
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Len(t, store.tickets, 1)
}

func TestAnalyseTodaysTickets_InvalidBody(t *testing.T) {
	runner := newTestRunner(newMemStore(), &fakeSource{})

	router := gin.New()
	router.POST("/api/analyse-todays-tickets", AnalyseTodaysTickets(runner))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/analyse-todays-tickets", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
