// Copyright (C) 2025 IntraTask AS (platform@intratask.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package zendesk fetches tickets from the Zendesk incremental export API.
package zendesk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/intratask/deviation-engine/pkg/validation"
	"github.com/intratask/deviation-engine/services/deviation/datatypes"
)

// PageSize is the maximum tickets per incremental export page. Zendesk
// caps the endpoint at 1000.
const PageSize = 1000

// HTTPClient interface allows injecting mock HTTP clients for testing
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config identifies the Zendesk account and API credentials.
type Config struct {
	// Subdomain is the account part of <subdomain>.zendesk.com.
	Subdomain string

	// Email and APIToken authenticate as <email>/token via basic auth.
	Email    string
	APIToken string

	// RequestsPerMinute throttles outgoing calls. Zendesk's incremental
	// export allows 10 requests per minute; 0 uses that limit.
	RequestsPerMinute int
}

// Client talks to one Zendesk account.
type Client struct {
	config     Config
	baseURL    string
	httpClient HTTPClient
	limiter    *rate.Limiter
}

// NewClient validates the config and builds a client using the default
// HTTP transport.
func NewClient(config Config) (*Client, error) {
	return NewClientWithHTTP(config, &http.Client{Timeout: 30 * time.Second})
}

// NewClientWithHTTP is NewClient with an injected HTTP client, for tests.
func NewClientWithHTTP(config Config, httpClient HTTPClient) (*Client, error) {
	if err := validation.ValidateSubdomain(config.Subdomain); err != nil {
		return nil, fmt.Errorf("invalid Zendesk subdomain: %w", err)
	}
	if config.Email == "" || config.APIToken == "" {
		return nil, fmt.Errorf("Zendesk email and API token are required")
	}

	rpm := config.RequestsPerMinute
	if rpm <= 0 {
		rpm = 10
	}

	return &Client{
		config:     config,
		baseURL:    fmt.Sprintf("https://%s.zendesk.com", config.Subdomain),
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
	}, nil
}

// exportPage is the wire shape of one incremental export response.
type exportPage struct {
	Tickets     []datatypes.ZendeskTicket `json:"tickets"`
	NextPage    string                    `json:"next_page"`
	EndOfStream bool                      `json:"end_of_stream"`
}

// FetchTicketsSince returns every ticket created at or after start,
// walking the incremental export cursor until the stream ends.
//
// The export endpoint keys on ticket update time, so pages can contain
// tickets created before start (updated later) and the same ticket more
// than once; results are re-filtered on created_at and deduplicated on id.
// A ticket that fails validation is logged and skipped, never fatal: one
// malformed record must not sink a whole import.
func (c *Client) FetchTicketsSince(ctx context.Context, start time.Time) ([]datatypes.Ticket, error) {
	url := fmt.Sprintf("%s/api/v2/incremental/tickets.json?start_time=%d&per_page=%d",
		c.baseURL, start.Unix(), PageSize)

	var tickets []datatypes.Ticket
	seen := make(map[int64]bool)
	previousURL := ""

	for url != "" {
		page, err := c.fetchPage(ctx, url)
		if err != nil {
			return nil, err
		}

		for _, raw := range page.Tickets {
			ticket, err := raw.ToTicket()
			if err != nil {
				slog.Warn("Skipping malformed Zendesk ticket", "ticket_id", raw.ID, "error", err)
				continue
			}
			if ticket.CreatedAt.Before(start) {
				continue
			}
			if seen[ticket.ID] {
				continue
			}
			seen[ticket.ID] = true
			tickets = append(tickets, ticket)
		}

		// Zendesk repeats the current page URL at the end of the stream on
		// some plan tiers instead of clearing next_page; either repetition
		// would loop forever.
		if page.EndOfStream || page.NextPage == "" || page.NextPage == url || page.NextPage == previousURL {
			break
		}
		previousURL = url
		url = page.NextPage
	}

	slog.Info("Fetched tickets from Zendesk", "count", len(tickets), "since", start.Format(time.RFC3339))
	return tickets, nil
}

// FetchTicketsForDay returns the tickets created on the given calendar day
// in the day's own location.
func (c *Client) FetchTicketsForDay(ctx context.Context, day time.Time) ([]datatypes.Ticket, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	tickets, err := c.FetchTicketsSince(ctx, dayStart)
	if err != nil {
		return nil, err
	}

	inDay := tickets[:0]
	for _, t := range tickets {
		if t.CreatedAt.Before(dayEnd) {
			inDay = append(inDay, t)
		}
	}
	return inDay, nil
}

func (c *Client) fetchPage(ctx context.Context, url string) (*exportPage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building Zendesk request: %w", err)
	}
	req.SetBasicAuth(c.config.Email+"/token", c.config.APIToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching Zendesk page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("Zendesk rate limit exceeded (429); retry after %s", resp.Header.Get("Retry-After"))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("Zendesk returned status %d: %s", resp.StatusCode, string(body))
	}

	var page exportPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decoding Zendesk page: %w", err)
	}

	slog.Debug("Fetched Zendesk page", "tickets", len(page.Tickets), "end_of_stream", page.EndOfStream)
	return &page, nil
}
