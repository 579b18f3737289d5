// Copyright (C) 2025 IntraTask AS (platform@intratask.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/intratask/deviation-engine/services/deviation/datatypes"
	"github.com/intratask/deviation-engine/services/deviation/storage"
)

// Key layout. Ticket keys zero-pad the id so lexicographic iteration order
// equals ascending numeric order; page reads depend on that.
const (
	ticketPrefix    = "ticket/"
	deviationPrefix = "deviation/"
)

func ticketKey(id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", ticketPrefix, id))
}

func deviationKey(id string) []byte {
	return []byte(deviationPrefix + id)
}

// Store implements storage.Store on a BadgerDB instance.
type Store struct {
	db *badger.DB
	gc *gcRunner
}

var _ storage.Store = (*Store)(nil)

// Open opens the store, starting the GC runner when configured.
func Open(cfg Config) (*Store, error) {
	db, err := open(cfg)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gc = newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		s.gc.start()
	}
	return s, nil
}

// OpenInMemory opens a throwaway store for tests.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

// Close stops garbage collection and closes the database.
func (s *Store) Close() error {
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

// CreateTicket stores a new ticket, refusing to overwrite an existing one.
func (s *Store) CreateTicket(ctx context.Context, ticket datatypes.Ticket) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ticket.Validate(); err != nil {
		return fmt.Errorf("invalid ticket %d: %w", ticket.ID, err)
	}

	key := ticketKey(ticket.ID)
	value, err := json.Marshal(ticket)
	if err != nil {
		return fmt.Errorf("marshal ticket %d: %w", ticket.ID, err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return storage.ErrTicketExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, value)
	})
}

// FindTicketByID returns the stored ticket or storage.ErrNotFound.
func (s *Store) FindTicketByID(ctx context.Context, id int64) (datatypes.Ticket, error) {
	var ticket datatypes.Ticket
	if err := ctx.Err(); err != nil {
		return ticket, err
	}

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(ticketKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &ticket)
		})
	})
	return ticket, err
}

// CountTickets returns the number of stored tickets. Keys only, no value
// fetches.
func (s *Store) CountTickets(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(ticketPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// FindTicketsPage returns up to limit tickets matching the deviation
// membership predicate, skipping offset matches, in ascending id order.
func (s *Store) FindTicketsPage(ctx context.Context, hasDeviation bool, offset, limit int) ([]datatypes.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	var tickets []datatypes.Ticket
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(ticketPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		skipped := 0
		for it.Rewind(); it.Valid(); it.Next() {
			var ticket datatypes.Ticket
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ticket)
			})
			if err != nil {
				return err
			}

			if ticket.InDeviation() != hasDeviation {
				continue
			}
			if skipped < offset {
				skipped++
				continue
			}

			tickets = append(tickets, ticket)
			if len(tickets) >= limit {
				return nil
			}
		}
		return nil
	})
	return tickets, err
}

// CreateDeviation stores a new deviation, assigning a UUID if the record
// has none.
func (s *Store) CreateDeviation(ctx context.Context, deviation *datatypes.Deviation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if deviation.ID == "" {
		deviation.ID = uuid.NewString()
	}
	if err := deviation.Validate(); err != nil {
		return fmt.Errorf("invalid deviation %s: %w", deviation.ID, err)
	}

	value, err := json.Marshal(deviation)
	if err != nil {
		return fmt.Errorf("marshal deviation %s: %w", deviation.ID, err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		key := deviationKey(deviation.ID)
		_, err := txn.Get(key)
		if err == nil {
			return fmt.Errorf("deviation %s already exists", deviation.ID)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, value)
	})
}

// FindDeviationByID returns the stored deviation or storage.ErrNotFound.
func (s *Store) FindDeviationByID(ctx context.Context, id string) (datatypes.Deviation, error) {
	var deviation datatypes.Deviation
	if err := ctx.Err(); err != nil {
		return deviation, err
	}

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(deviationKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &deviation)
		})
	})
	return deviation, err
}

// AssignTicketsToDeviation links the tickets to the deviation in one
// transaction, so a failed call modifies nothing.
func (s *Store) AssignTicketsToDeviation(ctx context.Context, deviationID string, ticketIDs []int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if deviationID == "" {
		return errors.New("deviation id is required")
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(deviationKey(deviationID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("deviation %s: %w", deviationID, storage.ErrNotFound)
			}
			return err
		}

		for _, id := range ticketIDs {
			item, err := txn.Get(ticketKey(id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("ticket %d: %w", id, storage.ErrNotFound)
			}
			if err != nil {
				return err
			}

			var ticket datatypes.Ticket
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &ticket)
			}); err != nil {
				return err
			}

			if ticket.DeviationID == deviationID {
				continue
			}
			if ticket.DeviationID != "" {
				return fmt.Errorf("ticket %d is in deviation %s: %w", id, ticket.DeviationID, storage.ErrAlreadyAssigned)
			}

			ticket.DeviationID = deviationID
			value, err := json.Marshal(ticket)
			if err != nil {
				return fmt.Errorf("marshal ticket %d: %w", id, err)
			}
			if err := txn.Set(ticketKey(id), value); err != nil {
				return err
			}
		}
		return nil
	})
}
