package sink

import (
	"context"
	"errors"

	"sjsage522/emlakworker/internal/crawler"
)

// Sink represents a destination for extracted listings
type Sink interface {
	// Save stores a single listing
	Save(ctx context.Context, listing *crawler.Listing) error

	// SaveBatch stores listings in order
	SaveBatch(ctx context.Context, listings []*crawler.Listing) error

	// Close releases the sink's connection
	Close() error
}

var _ crawler.Sink = (Sink)(nil)

// Multi fans every write out to the primary sink and then the secondaries.
// A failing sink never stops the others; their errors are joined.
type Multi struct {
	sinks []Sink
}

// NewMulti creates a fan-out over sinks, skipping nil entries
func NewMulti(sinks ...Sink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Len returns the number of wrapped sinks
func (m *Multi) Len() int {
	return len(m.sinks)
}

// Save stores listing in every sink
func (m *Multi) Save(ctx context.Context, listing *crawler.Listing) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Save(ctx, listing); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SaveBatch stores listings in every sink
func (m *Multi) SaveBatch(ctx context.Context, listings []*crawler.Listing) error {
	if len(listings) == 0 {
		return nil
	}
	var errs []error
	for _, s := range m.sinks {
		if err := s.SaveBatch(ctx, listings); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
