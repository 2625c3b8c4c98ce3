package sink

import (
	"context"
	"encoding/json"

	"sjsage522/emlakworker/internal/crawler"
	"sjsage522/emlakworker/logger"
	crawlerrors "sjsage522/emlakworker/pkg/errors"
	"sjsage522/emlakworker/services/publisher"
)

// Stream publishes each listing as a JSON message keyed by its id
type Stream struct {
	pub publisher.Publisher
	log *logger.Logger
}

// NewStream wraps pub as a sink
func NewStream(pub publisher.Publisher) *Stream {
	return &Stream{pub: pub, log: logger.ForSink("stream")}
}

// Save publishes a single listing
func (s *Stream) Save(ctx context.Context, listing *crawler.Listing) error {
	if listing == nil {
		return nil
	}
	message, err := json.Marshal(listing)
	if err != nil {
		return crawlerrors.NewSink("stream", "failed to encode listing "+listing.Key(), err)
	}
	if err := s.pub.Publish(ctx, listing.Key(), message); err != nil {
		return crawlerrors.NewSink("stream", "failed to publish listing "+listing.Key(), err)
	}
	return nil
}

// SaveBatch publishes listings in order and trims the streams afterwards
func (s *Stream) SaveBatch(ctx context.Context, listings []*crawler.Listing) error {
	for _, listing := range listings {
		if err := s.Save(ctx, listing); err != nil {
			return err
		}
	}
	if err := s.pub.TrimStreams(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Failed to trim streams")
	}
	return nil
}

// Close closes the publisher
func (s *Stream) Close() error {
	return s.pub.Close()
}
