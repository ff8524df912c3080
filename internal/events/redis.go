package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/punchamoorthee/tcr/internal/domain"
	"github.com/punchamoorthee/tcr/internal/metrics"
)

const DefaultStream = "tcr:events"

// RedisSink appends events to a Redis stream for consumers outside the node.
// Publishing is best effort: state is already committed, so failures are
// logged and counted but not returned.
type RedisSink struct {
	client redis.Cmdable
	stream string
	maxLen int64
	logger *slog.Logger
}

func NewRedisSink(client redis.Cmdable, stream string, maxLen int64, logger *slog.Logger) *RedisSink {
	if stream == "" {
		stream = DefaultStream
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisSink{client: client, stream: stream, maxLen: maxLen, logger: logger}
}

func (s *RedisSink) Publish(ctx context.Context, events []domain.Event) {
	if err := s.publish(ctx, events); err != nil {
		s.logger.Error("publish events to redis", "stream", s.stream, "count", len(events), "error", err)
		metrics.EventsPublished.WithLabelValues("redis", "error").Add(float64(len(events)))
		return
	}
	metrics.EventsPublished.WithLabelValues("redis", "ok").Add(float64(len(events)))
}

func (s *RedisSink) publish(ctx context.Context, events []domain.Event) error {
	pipe := s.client.TxPipeline()
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: s.stream,
			MaxLen: s.maxLen,
			Approx: s.maxLen > 0,
			Values: map[string]any{
				"kind":   string(e.Kind),
				"height": uint64(e.Height),
				"event":  payload,
			},
		})
	}
	_, err := pipe.Exec(ctx)
	return err
}

// ReadStream returns up to count events stored after the stream id "after"
// ("0" reads from the beginning), along with the id of the last entry read.
func ReadStream(ctx context.Context, client redis.Cmdable, stream, after string, count int64) ([]domain.Event, string, error) {
	if stream == "" {
		stream = DefaultStream
	}
	start := "-"
	if after != "" && after != "0" {
		start = "(" + after
	}
	msgs, err := client.XRangeN(ctx, stream, start, "+", count).Result()
	if err != nil {
		return nil, after, fmt.Errorf("read stream: %w", err)
	}

	out := make([]domain.Event, 0, len(msgs))
	last := after
	for _, m := range msgs {
		raw, ok := m.Values["event"].(string)
		if !ok {
			return nil, last, fmt.Errorf("stream entry %s has no event payload", m.ID)
		}
		var e domain.Event
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, last, fmt.Errorf("decode stream entry %s: %w", m.ID, err)
		}
		out = append(out, e)
		last = m.ID
	}
	return out, last, nil
}
