package main

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/punchamoorthee/tcr/internal/domain"
	"github.com/punchamoorthee/tcr/internal/events"
)

var (
	eventKind   string
	eventRedis  string
	eventStream string
	eventAfter  string
	eventCount  int64
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Follow committed events",
	Long: `Follow committed events from the node's websocket, or page through the
Redis stream the node appends to when --redis is set.

Examples:
  # Live events of one kind
  tcrctl events --kind resolved

  # Replay the stream from the beginning
  tcrctl events --redis redis://localhost:6379/0 --after 0 --count 100`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if eventRedis != "" {
			return readStream(cmd)
		}
		c, err := newClient(false)
		if err != nil {
			return err
		}
		return c.Events(cmd.Context(), domain.EventKind(eventKind), func(e domain.Event) error {
			return printJSON(e)
		})
	},
}

func readStream(cmd *cobra.Command) error {
	opts, err := redis.ParseURL(eventRedis)
	if err != nil {
		return fmt.Errorf("parse --redis: %w", err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	evs, last, err := events.ReadStream(cmd.Context(), rdb, eventStream, eventAfter, eventCount)
	if err != nil {
		return err
	}
	for _, e := range evs {
		if eventKind != "" && string(e.Kind) != eventKind {
			continue
		}
		if err := printJSON(e); err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "last id: %s\n", last)
	return nil
}

func init() {
	eventsCmd.Flags().StringVar(&eventKind, "kind", "", "only show events of this kind")
	eventsCmd.Flags().StringVar(&eventRedis, "redis", "", "read the Redis stream at this URL instead of the websocket")
	eventsCmd.Flags().StringVar(&eventStream, "stream", events.DefaultStream, "Redis stream name")
	eventsCmd.Flags().StringVar(&eventAfter, "after", "0", "stream id to read after")
	eventsCmd.Flags().Int64Var(&eventCount, "count", 100, "maximum entries to read")
	rootCmd.AddCommand(eventsCmd)
}
