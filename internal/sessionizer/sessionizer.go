// Package sessionizer assigns events to sessions: runs of activity per
// (user_id, product_code) opened by an action event after an inactivity gap.
//
// Each partition is folded once in timestamp order. Partitions are
// independent, so they are sharded across workers; the output is sorted so
// the result is identical for any worker count.
package sessionizer

import (
	"context"
	"fmt"
	"sort"
	"time"

	serrors "github.com/arkilian/sessionize/internal/errors"
	"github.com/arkilian/sessionize/internal/logging"
	"github.com/arkilian/sessionize/pkg/types"
	"github.com/spaolacci/murmur3"
	"golang.org/x/sync/errgroup"
)

// DefaultTimeout is the inactivity gap that separates sessions.
const DefaultTimeout = 300 * time.Second

// Sessionizer is a stateless-per-call session assignment transform.
type Sessionizer struct {
	timeout time.Duration
	actions ActionSet
	workers int
}

// Option configures a Sessionizer.
type Option func(*Sessionizer)

// WithTimeout sets the inactivity threshold.
func WithTimeout(d time.Duration) Option {
	return func(s *Sessionizer) {
		s.timeout = d
	}
}

// WithActionEvents replaces the set of action event ids.
func WithActionEvents(eventIDs ...string) Option {
	return func(s *Sessionizer) {
		s.actions = NewActionSet(eventIDs...)
	}
}

// WithWorkers sets how many goroutines fold partitions concurrently.
func WithWorkers(n int) Option {
	return func(s *Sessionizer) {
		s.workers = n
	}
}

// New creates a Sessionizer. The timeout must be at least one second since
// gaps are measured in whole seconds.
func New(opts ...Option) (*Sessionizer, error) {
	s := &Sessionizer{
		timeout: DefaultTimeout,
		actions: NewActionSet(DefaultActionEvents...),
		workers: 1,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.timeout < time.Second {
		return nil, serrors.NewValidationError(serrors.CodeInvalidTimeout,
			fmt.Sprintf("session timeout must be >= 1s, got %s", s.timeout))
	}
	if len(s.actions) == 0 {
		return nil, serrors.NewValidationError(serrors.CodeInvalidActionSet,
			"at least one action event id is required")
	}
	if s.workers < 1 {
		s.workers = 1
	}
	return s, nil
}

// Timeout returns the configured inactivity threshold.
func (s *Sessionizer) Timeout() time.Duration {
	return s.timeout
}

// Actions returns the configured action set.
func (s *Sessionizer) Actions() ActionSet {
	return s.actions
}

// Process deduplicates events on their natural key and returns exactly one
// session row per surviving event, sorted by (user_id, product_code,
// timestamp). Timestamps are normalized to UTC at microsecond resolution;
// gaps are still measured in whole seconds.
func (s *Sessionizer) Process(ctx context.Context, events []types.Event) ([]types.SessionRow, error) {
	normalized := make([]types.Event, len(events))
	for i, ev := range events {
		ev.Timestamp = ev.Timestamp.UTC().Truncate(time.Microsecond)
		normalized[i] = ev
	}

	deduped := Dedup(normalized)
	if err := EnsureUnique(deduped); err != nil {
		return nil, err
	}

	partitions := groupByPartition(deduped)
	shards := s.shard(partitions)
	timeoutSecs := int64(s.timeout / time.Second)

	results := make([][]types.SessionRow, len(shards))
	g, gctx := errgroup.WithContext(ctx)
	for i, keys := range shards {
		i, keys := i, keys
		if len(keys) == 0 {
			continue
		}
		g.Go(func() error {
			var rows []types.SessionRow
			for _, key := range keys {
				if err := gctx.Err(); err != nil {
					return err
				}
				rows = append(rows, foldPartition(key, partitions[key], s.actions, timeoutSecs)...)
			}
			results[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]types.SessionRow, 0, len(deduped))
	for _, rows := range results {
		out = append(out, rows...)
	}
	SortRows(out, s.actions)

	logging.FromContext(ctx).Debugw("sessionized batch",
		"events", len(events),
		"deduped", len(deduped),
		"partitions", len(partitions),
		"workers", len(shards))

	return out, nil
}

// shard distributes partition keys across workers by murmur3 hash.
func (s *Sessionizer) shard(partitions map[types.PartitionKey][]types.Event) [][]types.PartitionKey {
	shards := make([][]types.PartitionKey, s.workers)
	for key := range partitions {
		idx := int(murmur3.Sum32([]byte(key.String())) % uint32(s.workers))
		shards[idx] = append(shards[idx], key)
	}
	return shards
}

func groupByPartition(events []types.Event) map[types.PartitionKey][]types.Event {
	partitions := make(map[types.PartitionKey][]types.Event)
	for _, ev := range events {
		key := ev.Partition()
		partitions[key] = append(partitions[key], ev)
	}
	return partitions
}

// SortRows orders rows by partition key, then by the same in-partition order
// the fold uses.
func SortRows(rows []types.SessionRow, actions ActionSet) {
	sort.Slice(rows, func(i, j int) bool {
		pi, pj := rows[i].Partition(), rows[j].Partition()
		if pi != pj {
			return pi.Less(pj)
		}
		return eventLess(rows[i].Event, rows[j].Event, actions)
	})
}
