package transform

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/syncline/syncline"
)

// Outcome is the per-shard result of a fan-out. Exactly one Outcome is
// produced per submitted shard; Err is nil when every record in the
// shard transformed cleanly.
type Outcome struct {
	Shard Shard
	Docs  []syncline.TargetDocument
	Err   error
}

// Pool fans shards out to a bounded set of workers via message passing:
// submit shard, await result per shard. A worker failure is isolated to
// its shard; sibling shards always run to completion.
type Pool struct {
	size   int
	logger *slog.Logger
}

// NewPool creates a transform pool with the given worker count.
func NewPool(size int, logger *slog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{size: size, logger: logger}
}

// Transform runs fn over every shard and returns outcomes ordered by
// shard index. Shards are processed concurrently up to the pool size; a
// single shard's failure does not abort siblings. Context cancellation
// stops workers from picking up further shards, and unpicked shards
// report ctx.Err().
func (p *Pool) Transform(ctx context.Context, shards []Shard, fn Func) []Outcome {
	if len(shards) == 0 {
		return nil
	}

	// Single shard runs inline; no fan-out overhead for small batches.
	if len(shards) == 1 {
		return []Outcome{p.runShard(ctx, shards[0], fn)}
	}

	work := make(chan Shard)
	results := make(chan Outcome, len(shards))

	workers := p.size
	if workers > len(shards) {
		workers = len(shards)
	}

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for shard := range work {
				results <- p.runShard(ctx, shard, fn)
			}
		}()
	}

	submitted := 0
submit:
	for _, shard := range shards {
		select {
		case work <- shard:
			submitted++
		case <-ctx.Done():
			break submit
		}
	}
	close(work)
	wg.Wait()
	close(results)

	outcomes := make([]Outcome, 0, len(shards))
	for o := range results {
		outcomes = append(outcomes, o)
	}
	// Shards skipped after cancellation still owe an outcome.
	if submitted < len(shards) {
		seen := make(map[int]bool, len(outcomes))
		for _, o := range outcomes {
			seen[o.Shard.Index] = true
		}
		for _, shard := range shards {
			if !seen[shard.Index] {
				outcomes = append(outcomes, Outcome{
					Shard: shard,
					Err:   syncline.E(syncline.KindTransform, "transform.dispatch", ctx.Err()),
				})
			}
		}
	}

	sort.Slice(outcomes, func(i, j int) bool {
		return outcomes[i].Shard.Index < outcomes[j].Shard.Index
	})
	return outcomes
}

// runShard transforms one shard, converting panics and per-record errors
// into a shard-level transform error.
func (p *Pool) runShard(ctx context.Context, shard Shard, fn Func) (out Outcome) {
	out.Shard = shard

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("transform shard panicked",
				slog.Int("shard", shard.Index),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			out.Docs = nil
			out.Err = syncline.Ef(syncline.KindTransform, "transform.shard",
				"panic in shard %d: %v", shard.Index, r)
		}
	}()

	docs := make([]syncline.TargetDocument, 0, len(shard.Records))
	for i, rec := range shard.Records {
		doc, err := fn(ctx, rec)
		if err != nil {
			out.Err = syncline.E(syncline.KindTransform, "transform.shard",
				fmt.Errorf("shard %d record %d: %w", shard.Index, i, err))
			return out
		}
		docs = append(docs, doc)
	}
	out.Docs = docs
	return out
}
