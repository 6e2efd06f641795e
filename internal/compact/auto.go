package compact

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ccproto/ccp/internal/types"
)

// autoCompactConcurrency bounds the sweep worker pool.
const autoCompactConcurrency = 5

// AutoCompact sweeps resolved conversations whose last activity is older
// than the cutoff and compacts each as @system using the given options
// (ThreadID is supplied per conversation). Per-thread failures are logged
// and skipped; the sweep always returns the results it collected.
func (c *Compactor) AutoCompact(ctx context.Context, olderThanDays int, opts Options) ([]*Result, error) {
	if olderThanDays <= 0 {
		olderThanDays = 30
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategySummarize
	}
	cutoff := c.clock().UTC().AddDate(0, 0, -olderThanDays)

	convs, err := c.store.ResolvedConversationsBefore(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	var results []*Result

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(autoCompactConcurrency)
	for _, conv := range convs {
		threadID := conv.ThreadID
		threadOpts := opts
		threadOpts.ThreadID = threadID
		g.Go(func() error {
			res, err := c.CompactThread(gctx, threadOpts, types.SystemActor)
			if err != nil {
				fmt.Fprintf(os.Stderr, "warning: auto-compact of %s failed: %v\n", threadID, err)
				return nil
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}
