package export

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/systmms/kvexport/internal/logging"
	"github.com/systmms/kvexport/internal/metrics"
	"github.com/systmms/kvexport/internal/vault"
)

// Separator delimits namespace segments; a key ending in it is a sub-namespace.
const Separator = "/"

// Lister returns the immediate children of a prefix, empty on any failure.
type Lister interface {
	List(ctx context.Context, prefix string) []string
}

// Reader fetches one leaf; false means the leaf was skipped.
type Reader interface {
	Read(ctx context.Context, path string) (vault.Record, bool)
}

// Options tune a traversal.
type Options struct {
	// Concurrency is the maximum number of in-flight store requests.
	// 1 walks sequentially and preserves the store's ordering.
	Concurrency int
	// MaxDepth is the deepest sub-namespace (by separator count) descended into.
	MaxDepth int
}

// Stats summarizes a finished traversal.
type Stats struct {
	Exported      int64
	Skipped       int64
	DepthExceeded int64
	Duration      time.Duration
}

type counters struct {
	exported      atomic.Int64
	skipped       atomic.Int64
	depthExceeded atomic.Int64
}

// Traverser walks a mount's namespace tree and emits one record per leaf.
type Traverser struct {
	lister  Lister
	reader  Reader
	emitter *Emitter
	opts    Options
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewTraverser creates a Traverser. m may be nil.
func NewTraverser(lister Lister, reader Reader, emitter *Emitter, opts Options, logger *logging.Logger, m *metrics.Metrics) *Traverser {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if logger == nil {
		logger = logging.New(false, true)
	}
	return &Traverser{
		lister:  lister,
		reader:  reader,
		emitter: emitter,
		opts:    opts,
		logger:  logger,
		metrics: m,
	}
}

// Run walks the whole tree from the root prefix. Unreadable leaves and
// unlistable prefixes are skipped; the only errors are a broken output
// stream and context cancellation.
func (t *Traverser) Run(ctx context.Context) (Stats, error) {
	start := time.Now()
	c := &counters{}

	var err error
	if t.opts.Concurrency == 1 {
		err = t.walk(ctx, c)
	} else {
		err = t.walkConcurrent(ctx, c)
	}

	return Stats{
		Exported:      c.exported.Load(),
		Skipped:       c.skipped.Load(),
		DepthExceeded: c.depthExceeded.Load(),
		Duration:      time.Since(start),
	}, err
}

// frame is one listed prefix whose entries are being dispatched.
type frame struct {
	prefix  string
	entries []string
	next    int
}

// walk is a depth-first traversal on an explicit stack. Each sub-namespace
// is fully expanded before its next sibling, in the order the store listed.
func (t *Traverser) walk(ctx context.Context, c *counters) error {
	var stack []*frame
	push := func(prefix string) {
		if entries := t.lister.List(ctx, prefix); len(entries) > 0 {
			stack = append(stack, &frame{prefix: prefix, entries: entries})
		}
	}

	push("")
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		top := stack[len(stack)-1]
		if top.next == len(top.entries) {
			stack = stack[:len(stack)-1]
			continue
		}
		entry := top.entries[top.next]
		top.next++

		path := top.prefix + entry
		if IsNamespace(entry) {
			if t.descend(path, c) {
				push(path)
			}
			continue
		}
		if err := t.visitLeaf(ctx, path, c); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// walkConcurrent lists sibling sub-namespaces in parallel. Leaves of one
// prefix are read by that prefix's goroutine. At most Concurrency store
// requests are in flight. Output order is not preserved.
func (t *Traverser) walkConcurrent(parent context.Context, c *counters) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	semaphore := make(chan struct{}, t.opts.Concurrency)
	acquire := func() bool {
		select {
		case semaphore <- struct{}{}:
			return true
		case <-ctx.Done():
			return false
		}
	}
	release := func() { <-semaphore }

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	var visit func(prefix string)
	visit = func(prefix string) {
		defer wg.Done()

		if !acquire() {
			return
		}
		entries := t.lister.List(ctx, prefix)
		release()

		for _, entry := range entries {
			path := prefix + entry
			if IsNamespace(entry) {
				if t.descend(path, c) {
					wg.Add(1)
					go visit(path)
				}
				continue
			}

			if !acquire() {
				return
			}
			rec, ok := t.reader.Read(ctx, path)
			release()

			if err := t.record(rec, ok, c); err != nil {
				fail(err)
				return
			}
		}
	}

	wg.Add(1)
	go visit("")
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return parent.Err()
}

func (t *Traverser) visitLeaf(ctx context.Context, path string, c *counters) error {
	rec, ok := t.reader.Read(ctx, path)
	return t.record(rec, ok, c)
}

func (t *Traverser) record(rec vault.Record, ok bool, c *counters) error {
	if !ok {
		c.skipped.Add(1)
		return nil
	}
	if err := t.emitter.Emit(rec); err != nil {
		return err
	}
	c.exported.Add(1)
	t.metrics.SecretExported()
	return nil
}

// descend reports whether the walk may enter prefix. Prefixes deeper than
// MaxDepth are skipped with a warning, which also bounds a store that
// reports a namespace cycle.
func (t *Traverser) descend(prefix string, c *counters) bool {
	if t.opts.MaxDepth > 0 && Depth(prefix) > t.opts.MaxDepth {
		c.depthExceeded.Add(1)
		t.metrics.DepthExceeded()
		t.logger.Warn("Not descending into '%s': deeper than the maximum depth of %d", prefix, t.opts.MaxDepth)
		return false
	}
	t.logger.Debug("Descending into '%s'", prefix)
	return true
}

// IsNamespace reports whether a list entry denotes a sub-namespace.
func IsNamespace(entry string) bool {
	return strings.HasSuffix(entry, Separator)
}

// Depth is the number of namespace segments in a prefix ("" is 0, "a/b/" is 2).
func Depth(prefix string) int {
	return strings.Count(prefix, Separator)
}
