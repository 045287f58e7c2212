package policyloader

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Cell memoizes the bundle for one root directory. Concurrent first loads
// share a single parse; Clear invalidates for hot reload and tests.
// A failed load is never cached.
type Cell struct {
	root string
	opts Options

	mu     sync.RWMutex
	bundle *Bundle
	gen    uint64

	group singleflight.Group
	loads atomic.Int64
}

// NewCell creates an empty cell for rootDir.
func NewCell(rootDir string, opts Options) *Cell {
	return &Cell{root: rootDir, opts: opts}
}

// Root returns the directory the cell loads from.
func (c *Cell) Root() string { return c.root }

// Options returns the load options, so watchers can derive candidate paths.
func (c *Cell) Options() Options { return c.opts }

// Get returns the cached bundle, loading it on first use.
func (c *Cell) Get(ctx context.Context) (*Bundle, error) {
	c.mu.RLock()
	b, gen := c.bundle, c.gen
	c.mu.RUnlock()
	if b != nil {
		return b, nil
	}

	ch := c.group.DoChan("load", func() (interface{}, error) {
		c.loads.Add(1)
		loaded, err := Load(c.root, c.opts)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		// A Clear during the load means the file changed under us.
		if c.gen == gen && c.bundle == nil {
			c.bundle = loaded
		}
		c.mu.Unlock()
		return loaded, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Bundle), nil
	}
}

// Set installs a bundle directly.
func (c *Cell) Set(b *Bundle) {
	c.mu.Lock()
	c.bundle = b
	c.gen++
	c.mu.Unlock()
}

// Clear drops the cached bundle.
func (c *Cell) Clear() {
	c.mu.Lock()
	c.bundle = nil
	c.gen++
	c.mu.Unlock()
	c.group.Forget("load")
	c.opts.logger().Debug("policy cache cleared", "root", c.root)
}

// Loads reports how many times the cell read the policy from disk.
func (c *Cell) Loads() int64 { return c.loads.Load() }

var defaultCell atomic.Pointer[Cell]

// Default returns the process-wide cell rooted at the working directory.
func Default() *Cell {
	if c := defaultCell.Load(); c != nil {
		return c
	}
	defaultCell.CompareAndSwap(nil, NewCell(".", Options{}))
	return defaultCell.Load()
}

// SetDefault replaces the process-wide cell.
func SetDefault(c *Cell) { defaultCell.Store(c) }

// ClearCache invalidates the process-wide cell.
func ClearCache() { Default().Clear() }
