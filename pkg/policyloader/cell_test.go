package policyloader

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCell_MemoizesAndClears(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "WARP_AGENTS.md", samplePolicy(t))
	cell := NewCell(dir, Options{})
	ctx := context.Background()

	first, err := cell.Get(ctx)
	require.NoError(t, err)
	second, err := cell.Get(ctx)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, int64(1), cell.Loads())

	cell.Clear()
	third, err := cell.Get(ctx)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Equal(t, int64(2), cell.Loads())
}

func TestCell_ConcurrentFirstLoads(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "WARP_AGENTS.md", samplePolicy(t))
	cell := NewCell(dir, Options{})

	var wg sync.WaitGroup
	results := make([]*Bundle, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := cell.Get(context.Background())
			assert.NoError(t, err)
			results[i] = b
		}(i)
	}
	wg.Wait()

	for _, b := range results {
		require.NotNil(t, b)
		assert.Equal(t, results[0].Hash, b.Hash)
	}
	assert.LessOrEqual(t, cell.Loads(), int64(len(results)))
}

func TestCell_FailureIsNotCached(t *testing.T) {
	dir := t.TempDir()
	cell := NewCell(dir, Options{})

	_, err := cell.Get(context.Background())
	require.ErrorIs(t, err, ErrConfigNotFound)

	writePolicy(t, dir, "WARP_AGENTS.md", samplePolicy(t))
	b, err := cell.Get(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, b)
}

func TestCell_IsolatedInstances(t *testing.T) {
	a := NewCell(t.TempDir(), Options{})
	b := NewCell(t.TempDir(), Options{})

	bundle, err := Parse(samplePolicy(t))
	require.NoError(t, err)
	a.Set(bundle)

	got, err := a.Get(context.Background())
	require.NoError(t, err)
	assert.Same(t, bundle, got)

	_, err = b.Get(context.Background())
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestDefaultCell(t *testing.T) {
	prev := Default()
	t.Cleanup(func() { SetDefault(prev) })

	dir := t.TempDir()
	writePolicy(t, dir, "WARP_AGENTS.md", samplePolicy(t))
	SetDefault(NewCell(dir, Options{}))

	_, err := Default().Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), Default().Loads())
	ClearCache()
	_, err = Default().Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), Default().Loads())
}

func TestWatch_ClearsOnChange(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "WARP_AGENTS.md", samplePolicy(t))
	cell := NewCell(dir, Options{})
	_, err := cell.Get(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, cell) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "WARP_AGENTS.md"), samplePolicy(t), 0o600))

	require.Eventually(t, func() bool {
		cell.mu.RLock()
		defer cell.mu.RUnlock()
		return cell.bundle == nil
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWatch_NoDirectories(t *testing.T) {
	cell := NewCell(filepath.Join(t.TempDir(), "missing"), Options{})
	err := Watch(context.Background(), cell)
	require.Error(t, err)
}
