package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type taskState struct {
	Status   int
	Progress int
}

func TestEntryOrDefaultReturnsSameCell(t *testing.T) {
	c := New[string, taskState]()

	first := c.EntryOrDefault("dQw4w9WgXcQ")
	second := c.EntryOrDefault("dQw4w9WgXcQ")
	other := c.EntryOrDefault("9bZkp7q19f0")

	assert.Same(t, first, second, "same key must yield the same cell")
	assert.NotSame(t, first, other, "distinct keys must yield distinct cells")
}

func TestEntryOrDefaultIsAtomicUnderContention(t *testing.T) {
	c := New[string, taskState]()

	const goroutines = 32
	cells := make(chan *Cell[taskState], goroutines)
	var start sync.WaitGroup
	start.Add(1)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start.Wait()
			cells <- c.EntryOrDefault("contended")
		}()
	}
	start.Done()
	wg.Wait()
	close(cells)

	first := <-cells
	for cell := range cells {
		require.Same(t, first, cell, "racing goroutines must agree on one cell")
	}
}

func TestGetDoesNotCreate(t *testing.T) {
	c := New[string, taskState]()

	_, ok := c.Get("missing")
	assert.False(t, ok)

	created := c.EntryOrDefault("present")
	found, ok := c.Get("present")
	require.True(t, ok)
	assert.Same(t, created, found)
}

func TestLoadReturnsSnapshot(t *testing.T) {
	cell := newCell[taskState]()
	cell.Update(func(s *taskState) bool {
		s.Status = 2
		s.Progress = 40
		return true
	})

	snap := cell.Load()
	snap.Progress = 99

	assert.Equal(t, 40, cell.Load().Progress, "mutating a snapshot must not touch the cell")
}

func TestUpdateBroadcastWakesWaiter(t *testing.T) {
	cell := newCell[taskState]()

	done := make(chan taskState, 1)
	go func() {
		done <- cell.WaitUntil(func(s taskState) bool { return s.Status == 3 })
	}()

	// Progress merges report no change and must not release the waiter.
	cell.Update(func(s *taskState) bool {
		s.Progress = 10
		return false
	})
	select {
	case <-done:
		t.Fatal("waiter released by a no-change update")
	case <-time.After(50 * time.Millisecond):
	}

	cell.Update(func(s *taskState) bool {
		s.Status = 3
		return true
	})

	select {
	case got := <-done:
		assert.Equal(t, 3, got.Status)
		assert.Equal(t, 10, got.Progress)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not released by status broadcast")
	}
}

func TestWaitUntilReleasesAllWaiters(t *testing.T) {
	cell := newCell[taskState]()

	const waiters = 8
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cell.WaitUntil(func(s taskState) bool { return s.Status != 0 })
		}()
	}

	time.Sleep(20 * time.Millisecond)
	cell.Update(func(s *taskState) bool {
		s.Status = 4
		return true
	})

	released := make(chan struct{})
	go func() {
		wg.Wait()
		close(released)
	}()
	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast left waiters blocked")
	}
}
