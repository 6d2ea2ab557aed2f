package rwlock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestReadersShare(t *testing.T) {
	l := New()
	l.RLock()
	done := make(chan struct{})
	go func() {
		l.RLock()
		l.RUnlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("second reader blocked")
	}
	l.RUnlock()
}

func TestWriterWaitsForReader(t *testing.T) {
	l := New()
	l.RLock()

	var mu sync.Mutex
	locked := false
	done := make(chan struct{})
	go func() {
		l.Lock()
		mu.Lock()
		locked = true
		mu.Unlock()
		l.Unlock()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.False(t, locked)
	mu.Unlock()

	l.RUnlock()
	<-done
	assert.True(t, locked)
}

func TestWriterExcludesReaders(t *testing.T) {
	l := New()
	l.Lock()
	entered := make(chan struct{})
	go func() {
		l.RLock()
		close(entered)
		l.RUnlock()
	}()
	select {
	case <-entered:
		t.Fatal("reader entered while writer held the lock")
	case <-time.After(20 * time.Millisecond):
	}
	l.Unlock()
	<-entered
}

// pair is only consistent when read under the lock.
type pair struct{ a, b int }

func TestNoTornReads(t *testing.T) {
	l := New()
	p := &pair{}
	var g errgroup.Group
	stop := make(chan struct{})

	for r := 0; r < 8; r++ {
		g.Go(func() error {
			for {
				select {
				case <-stop:
					return nil
				default:
				}
				l.RLock()
				a, b := p.a, p.b
				l.RUnlock()
				if a != b {
					t.Errorf("torn read %d != %d", a, b)
					return nil
				}
			}
		})
	}
	for i := 0; i < 200; i++ {
		l.Lock()
		p.a = i
		p.b = i
		l.Unlock()
	}
	close(stop)
	require.NoError(t, g.Wait())
}

func TestWritersSerialize(t *testing.T) {
	l := New()
	counter := 0
	var g errgroup.Group
	for w := 0; w < 4; w++ {
		g.Go(func() error {
			for i := 0; i < 100; i++ {
				l.Lock()
				counter++
				l.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 400, counter)
	for i := range l.slots {
		assert.Zero(t, l.slots[i].n.Load())
	}
}
