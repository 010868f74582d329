package pool

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPool_ResetsOnPut(t *testing.T) {
	p := New(
		func() *bytes.Buffer { return new(bytes.Buffer) },
		func(b *bytes.Buffer) { b.Reset() },
	)

	b := p.Get()
	b.WriteString("stale")
	p.Put(b)

	got := p.Get()
	assert.Equal(t, 0, got.Len())
	p.Put(got)
}

func TestPool_Stats(t *testing.T) {
	p := New(func() *int { return new(int) }, nil)

	a := p.Get()
	b := p.Get()
	allocated, inUse, _ := p.Stats()
	assert.Equal(t, int64(2), allocated)
	assert.Equal(t, int64(2), inUse)

	p.Put(a)
	p.Put(b)
	_, inUse, _ = p.Stats()
	assert.Equal(t, int64(0), inUse)
}

func TestPool_Concurrent(t *testing.T) {
	p := New(func() []byte { return make([]byte, 0, 64) }, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				buf := p.Get()
				p.Put(append(buf[:0], 'x'))
			}
		}()
	}
	wg.Wait()

	allocated, inUse, hits := p.Stats()
	assert.Equal(t, int64(0), inUse)
	assert.Positive(t, allocated)
	assert.Equal(t, int64(1600)-allocated, hits)
}
