package logbuffer

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_KeepsMostRecentLines(t *testing.T) {
	b := New(0)
	require.Equal(t, DefaultCapacity, b.Capacity())

	for i := 0; i < DefaultCapacity+1234; i++ {
		b.Append(fmt.Sprintf("line %d", i))
	}

	lines := b.Lines()
	require.Len(t, lines, DefaultCapacity)
	assert.Equal(t, "line 1234", lines[0])
	assert.Equal(t, fmt.Sprintf("line %d", DefaultCapacity+1233), lines[len(lines)-1])
	assert.Equal(t, uint64(DefaultCapacity+1234), b.Total())
}

func TestBuffer_BelowCapacity(t *testing.T) {
	b := New(3)
	b.Append("a")
	b.Append("b")

	assert.Equal(t, []string{"a", "b"}, b.Lines())
	assert.Equal(t, 2, b.Len())

	b.Append("c")
	b.Append("d")
	assert.Equal(t, []string{"b", "c", "d"}, b.Lines())
}

func TestBuffer_Tail(t *testing.T) {
	b := New(10)
	for i := 0; i < 5; i++ {
		b.Append(fmt.Sprint(i))
	}
	assert.Equal(t, []string{"3", "4"}, b.Tail(2))
	assert.Equal(t, []string{"0", "1", "2", "3", "4"}, b.Tail(0))
	assert.Equal(t, []string{"0", "1", "2", "3", "4"}, b.Tail(50))
}

func TestBuffer_LinesIsCopy(t *testing.T) {
	b := New(2)
	b.Append("a")
	lines := b.Lines()
	lines[0] = "changed"
	assert.Equal(t, []string{"a"}, b.Lines())
}

func TestBuffer_ConcurrentAppendAndRead(t *testing.T) {
	b := New(100)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				b.Append("x")
				_ = b.Lines()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, b.Len())
	assert.Equal(t, uint64(2000), b.Total())
}
