package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueUpdateProgress(t *testing.T) {
	q := newQueue("TRANSFER", 2)
	q.Size.Total = 300
	q.startItem("a", 100)
	q.startItem("b", 200)

	require.True(t, q.updateProgress("a", 100))
	require.True(t, q.updateProgress("b", 50))

	assert.InDelta(t, 200, q.Size.Completed, 1e-9)
	assert.Equal(t, 66, q.Percent())
	assert.Equal(t, 1, q.OpenItems())

	_, open := q.Item("a")
	assert.False(t, open, "finished item should leave the open set")
	b, open := q.Item("b")
	require.True(t, open)
	assert.Equal(t, ItemProgress{Size: 200, Completed: 100, Percent: 50}, b)
}

func TestQueueStaleUpdateIgnored(t *testing.T) {
	q := newQueue("TRANSFER", 1)
	q.Size.Total = 100
	q.startItem("a", 100)
	require.True(t, q.updateProgress("a", 100))

	before := q.Size
	assert.False(t, q.updateProgress("a", 75))
	assert.Equal(t, before, q.Size)
	assert.Equal(t, 100, q.Percent())
}

func TestQueueOvershootClipped(t *testing.T) {
	q := newQueue("RESTORE", 1)
	q.Size.Total = 50
	q.startItem("a", 50)

	// A stray update above 100% must not push the queue past
	// its total once the item completes.
	require.True(t, q.updateProgress("a", 130))

	assert.InDelta(t, 50, q.Size.Completed, 1e-9)
	assert.Equal(t, 100, q.Percent())
	assert.Equal(t, 0, q.OpenItems())
}

func TestQueueFraction(t *testing.T) {
	tests := []struct {
		name      string
		completed float64
		total     float64
		want      float64
		percent   int
	}{
		{"empty queue", 0, 0, 1, 100},
		{"nothing done", 0, 1000, 0, 0},
		{"within epsilon", 999.99995, 1000, 1, 100},
		{"just outside epsilon", 999.9, 1000, 0.9999, 99},
		{"zero total with progress", 5, 0, 0, 0},
		{"one third", 1, 3, 1.0 / 3, 33},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newQueue("Q", 0)
			q.Size = RelativeSize{Completed: tt.completed, Total: tt.total}
			assert.InDelta(t, tt.want, q.Fraction(), 1e-9)
			assert.Equal(t, tt.percent, q.fractionPercent())
		})
	}
}

func TestQueuePercentBeforeAnyProgress(t *testing.T) {
	q := newQueue("RESTORE", 5)
	assert.Equal(t, 1.0, q.Fraction())
	assert.Equal(t, 0, q.Percent())

	q.Size.Total = 100
	q.startItem("a", 100)
	assert.Equal(t, 0, q.Percent(), "starting an item reports nothing")

	require.True(t, q.updateProgress("a", 40))
	assert.Equal(t, 40, q.Percent())
}

func TestQueueRestartItemReplacesEntry(t *testing.T) {
	q := newQueue("Q", 1)
	q.Size.Total = 10
	q.startItem("a", 10)
	require.True(t, q.updateProgress("a", 40))
	q.startItem("a", 10)

	item, ok := q.Item("a")
	require.True(t, ok)
	assert.Equal(t, ItemProgress{Size: 10}, item)
}

func TestQueueTailWindows(t *testing.T) {
	q := newQueue("Q", 1)
	w1, created := q.tail(1)
	assert.True(t, created)
	w1.logfile = "a.log"

	again, created := q.tail(1)
	assert.False(t, created)
	assert.Same(t, w1, again)

	_, created = q.tail(2)
	assert.True(t, created)
}

func TestItemStatusFinished(t *testing.T) {
	s := ItemStatus{Success: 3, Warnings: 2, Failed: 1}
	assert.Equal(t, 6, s.Finished())
}

func TestClampPercent(t *testing.T) {
	assert.Equal(t, 0, clampPercent(-5))
	assert.Equal(t, 42, clampPercent(42))
	assert.Equal(t, 100, clampPercent(250))
}
