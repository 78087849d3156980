package transfer

import (
	"math"
	"sort"
)

const (
	// ProgressEpsilon absorbs floating point drift accumulated
	// over many small percent updates. Queue progress within
	// epsilon of the total is reported as exactly 100%.
	ProgressEpsilon = 1e-4

	// completePercent is the item percent at which an item is
	// considered finished and dropped from the open set.
	completePercent = 99.9999
)

// ItemStatus counts terminal item outcomes. Counters only grow.
type ItemStatus struct {
	Success  int `json:"success"`
	Warnings int `json:"warnings"`
	Failed   int `json:"failed"`
}

// Finished returns the number of items with a terminal outcome.
func (s ItemStatus) Finished() int {
	return s.Success + s.Warnings + s.Failed
}

// RelativeSize tracks unit-less item weight for a queue.
type RelativeSize struct {
	Completed float64 `json:"completed"`
	Total     float64 `json:"total"`
}

// ItemProgress is the bookkeeping for one in-flight item.
type ItemProgress struct {
	Size      float64 `json:"size"`
	Completed float64 `json:"completed"`
	Percent   float64 `json:"percent"`
}

// Queue aggregates progress for one named pipeline stage.
type Queue struct {
	Name      string
	ItemCount int
	Status    ItemStatus
	Processed int
	Size      RelativeSize

	// percent is the display percent as of the last item update.
	// Queues nobody has reported progress for stay at 0.
	percent int

	items map[string]*ItemProgress
	tails map[ChildNumber]*tailWindow
}

// tailWindow is one worker's view within a queue.
type tailWindow struct {
	logfile string
}

func newQueue(name string, itemCount int) *Queue {
	return &Queue{
		Name:      name,
		ItemCount: itemCount,
		items:     make(map[string]*ItemProgress),
		tails:     make(map[ChildNumber]*tailWindow),
	}
}

// startItem registers an in-flight item, replacing any previous
// entry with the same id.
func (q *Queue) startItem(id string, size float64) {
	q.items[id] = &ItemProgress{Size: size}
}

// updateProgress applies a new percent for an open item. It
// returns false when the item is not open, i.e. it already
// reached 100% and the update is stale.
func (q *Queue) updateProgress(id string, pct float64) bool {
	item, ok := q.items[id]
	if !ok {
		return false
	}

	delta := (pct - item.Percent) / 100 * item.Size
	item.Percent = pct
	item.Completed += delta
	q.Size.Completed += delta

	if pct >= completePercent {
		if over := item.Completed - item.Size; over > 0 {
			q.Size.Completed -= over
		}
		delete(q.items, id)
	}
	q.percent = q.fractionPercent()
	return true
}

// Fraction returns queue completion in [0, 1].
func (q *Queue) Fraction() float64 {
	if math.Abs(q.Size.Completed-q.Size.Total) < ProgressEpsilon {
		return 1
	}
	if q.Size.Total <= 0 {
		return 0
	}
	return q.Size.Completed / q.Size.Total
}

// Percent returns the display percent computed by the last item
// progress update.
func (q *Queue) Percent() int {
	return q.percent
}

// fractionPercent is Fraction as a truncated integer percent.
func (q *Queue) fractionPercent() int {
	return clampPercent(int(q.Fraction() * 100))
}

// Item returns a copy of an open item's progress.
func (q *Queue) Item(id string) (ItemProgress, bool) {
	item, ok := q.items[id]
	if !ok {
		return ItemProgress{}, false
	}
	return *item, true
}

// OpenItems returns the number of items still in flight.
func (q *Queue) OpenItems() int {
	return len(q.items)
}

// tail returns the window for a child, creating it on first use.
// The bool is true when the window was created.
func (q *Queue) tail(child ChildNumber) (*tailWindow, bool) {
	if w, ok := q.tails[child]; ok {
		return w, false
	}
	w := &tailWindow{}
	q.tails[child] = w
	return w, true
}

func clampPercent(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// sortedQueueNames returns queue names in lexical order.
func sortedQueueNames(queues map[string]*Queue) []string {
	names := make([]string, 0, len(queues))
	for name := range queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
