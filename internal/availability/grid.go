// Package availability computes the per-court, per-hour status matrix for a
// date from the schedule configuration, the exclusion rules and the ledger.
package availability

import (
	"sort"
	"sync"

	"github.com/dominusnolan/court-booking/internal/model"
)

// DefaultSlotMinutes is the slot length used when none is configured.
const DefaultSlotMinutes = 60

// GenerateLabels returns the ordered slot labels of a business day.  Each slot
// starts before closing and ends no later than closing; a trailing partial
// slot is dropped.
func GenerateLabels(opening, closing model.ClockTime, slotMinutes int) []model.TimeLabel {
	if slotMinutes <= 0 {
		slotMinutes = DefaultSlotMinutes
	}
	if opening >= closing {
		return []model.TimeLabel{}
	}
	out := make([]model.TimeLabel, 0, int(closing-opening)/slotMinutes)
	for t := opening; t+model.ClockTime(slotMinutes) <= closing; t += model.ClockTime(slotMinutes) {
		out = append(out, model.LabelAt(t))
	}
	return out
}

// LabelCache memoises GenerateLabels per schedule version.
type LabelCache struct {
	mu      sync.RWMutex
	version uint64
	labels  []model.TimeLabel
	valid   bool
}

// Labels returns the labels for s, regenerating them when the schedule
// version changes.  The returned slice must not be modified.
func (c *LabelCache) Labels(s *model.Schedule) []model.TimeLabel {
	c.mu.RLock()
	if c.valid && c.version == s.Version {
		out := c.labels
		c.mu.RUnlock()
		return out
	}
	c.mu.RUnlock()

	labels := GenerateLabels(s.Opening, s.Closing, s.SlotMinutes)
	c.mu.Lock()
	c.version, c.labels, c.valid = s.Version, labels, true
	c.mu.Unlock()
	return labels
}

// HasLabel reports whether l is one of labels.
func HasLabel(labels []model.TimeLabel, l model.TimeLabel) bool {
	i := sort.Search(len(labels), func(i int) bool { return labels[i] >= l })
	return i < len(labels) && labels[i] == l
}
