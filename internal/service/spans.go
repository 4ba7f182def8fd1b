package service

import (
	"sort"

	"github.com/dominusnolan/court-booking/internal/model"
)

// Span is a run of back-to-back slots on one court and date, shown to the
// customer as a single line ("9am–11am").  The ledger still tracks each slot.
type Span struct {
	Date      string   `json:"date"`
	CourtID   int      `json:"courtId"`
	CourtName string   `json:"courtName"`
	Start     string   `json:"start"`
	End       string   `json:"end"`
	Label     string   `json:"label"`
	SlotKeys  []string `json:"slotKeys"`
}

// GroupSpans merges contiguous keys into spans.  Input order does not
// matter; output is ordered by date, court and start time.
func GroupSpans(keys []model.SlotKey, slotMinutes int) []Span {
	if slotMinutes <= 0 {
		slotMinutes = 60
	}
	sorted := make([]model.SlotKey, len(keys))
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.CourtID != b.CourtID {
			return a.CourtID < b.CourtID
		}
		return a.Label < b.Label
	})

	out := make([]Span, 0)
	var (
		cur  *Span
		last model.SlotKey
	)
	step := model.TimeLabel(slotMinutes)
	for _, k := range sorted {
		if cur != nil && k.Date == last.Date && k.CourtID == last.CourtID && k.Label == last.Label+step {
			cur.SlotKeys = append(cur.SlotKeys, k.String())
		} else {
			if cur != nil {
				closeSpan(cur, last.Label+step)
				out = append(out, *cur)
			}
			cur = &Span{
				Date:      k.Date,
				CourtID:   k.CourtID,
				CourtName: model.CourtName(k.CourtID),
				Start:     k.Label.String(),
				SlotKeys:  []string{k.String()},
			}
		}
		last = k
	}
	if cur != nil {
		closeSpan(cur, last.Label+step)
		out = append(out, *cur)
	}
	return out
}

func closeSpan(s *Span, end model.TimeLabel) {
	s.End = end.String()
	s.Label = s.Start + "–" + s.End
}
