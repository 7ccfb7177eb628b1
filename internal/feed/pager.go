package feed

import "yomtov/internal/model"

// DefaultPageSize is both the initial cursor and the expand step.
const DefaultPageSize = 4

// Pager tracks how many upcoming records are exposed. It is not safe for
// concurrent use; Service guards it.
type Pager struct {
	step   int
	cursor int
}

func NewPager(step int) *Pager {
	if step <= 0 {
		step = DefaultPageSize
	}
	return &Pager{step: step, cursor: step}
}

func (p *Pager) Reset() {
	p.cursor = p.step
}

func (p *Pager) Expand() {
	p.cursor += p.step
}

func (p *Pager) Cursor() int {
	return p.cursor
}

// Page returns the first Cursor() records dated strictly after today, in
// feed order.
func (p *Pager) Page(feed []model.Observance, today string) []model.Observance {
	out := make([]model.Observance, 0, p.cursor)
	for _, o := range feed {
		if len(out) == p.cursor {
			break
		}
		if o.Date > today {
			out = append(out, o)
		}
	}
	return out
}

// HasMore reports whether upcoming records remain beyond the cursor. The
// feed window starts tomorrow, so this is normally cursor < len(feed).
func (p *Pager) HasMore(feed []model.Observance, today string) bool {
	return p.cursor < countAfter(feed, today)
}

func countAfter(feed []model.Observance, today string) int {
	n := 0
	for _, o := range feed {
		if o.Date > today {
			n++
		}
	}
	return n
}
