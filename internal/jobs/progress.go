package jobs

import (
	"github.com/shopspring/decimal"
)

// Stats are the running result counters an operation reports.
type Stats struct {
	TotalCost   decimal.Decimal
	Successful  int
	Failed      int
	TotalTokens int
}

// Progress is handed to a running operation to report its counters. All
// counters only move forward, processed never exceeds total, and calls
// after the job finished are ignored.
type Progress struct {
	m *Manager
	e *entry
}

// SetTotal raises the total. A smaller value than the current total is ignored.
func (p *Progress) SetTotal(total int) {
	p.update(func(e *entry) bool {
		if total <= e.job.Total {
			return false
		}
		e.job.Total = total
		return true
	})
}

// Advance adds n processed items, clamped to the total.
func (p *Progress) Advance(n int) {
	if n <= 0 {
		return
	}
	p.update(func(e *entry) bool {
		return e.setProcessed(e.job.Processed + n)
	})
}

// Set reports absolute counts. Values below the current ones are ignored.
func (p *Progress) Set(processed, total int) {
	p.update(func(e *entry) bool {
		changed := false
		if total > e.job.Total {
			e.job.Total = total
			changed = true
		}
		return e.setProcessed(processed) || changed
	})
}

// Record reports absolute result counters. Each counter only grows.
func (p *Progress) Record(s Stats) {
	p.update(func(e *entry) bool {
		changed := false
		if s.Successful > e.job.Successful {
			e.job.Successful = s.Successful
			changed = true
		}
		if s.Failed > e.job.Failed {
			e.job.Failed = s.Failed
			changed = true
		}
		if s.TotalTokens > e.job.TotalTokens {
			e.job.TotalTokens = s.TotalTokens
			changed = true
		}
		if s.TotalCost.GreaterThan(e.job.TotalCost) {
			e.job.TotalCost = s.TotalCost
			changed = true
		}
		return changed
	})
}

func (p *Progress) update(apply func(e *entry) bool) {
	p.m.mu.Lock()
	if p.e.job.Status.Terminal() || !apply(p.e) {
		p.m.mu.Unlock()
		return
	}
	persist := p.e.job.Processed-p.e.persisted >= p.m.opts.PersistEvery ||
		p.e.job.Processed == p.e.job.Total
	if persist {
		p.e.persisted = p.e.job.Processed
	}
	p.m.mu.Unlock()

	if persist {
		p.m.persist(p.e)
	}
}

// setProcessed moves processed forward to n, clamped to the total.
// Callers hold the manager lock.
func (e *entry) setProcessed(n int) bool {
	n = min(n, e.job.Total)
	if n <= e.job.Processed {
		return false
	}
	e.job.Processed = n
	return true
}
