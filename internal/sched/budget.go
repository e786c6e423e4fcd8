package sched

import (
	"sync"
	"time"

	"github.com/bitcraps/bitcraps/internal/faults"
)

// LoopBudget enforces a ceiling on iterations per window for a
// long-running loop, so no loop can spin hotter than policy allows
// regardless of how much work arrives (§4.1, §5 backpressure).
type LoopBudget struct {
	mu       sync.Mutex
	ceiling  int
	window   time.Duration
	count    int
	windowAt time.Time
	now      func() time.Time
}

// NewLoopBudget matches §6's scheduling.loop_budget_per_window /
// scheduling.window_ms defaults when ceiling<=0 or window<=0.
func NewLoopBudget(ceiling int, window time.Duration) *LoopBudget {
	if ceiling <= 0 {
		ceiling = 1000
	}
	if window <= 0 {
		window = time.Second
	}
	return &LoopBudget{ceiling: ceiling, window: window, now: time.Now}
}

// Take accounts for one loop iteration. It returns a Fault{KindResource,
// CodeBudgetExhausted} when the window's ceiling is exceeded; the
// caller must suspend until the next window rather than spin.
func (b *LoopBudget) Take() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if b.windowAt.IsZero() || now.Sub(b.windowAt) >= b.window {
		b.windowAt = now
		b.count = 0
	}
	b.count++
	if b.count > b.ceiling {
		return faults.New(faults.CodeBudgetExhausted,
			"loop budget exhausted: %d iterations in window %s", b.count, b.window)
	}
	return nil
}

// UntilNextWindow reports how long the caller should suspend for, used
// by the cooperative yield policy when Take returns an error.
func (b *LoopBudget) UntilNextWindow() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	elapsed := b.now().Sub(b.windowAt)
	remaining := b.window - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}
