package session

import "time"

// Bounds of the early-refresh margin and of the overall schedule delay.
const (
	MinRefreshMargin = 10 * time.Second
	MaxRefreshMargin = 60 * time.Second
	MinRefreshDelay  = 5 * time.Second
)

// RefreshDelay returns how long to wait before refreshing a token that
// expires in remaining:
//
//	margin = max(10s, min(60s, remaining/10)), at most 60% of remaining
//	delay  = max(5s, remaining - margin)
func RefreshDelay(remaining time.Duration) time.Duration {
	margin := remaining / 10
	if margin > MaxRefreshMargin {
		margin = MaxRefreshMargin
	}
	if margin < MinRefreshMargin {
		margin = MinRefreshMargin
	}
	if limit := remaining * 6 / 10; margin > limit {
		margin = limit
	}

	delay := remaining - margin
	if delay < MinRefreshDelay {
		delay = MinRefreshDelay
	}
	return delay
}

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

// Scheduler creates Timers. The default uses time.AfterFunc.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type clockScheduler struct{}

func (clockScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
