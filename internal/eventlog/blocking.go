package eventlog

import (
	"context"
	"time"
)

// AppendSignal returns a channel that is closed by the next committed
// append. Callers needing to select over other events use this directly;
// WaitForAppend wraps it.
func (l *Log) AppendSignal() <-chan struct{} {
	l.mu.Lock()
	ch := l.notifyCh
	l.mu.Unlock()
	return ch
}

// WaitForAppend blocks until a new append commits, the timeout elapses, or
// ctx is cancelled. It returns true only when woken by an append.
func (l *Log) WaitForAppend(ctx context.Context, timeout time.Duration) bool {
	ch := l.AppendSignal()

	if timeout <= 0 {
		select {
		case <-ch:
			return true
		case <-ctx.Done():
			return false
		}
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	case <-ctx.Done():
		return false
	}
}
