package sync

import "sync"

// progressFanout delivers events synchronously to every listener in
// registration order.
type progressFanout struct {
	mu        sync.RWMutex
	listeners []ProgressCallback
}

func (f *progressFanout) add(cb ProgressCallback) {
	if cb == nil {
		return
	}
	f.mu.Lock()
	f.listeners = append(f.listeners, cb)
	f.mu.Unlock()
}

func (f *progressFanout) emit(ev ProgressEvent) {
	f.mu.RLock()
	listeners := f.listeners
	f.mu.RUnlock()

	for _, cb := range listeners {
		cb(ev)
	}
}

// percentage returns floor(processed / total * 100).
func percentage(processed, total int) int {
	if total <= 0 {
		return 100
	}
	return processed * 100 / total
}
