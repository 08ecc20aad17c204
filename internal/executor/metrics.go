package executor

import (
	"sync"
	"time"
)

// DispatchMetrics tracks statistics about dispatch batches.
type DispatchMetrics struct {
	BatchesDispatched int
	ToolsInvoked      int
	ToolsSucceeded    int
	ToolsFailed       int
	ToolsTimedOut     int
	TotalDuration     time.Duration
	LongestToolTime   time.Duration

	mu sync.Mutex // Protects metrics updates
}

// Copy returns a snapshot without the mutex.
func (m *DispatchMetrics) Copy() DispatchMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	return DispatchMetrics{
		BatchesDispatched: m.BatchesDispatched,
		ToolsInvoked:      m.ToolsInvoked,
		ToolsSucceeded:    m.ToolsSucceeded,
		ToolsFailed:       m.ToolsFailed,
		ToolsTimedOut:     m.ToolsTimedOut,
		TotalDuration:     m.TotalDuration,
		LongestToolTime:   m.LongestToolTime,
	}
}
