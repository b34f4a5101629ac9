package metrics

import (
	"context"
	"runtime"
	"time"
)

// pauseRing is the length of runtime.MemStats.PauseNs.
const pauseRing = 256

// RunRuntimeSampler samples memory, goroutine and GC pause statistics every
// refresh interval until ctx is done. It returns nil right away on a
// disabled manager.
func (m *Manager) RunRuntimeSampler(ctx context.Context) error {
	if !m.enabled {
		return nil
	}
	ticker := time.NewTicker(m.refreshInterval)
	defer ticker.Stop()

	var lastGC uint32
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			lastGC = m.sampleRuntime(lastGC)
		}
	}
}

// sampleRuntime records one sample and returns the GC count it has seen up to.
func (m *Manager) sampleRuntime(lastGC uint32) uint32 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.systemMemoryUsage.Set(float64(ms.Alloc))
	m.systemGoroutineCount.Set(float64(runtime.NumGoroutine()))

	from := lastGC
	if ms.NumGC-from > pauseRing {
		from = ms.NumGC - pauseRing
	}
	for n := from + 1; n <= ms.NumGC; n++ {
		pause := time.Duration(ms.PauseNs[(n+pauseRing-1)%pauseRing])
		m.systemGCPauseTime.Observe(float64(pause) / float64(time.Millisecond))
	}
	return ms.NumGC
}

// RunRuntimeSampler runs the global manager's sampler.
func RunRuntimeSampler(ctx context.Context) error {
	return globalManager.RunRuntimeSampler(ctx)
}
