package task

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

type loop struct {
	function func()
	interval time.Duration
	name     string
	latency  prometheus.Histogram
	cancel   context.CancelFunc
}

// BackgroundTaskManager runs functions periodically until stopped.
// It is not threadsafe, it should only be accessed from a single goroutine.
type BackgroundTaskManager struct {
	loops         []*loop
	metricsPrefix string
	registerer    prometheus.Registerer
	wg            sync.WaitGroup
}

func NewBackgroundTaskManager(metricsPrefix string, registerer prometheus.Registerer) *BackgroundTaskManager {
	return &BackgroundTaskManager{
		metricsPrefix: metricsPrefix,
		registerer:    registerer,
	}
}

// Register starts running backgroundTask straight away and then once per interval.
func (m *BackgroundTaskManager) Register(backgroundTask func(), interval time.Duration, metricName string) {
	l := &loop{
		function: backgroundTask,
		interval: interval,
		name:     metricName,
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    m.metricsPrefix + metricName + "_latency_seconds",
			Help:    "Background loop " + metricName + " latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		}),
	}
	if m.registerer != nil {
		if err := m.registerer.Register(l.latency); err != nil {
			log.WithField("loop", metricName).Warnf("unable to register latency metric: %v", err)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	m.loops = append(m.loops, l)

	m.wg.Add(1)
	go m.run(ctx, l)
}

// StopAll stops every loop and waits up to timeout for running iterations to finish.
// Returns true if the timeout was hit.
func (m *BackgroundTaskManager) StopAll(timeout time.Duration) bool {
	for _, l := range m.loops {
		l.cancel()
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.wg.Wait()
	}()
	select {
	case <-done:
		return false
	case <-time.After(timeout):
		return true
	}
}

func (m *BackgroundTaskManager) run(ctx context.Context, l *loop) {
	defer m.wg.Done()
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		start := time.Now()
		l.function()
		l.latency.Observe(time.Since(start).Seconds())

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}
