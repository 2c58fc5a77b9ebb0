package metrics

import (
	"sync"
	"time"

	"github.com/casare-rpa/robot/pkg/log"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// ResourceSnapshot is one point-in-time resource sample
type ResourceSnapshot struct {
	Timestamp     time.Time `json:"timestamp"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	MemoryMB      float64   `json:"memory_mb"`
}

// ResourceMonitor periodically samples host CPU and memory via gopsutil
// and keeps a bounded history for presence reporting.
type ResourceMonitor struct {
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.RWMutex
	history []ResourceSnapshot
	maxKeep int

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewResourceMonitor creates a monitor sampling at the given interval
// (default 60s).
func NewResourceMonitor(interval time.Duration) *ResourceMonitor {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &ResourceMonitor{
		interval: interval,
		logger:   log.WithComponent("resources"),
		maxKeep:  int(time.Hour / interval),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the sampling loop
func (m *ResourceMonitor) Start() {
	go m.run()
}

// Stop stops the sampling loop and waits for it to exit
func (m *ResourceMonitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

func (m *ResourceMonitor) run() {
	defer close(m.doneCh)

	// Sample immediately on start
	m.sample()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sample()
		case <-m.stopCh:
			return
		}
	}
}

func (m *ResourceMonitor) sample() {
	snap := ResourceSnapshot{Timestamp: time.Now().UTC()}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		snap.CPUPercent = percents[0]
	} else if err != nil {
		m.logger.Debug().Err(err).Msg("CPU sampling failed")
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemoryPercent = vm.UsedPercent
		snap.MemoryMB = float64(vm.Used) / (1024 * 1024)
	} else {
		m.logger.Debug().Err(err).Msg("Memory sampling failed")
	}

	CPUPercent.Set(snap.CPUPercent)
	MemoryPercent.Set(snap.MemoryPercent)

	m.mu.Lock()
	m.history = append(m.history, snap)
	if m.maxKeep > 0 && len(m.history) > m.maxKeep {
		m.history = m.history[len(m.history)-m.maxKeep:]
	}
	m.mu.Unlock()
}

// Current returns the most recent sample, or a zero snapshot if none yet
func (m *ResourceMonitor) Current() ResourceSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.history) == 0 {
		return ResourceSnapshot{}
	}
	return m.history[len(m.history)-1]
}
