package server

import (
	"expvar"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemCollector periodically samples host CPU, memory and disk usage and
// publishes them under the "mimir" expvar map next to the reconciler stats.
type SystemCollector struct {
	cpuUsagePercent *expvar.Float
	memUsagePercent *expvar.Float
	diskUsage       *expvar.Float
	diskPath        string
	interval        time.Duration
	stopChan        chan struct{}
	startOnce       sync.Once
	stopOnce        sync.Once
	started         bool
	wg              sync.WaitGroup
	logger          *slog.Logger
}

// NewSystemCollector creates a collector sampling every interval. diskPath is
// the filesystem whose usage is reported, usually where published logs land.
func NewSystemCollector(diskPath string, interval time.Duration, logger *slog.Logger) *SystemCollector {
	if logger == nil {
		logger = slog.Default()
	}
	if diskPath == "" {
		diskPath = "."
	}
	sc := &SystemCollector{
		cpuUsagePercent: new(expvar.Float),
		memUsagePercent: new(expvar.Float),
		diskUsage:       new(expvar.Float),
		diskPath:        diskPath,
		interval:        interval,
		stopChan:        make(chan struct{}),
		logger:          logger.With("component", "SystemCollector"),
	}
	metrics.Set("system_cpu_usage_percent", sc.cpuUsagePercent)
	metrics.Set("system_mem_usage_percent", sc.memUsagePercent)
	metrics.Set("system_disk_usage_percent", sc.diskUsage)
	return sc
}

// Start takes one sample immediately and then keeps sampling in the
// background until Stop. Calling it more than once has no effect.
func (sc *SystemCollector) Start() {
	sc.startOnce.Do(func() {
		sc.logger.Info("Starting system metrics collector", "interval", sc.interval, "disk_path", sc.diskPath)
		sc.Collect()
		sc.started = true
		sc.wg.Add(1)
		go sc.collectLoop()
	})
}

// Stop terminates the collection loop and waits for it. It is safe to call
// on a collector that never started.
func (sc *SystemCollector) Stop() {
	sc.stopOnce.Do(func() {
		// Later Start calls become no-ops.
		sc.startOnce.Do(func() {})
		close(sc.stopChan)
		sc.wg.Wait()
		if sc.started {
			sc.logger.Info("Stopped system metrics collector")
		}
	})
}

// Collect takes a single sample. A metric that cannot be read keeps its last
// value.
func (sc *SystemCollector) Collect() {
	// Zero interval compares against the previous call instead of blocking.
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		sc.cpuUsagePercent.Set(pct[0])
	} else if err != nil {
		sc.logger.Debug("CPU usage unavailable", "error", err)
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		sc.memUsagePercent.Set(vm.UsedPercent)
	} else {
		sc.logger.Debug("Memory usage unavailable", "error", err)
	}
	if du, err := disk.Usage(sc.diskPath); err == nil {
		sc.diskUsage.Set(du.UsedPercent)
	} else {
		sc.logger.Debug("Disk usage unavailable", "path", sc.diskPath, "error", err)
	}
}

func (sc *SystemCollector) collectLoop() {
	defer sc.wg.Done()
	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sc.Collect()
		case <-sc.stopChan:
			return
		}
	}
}
