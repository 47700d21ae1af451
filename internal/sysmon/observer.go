// Package sysmon samples process and host resource usage on a fixed cadence
// and exposes the readings as OpenTelemetry gauges plus periodic debug logs.
package sysmon

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
	"pkt.systems/pslog"

	"pkt.systems/mcpbridge/internal/loggingutil"
)

// Config controls the sampling cadence.
type Config struct {
	Enabled        bool
	SampleInterval time.Duration
	LogInterval    time.Duration
}

// Snapshot captures one sampling round.
type Snapshot struct {
	RequestsInflight                int64
	UpstreamInflight                int64
	RSSBytes                        uint64
	SwapBytes                       uint64
	SystemMemoryUsedPercent         float64
	SystemMemoryIncludesReclaimable bool
	SystemSwapUsedPercent           float64
	SystemCPUPercent                float64
	SystemLoad1                     float64
	SystemLoad5                     float64
	SystemLoad15                    float64
	Goroutines                      int
	CollectedAt                     time.Time
}

// Observer tracks gateway load alongside host memory, swap, CPU and load
// averages. Readings land in the OTel meter and, at LogInterval, in the log.
type Observer struct {
	cfg     Config
	logger  pslog.Logger
	metrics *monitorMetrics
	running atomic.Bool

	requestInflight  atomic.Int64
	upstreamInflight atomic.Int64

	lastCPUTotal uint64
	lastCPUIdle  uint64
	lastLogTime  time.Time

	last atomic.Value

	wg sync.WaitGroup
}

// NewObserver constructs a system monitor.
func NewObserver(cfg Config, logger pslog.Logger) *Observer {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 10 * time.Second
	}
	if cfg.LogInterval < 0 {
		cfg.LogInterval = 0
	}
	logger = loggingutil.EnsureLogger(logger)
	o := &Observer{
		cfg:    cfg,
		logger: logger.With("sys", "control.sysmon"),
	}
	if cfg.Enabled {
		o.metrics = newMonitorMetrics(o.logger)
	}
	return o
}

// Start launches the sampling loop. Safe to call multiple times; only the
// first call starts the loop.
func (o *Observer) Start(ctx context.Context) {
	if !o.cfg.Enabled {
		return
	}
	if !o.running.CompareAndSwap(false, true) {
		return
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(ctx)
	}()
}

// Wait blocks until the sampling loop has exited.
func (o *Observer) Wait() {
	o.wg.Wait()
}

// BeginRequest records an in-flight gateway request and returns a closure
// that must be invoked on completion.
func (o *Observer) BeginRequest() func() {
	if o == nil || !o.cfg.Enabled {
		return func() {}
	}
	o.requestInflight.Add(1)
	return func() {
		o.requestInflight.Add(-1)
	}
}

// BeginUpstreamCall records an in-flight upstream RPC and returns a
// completion callback.
func (o *Observer) BeginUpstreamCall() func() {
	if o == nil || !o.cfg.Enabled {
		return func() {}
	}
	o.upstreamInflight.Add(1)
	return func() {
		o.upstreamInflight.Add(-1)
	}
}

// Latest returns the most recent snapshot, if any.
func (o *Observer) Latest() (Snapshot, bool) {
	raw := o.last.Load()
	if raw == nil {
		return Snapshot{}, false
	}
	snapshot, ok := raw.(Snapshot)
	return snapshot, ok
}

func (o *Observer) run(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			o.sample(now)
		}
	}
}

func (o *Observer) sample(ts time.Time) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	rss := mem.Sys
	if v, err := readRSSBytes(); err == nil && v > 0 {
		rss = v
	}
	var sys systemUsage
	if gathered, err := gatherSystemUsage(); err == nil {
		sys = gathered
	}
	cpuPercent := o.systemCPUPercent()

	snapshot := Snapshot{
		RequestsInflight:                o.requestInflight.Load(),
		UpstreamInflight:                o.upstreamInflight.Load(),
		RSSBytes:                        rss,
		SwapBytes:                       sys.swapBytes,
		SystemMemoryUsedPercent:         sys.memoryPercent,
		SystemMemoryIncludesReclaimable: sys.memoryIncludesReclaimable,
		SystemSwapUsedPercent:           sys.swapPercent,
		SystemCPUPercent:                cpuPercent,
		SystemLoad1:                     sys.load1,
		SystemLoad5:                     sys.load5,
		SystemLoad15:                    sys.load15,
		Goroutines:                      runtime.NumGoroutine(),
		CollectedAt:                     ts,
	}
	o.last.Store(snapshot)
	o.metrics.recordSample(context.Background(), snapshot)
	if o.cfg.LogInterval > 0 && (o.lastLogTime.IsZero() || ts.Sub(o.lastLogTime) >= o.cfg.LogInterval) {
		o.logger.Debug("sysmon.sample",
			"requests_inflight", snapshot.RequestsInflight,
			"upstream_inflight", snapshot.UpstreamInflight,
			"rss_bytes", snapshot.RSSBytes,
			"swap_bytes", snapshot.SwapBytes,
			"system_memory_percent", snapshot.SystemMemoryUsedPercent,
			"system_memory_includes_reclaimable", snapshot.SystemMemoryIncludesReclaimable,
			"system_swap_percent", snapshot.SystemSwapUsedPercent,
			"system_cpu_percent", snapshot.SystemCPUPercent,
			"system_load1", snapshot.SystemLoad1,
			"system_load5", snapshot.SystemLoad5,
			"system_load15", snapshot.SystemLoad15,
			"goroutines", snapshot.Goroutines,
		)
		o.lastLogTime = ts
	}
}

func (o *Observer) systemCPUPercent() float64 {
	total, idle, err := readSystemCPUStat()
	if err != nil {
		return 0
	}
	if o.lastCPUTotal == 0 && o.lastCPUIdle == 0 {
		o.lastCPUTotal = total
		o.lastCPUIdle = idle
		return 0
	}
	deltaTotal := total - o.lastCPUTotal
	deltaIdle := idle - o.lastCPUIdle
	o.lastCPUTotal = total
	o.lastCPUIdle = idle
	if deltaTotal == 0 || deltaTotal < deltaIdle {
		return 0
	}
	return (float64(deltaTotal-deltaIdle) / float64(deltaTotal)) * 100
}

type systemUsage struct {
	memoryPercent             float64
	memoryIncludesReclaimable bool
	swapPercent               float64
	swapBytes                 uint64
	load1                     float64
	load5                     float64
	load15                    float64
}

type meminfo struct {
	totalBytes              uint64
	availableBytes          uint64
	includesReclaimableData bool
}

func readRSSBytes() (uint64, error) {
	f, err := os.Open("/proc/self/statm")
	if err != nil {
		return 0, err
	}
	defer f.Close()
	reader := bufio.NewReader(f)
	line, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return 0, err
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, errors.New("unexpected statm contents")
	}
	pages, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, err
	}
	return pages * uint64(os.Getpagesize()), nil
}

func readMeminfo() (meminfo, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return meminfo{}, err
	}
	defer f.Close()
	return parseMeminfo(f)
}

func parseMeminfo(r io.Reader) (meminfo, error) {
	scanner := bufio.NewScanner(r)
	fields := make(map[string]uint64)
	for scanner.Scan() {
		text := scanner.Text()
		if text == "" {
			continue
		}
		parts := strings.Fields(text)
		if len(parts) < 2 {
			continue
		}
		name := strings.TrimSuffix(parts[0], ":")
		value, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			continue
		}
		fields[name] = value
	}
	if err := scanner.Err(); err != nil {
		return meminfo{}, err
	}
	totalKB, ok := fields["MemTotal"]
	if !ok || totalKB == 0 {
		return meminfo{}, errors.New("meminfo missing MemTotal")
	}
	totalBytes := totalKB * 1024
	if availKB, ok := fields["MemAvailable"]; ok && availKB > 0 {
		return meminfo{
			totalBytes:              totalBytes,
			availableBytes:          min(availKB*1024, totalBytes),
			includesReclaimableData: true,
		}, nil
	}

	// Older kernels lack MemAvailable; estimate it the way free(1) used to.
	memFreeKB := fields["MemFree"]
	buffersKB := fields["Buffers"]
	cachedKB := fields["Cached"]
	sreclaimableKB := fields["SReclaimable"]
	shmemKB := fields["Shmem"]

	availableKB := int64(memFreeKB) + int64(buffersKB) + int64(cachedKB) + int64(sreclaimableKB) - int64(shmemKB)
	if availableKB < 0 {
		availableKB = 0
	}

	return meminfo{
		totalBytes:              totalBytes,
		availableBytes:          min(uint64(availableKB)*1024, totalBytes),
		includesReclaimableData: buffersKB > 0 || cachedKB > 0 || sreclaimableKB > 0,
	}, nil
}

func gatherSystemUsage() (systemUsage, error) {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return systemUsage{}, err
	}
	memoryIncludesReclaimable := false
	unit := uint64(si.Unit)
	if unit == 0 {
		unit = 1
	}
	totalRAM := uint64(si.Totalram) * unit
	if totalRAM == 0 {
		return systemUsage{}, errors.New("sysinfo: totalram reported as zero")
	}
	freeRAM := uint64(si.Freeram) * unit
	bufferRAM := uint64(si.Bufferram) * unit
	available := min(freeRAM+bufferRAM, totalRAM)
	if mi, err := readMeminfo(); err == nil && mi.totalBytes > 0 && mi.availableBytes > 0 {
		totalRAM = mi.totalBytes
		available = min(mi.availableBytes, totalRAM)
		memoryIncludesReclaimable = mi.includesReclaimableData
	}
	memoryUsed := 1 - float64(available)/float64(totalRAM)
	if memoryUsed < 0 {
		memoryUsed = 0
	}
	if memoryUsed > 1 {
		memoryUsed = 1
	}

	totalSwap := uint64(si.Totalswap) * unit
	freeSwap := uint64(si.Freeswap) * unit
	swapUsed := uint64(0)
	swapPercent := 0.0
	if totalSwap > 0 {
		if freeSwap > totalSwap {
			freeSwap = totalSwap
		}
		swapUsed = totalSwap - freeSwap
		swapPercent = float64(swapUsed) / float64(totalSwap) * 100
	}

	const loadScale = 65536.0

	return systemUsage{
		memoryPercent:             memoryUsed * 100,
		memoryIncludesReclaimable: memoryIncludesReclaimable,
		swapPercent:               swapPercent,
		swapBytes:                 swapUsed,
		load1:                     float64(si.Loads[0]) / loadScale,
		load5:                     float64(si.Loads[1]) / loadScale,
		load15:                    float64(si.Loads[2]) / loadScale,
	}, nil
}

func readSystemCPUStat() (uint64, uint64, error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	if scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 || fields[0] != "cpu" {
			return 0, 0, errors.New("unexpected /proc/stat format")
		}
		var values []uint64
		for _, field := range fields[1:] {
			val, err := strconv.ParseUint(field, 10, 64)
			if err != nil {
				return 0, 0, err
			}
			values = append(values, val)
		}
		var idle uint64
		if len(values) >= 4 {
			idle = values[3]
		}
		total := uint64(0)
		for _, v := range values {
			total += v
		}
		return total, idle, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, 0, err
	}
	return 0, 0, errors.New("no cpu line in /proc/stat")
}
