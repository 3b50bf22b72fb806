// Package sampler reads OS metrics through gopsutil and sysfs and turns raw
// counters into rates before they leave the adapter.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Dicklesworthstone/sysmoni/internal/model"
)

// ErrNoSources is returned by NewSystem when neither CPU nor memory can be read.
var ErrNoSources = errors.New("no supported metrics source")

// Options tunes the system sampler.
type Options struct {
	EnableGPU        bool
	EnableBatt       bool
	CPUTotalRelative bool // divide process CPU% by the core count
	Logger           *zap.Logger
}

// System samples the local host. Each source keeps its own previous counters
// and timestamp so a failed read on one source does not skew another's rates.
type System struct {
	mu     sync.Mutex
	opts   Options
	logger *zap.Logger
	numCPU int

	// Sources this platform cannot provide; never polled again.
	unavailable map[model.Source]error

	prevTotal float64
	prevIdle  float64
	prevCore  []cpu.TimesStat

	prevDisk   map[string]disk.IOCountersStat
	prevDiskAt time.Time

	prevNet   map[string]net.IOCountersStat
	prevNetAt time.Time

	procs      map[int32]*process.Process
	prevProcIO map[int32]procIO
	prevProcAt time.Time
}

type procIO struct {
	read  uint64
	write uint64
}

// NewSystem inspects the host and primes rate baselines. Optional sources that
// are missing are marked unavailable. It fails only when no core source
// works at all.
func NewSystem(ctx context.Context, opts Options) (*System, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &System{
		opts:        opts,
		logger:      logger,
		numCPU:      runtime.NumCPU(),
		unavailable: make(map[model.Source]error),
		prevDisk:    make(map[string]disk.IOCountersStat),
		prevNet:     make(map[string]net.IOCountersStat),
		procs:       make(map[int32]*process.Process),
		prevProcIO:  make(map[int32]procIO),
	}

	_, cpuErr := s.readCPU(ctx)
	_, memErr := readMemory(ctx)
	if cpuErr != nil && memErr != nil {
		return nil, fmt.Errorf("%w: cpu: %v; memory: %v", ErrNoSources, cpuErr, memErr)
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		s.numCPU = n
	}
	_, _ = s.readDisks(ctx)
	_, _ = s.readNetwork(ctx)
	// Per-process cpu and io rates need a previous reading too.
	_, _ = s.readProcesses(ctx)

	if temps, err := s.readTemps(ctx); err != nil || len(temps) == 0 {
		s.markUnavailable(model.SourceTemp, err)
	}
	if opts.EnableGPU && !gpuAvailable() {
		s.markUnavailable(model.SourceGPU, errors.New("nvidia-smi not found"))
	}
	if opts.EnableBatt && !batteryAvailable() {
		s.markUnavailable(model.SourceBattery, errors.New("no battery in /sys/class/power_supply"))
	}
	return s, nil
}

func (s *System) markUnavailable(src model.Source, cause error) {
	err := ErrUnavailable
	if cause != nil {
		err = fmt.Errorf("%w: %v", ErrUnavailable, cause)
	}
	s.unavailable[src] = err
	s.logger.Info("metrics source unavailable", zap.String("source", string(src)), zap.Error(cause))
}

// Poll reads every enabled source concurrently. Sources fail independently.
func (s *System) Poll(ctx context.Context) (model.RawMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw := model.RawMetrics{Timestamp: time.Now()}
	var (
		cpuRes  *model.CPU
		memRes  *model.Memory
		disks   []model.Disk
		nets    []model.NetInterface
		procs   []model.Process
		temps   []model.Temp
		gpus    []model.GPU
		batt    *model.Battery
		failMu  sync.Mutex
		srcErr  SourceError
		succeed = make(map[model.Source]bool)
	)

	g, gctx := errgroup.WithContext(ctx)
	run := func(src model.Source, read func(context.Context) error) {
		if err, ok := s.unavailable[src]; ok {
			failMu.Lock()
			srcErr.add(src, err)
			failMu.Unlock()
			return
		}
		g.Go(func() error {
			err := read(gctx)
			failMu.Lock()
			defer failMu.Unlock()
			if err != nil {
				srcErr.add(src, err)
				return nil
			}
			succeed[src] = true
			return nil
		})
	}

	run(model.SourceCPU, func(ctx context.Context) (err error) { cpuRes, err = s.readCPU(ctx); return })
	run(model.SourceMemory, func(ctx context.Context) (err error) { memRes, err = readMemory(ctx); return })
	run(model.SourceDisk, func(ctx context.Context) (err error) { disks, err = s.readDisks(ctx); return })
	run(model.SourceNetwork, func(ctx context.Context) (err error) { nets, err = s.readNetwork(ctx); return })
	run(model.SourceProcess, func(ctx context.Context) (err error) { procs, err = s.readProcesses(ctx); return })
	run(model.SourceTemp, func(ctx context.Context) (err error) { temps, err = s.readTemps(ctx); return })
	if s.opts.EnableGPU {
		run(model.SourceGPU, func(ctx context.Context) (err error) { gpus, err = queryGPU(ctx); return })
	}
	if s.opts.EnableBatt {
		run(model.SourceBattery, func(ctx context.Context) (err error) { batt, err = readBattery(); return })
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return model.RawMetrics{Timestamp: raw.Timestamp}, err
	}

	raw.CPU, raw.Memory, raw.Battery = cpuRes, memRes, batt
	for src := range succeed {
		switch src {
		case model.SourceDisk:
			raw.Disks = disks
		case model.SourceNetwork:
			raw.Network = nets
		case model.SourceProcess:
			raw.Processes = procs
		case model.SourceTemp:
			raw.Temps = temps
		case model.SourceGPU:
			raw.GPUs = gpus
		}
		raw.Mark(src)
	}

	if len(srcErr.Failures) == 0 {
		return raw, nil
	}
	order := make(map[model.Source]int, len(model.AllSources))
	for i, src := range model.AllSources {
		order[src] = i
	}
	sort.SliceStable(srcErr.Failures, func(i, j int) bool {
		return order[srcErr.Failures[i].Source] < order[srcErr.Failures[j].Source]
	})
	return raw, &srcErr
}

// CPU percentages from times delta.
func (s *System) readCPU(ctx context.Context) (*model.CPU, error) {
	times, err := cpu.TimesWithContext(ctx, false)
	if err != nil {
		return nil, err
	}
	if len(times) == 0 {
		return nil, errors.New("no cpu times reported")
	}
	out := &model.CPU{}
	cur := times[0]
	curTotal := cur.Total()
	curIdle := cur.Idle + cur.Iowait
	if s.prevTotal > 0 {
		dt := curTotal - s.prevTotal
		di := curIdle - s.prevIdle
		if dt > 0 {
			out.Total = clampPct(100 * (1 - di/dt))
		}
	}
	s.prevTotal, s.prevIdle = curTotal, curIdle

	coreTimes, err := cpu.TimesWithContext(ctx, true)
	if err == nil {
		out.PerCore = make([]float64, len(coreTimes))
		for i, c := range coreTimes {
			if i >= len(s.prevCore) {
				continue
			}
			prev := s.prevCore[i]
			dt := c.Total() - prev.Total()
			di := (c.Idle + c.Iowait) - (prev.Idle + prev.Iowait)
			if dt > 0 {
				out.PerCore[i] = clampPct(100 * (1 - di/dt))
			}
		}
		s.prevCore = coreTimes
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		out.Load1, out.Load5, out.Load15 = avg.Load1, avg.Load5, avg.Load15
	}
	return out, nil
}

func readMemory(ctx context.Context) (*model.Memory, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := &model.Memory{
		UsedBytes:      vm.Used,
		TotalBytes:     vm.Total,
		AvailableBytes: vm.Available,
		Cached:         vm.Cached,
		Buffers:        vm.Buffers,
	}
	if sw, err := mem.SwapMemoryWithContext(ctx); err == nil {
		out.SwapUsed, out.SwapTotal = sw.Used, sw.Total
	}
	return out, nil
}

func (s *System) readDisks(ctx context.Context) ([]model.Disk, error) {
	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, err
	}
	counters, ioErr := disk.IOCountersWithContext(ctx)
	now := time.Now()
	dt := now.Sub(s.prevDiskAt).Seconds()
	haveBaseline := !s.prevDiskAt.IsZero() && dt > 0

	seen := make(map[string]bool)
	var out []model.Disk
	for _, p := range parts {
		name := filepath.Base(p.Device)
		if strings.HasPrefix(name, "loop") || seen[name] {
			continue
		}
		usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil {
			continue
		}
		seen[name] = true
		d := model.Disk{
			Name:       name,
			Mount:      p.Mountpoint,
			TotalBytes: usage.Total,
			UsedBytes:  usage.Used,
			FreeBytes:  usage.Free,
		}
		if st, ok := counters[name]; ok && ioErr == nil {
			if prev, ok := s.prevDisk[name]; ok && haveBaseline {
				d.ReadBytesSec = rate(st.ReadBytes, prev.ReadBytes, dt)
				d.WriteBytesSec = rate(st.WriteBytes, prev.WriteBytes, dt)
			}
		}
		out = append(out, d)
	}
	if ioErr == nil {
		s.prevDisk = counters
		s.prevDiskAt = now
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *System) readNetwork(ctx context.Context) ([]model.NetInterface, error) {
	counters, err := net.IOCountersWithContext(ctx, true)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	dt := now.Sub(s.prevNetAt).Seconds()
	haveBaseline := !s.prevNetAt.IsZero() && dt > 0

	next := make(map[string]net.IOCountersStat, len(counters))
	out := make([]model.NetInterface, 0, len(counters))
	for _, c := range counters {
		next[c.Name] = c
		iface := model.NetInterface{Name: c.Name, RxTotal: c.BytesRecv, TxTotal: c.BytesSent}
		if prev, ok := s.prevNet[c.Name]; ok && haveBaseline {
			iface.RxBytesSec = rate(c.BytesRecv, prev.BytesRecv, dt)
			iface.TxBytesSec = rate(c.BytesSent, prev.BytesSent, dt)
			iface.HasBaseline = true
		}
		out = append(out, iface)
	}
	s.prevNet = next
	s.prevNetAt = now
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *System) readProcesses(ctx context.Context) ([]model.Process, error) {
	pids, err := process.PidsWithContext(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	dt := now.Sub(s.prevProcAt).Seconds()
	haveBaseline := !s.prevProcAt.IsZero() && dt > 0

	live := make(map[int32]*process.Process, len(pids))
	newProcIO := make(map[int32]procIO, len(pids))
	out := make([]model.Process, 0, len(pids))
	for _, pid := range pids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, ok := s.procs[pid]
		if !ok {
			p, err = process.NewProcessWithContext(ctx, pid)
			if err != nil {
				continue
			}
		}
		// Skip kernel threads without name
		name, err := p.NameWithContext(ctx)
		if err != nil || name == "" {
			continue
		}
		live[pid] = p

		entry := model.Process{PID: pid, Name: name}
		if ppid, err := p.PpidWithContext(ctx); err == nil && ppid > 0 {
			entry.PPID, entry.HasParent = ppid, true
		}
		if pct, err := p.PercentWithContext(ctx, 0); err == nil {
			entry.CPU = pct
			if s.opts.CPUTotalRelative && s.numCPU > 0 {
				entry.CPU /= float64(s.numCPU)
			}
		}
		if mi, err := p.MemoryInfoWithContext(ctx); err == nil && mi != nil {
			entry.MemBytes = int64(mi.RSS)
		}
		if st, err := p.StatusWithContext(ctx); err == nil && len(st) > 0 {
			entry.State = st[0]
		}
		if cmd, err := p.CmdlineWithContext(ctx); err == nil && cmd != "" {
			entry.Command = cmd
		} else {
			entry.Command = name
		}
		if user, err := p.UsernameWithContext(ctx); err == nil {
			entry.User = user
		}
		if io, err := p.IOCountersWithContext(ctx); err == nil && io != nil {
			cur := procIO{read: io.ReadBytes, write: io.WriteBytes}
			if prev, ok := s.prevProcIO[pid]; ok && haveBaseline {
				entry.ReadBytesSec = rate(cur.read, prev.read, dt)
				entry.WriteBytesSec = rate(cur.write, prev.write, dt)
			}
			newProcIO[pid] = cur
		}
		out = append(out, entry)
	}

	s.procs = live
	s.prevProcIO = newProcIO
	s.prevProcAt = now
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out, nil
}

func (s *System) readTemps(ctx context.Context) ([]model.Temp, error) {
	stats, err := host.SensorsTemperaturesWithContext(ctx)
	var out []model.Temp
	for _, st := range stats {
		if st.Temperature <= 0 {
			continue
		}
		out = append(out, model.Temp{
			Sensor:   st.SensorKey,
			Celsius:  st.Temperature,
			High:     st.High,
			Critical: st.Critical,
		})
	}
	if len(out) == 0 {
		out = thermalZones()
	}
	if len(out) == 0 && err != nil {
		if strings.Contains(err.Error(), "not implemented") {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, err
	}
	// Thermal zones and hwmon keys repeat across devices.
	out = model.UniqueSensors(out)
	sort.Slice(out, func(i, j int) bool { return out[i].Sensor < out[j].Sensor })
	return out, nil
}

// rate converts a monotonically increasing counter delta to units per
// second. Counter resets yield zero.
func rate(cur, prev uint64, dt float64) float64 {
	if cur < prev || dt <= 0 {
		return 0
	}
	return float64(cur-prev) / dt
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
