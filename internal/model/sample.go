// Package model holds the raw per-source readings produced by a metrics
// source before they are folded into series and process tables.
package model

import (
	"strconv"
	"time"
)

// Source names one logical category of OS metric.
type Source string

const (
	SourceCPU     Source = "cpu"
	SourceMemory  Source = "memory"
	SourceDisk    Source = "disk"
	SourceNetwork Source = "network"
	SourceProcess Source = "process"
	SourceTemp    Source = "temperature"
	SourceGPU     Source = "gpu"
	SourceBattery Source = "battery"
)

// AllSources lists every source in display order.
var AllSources = []Source{
	SourceCPU, SourceMemory, SourceDisk, SourceNetwork,
	SourceProcess, SourceTemp, SourceGPU, SourceBattery,
}

// CPU aggregates instantaneous CPU usage.
type CPU struct {
	Total   float64   // percent 0-100
	PerCore []float64 // per-core percent
	Load1   float64
	Load5   float64
	Load15  float64
}

// Memory captures RAM and swap usage in bytes for precision.
type Memory struct {
	UsedBytes      uint64
	TotalBytes     uint64
	AvailableBytes uint64
	SwapUsed       uint64
	SwapTotal      uint64
	Cached         uint64
	Buffers        uint64
}

// UsedPercent returns RAM usage in the 0-100 range.
func (m Memory) UsedPercent() float64 { return Percent(m.UsedBytes, m.TotalBytes) }

// SwapPercent returns swap usage in the 0-100 range.
func (m Memory) SwapPercent() float64 { return Percent(m.SwapUsed, m.SwapTotal) }

// Disk is one mounted block device: capacity plus throughput.
// Rates are zero on the first observation of a device.
type Disk struct {
	Name          string
	Mount         string
	TotalBytes    uint64
	UsedBytes     uint64
	FreeBytes     uint64
	ReadBytesSec  float64
	WriteBytesSec float64
}

// UsedPercent returns capacity usage in the 0-100 range.
func (d Disk) UsedPercent() float64 { return Percent(d.UsedBytes, d.TotalBytes) }

// NetInterface captures per-interface throughput and lifetime counters.
type NetInterface struct {
	Name        string
	RxBytesSec  float64
	TxBytesSec  float64
	RxTotal     uint64
	TxTotal     uint64
	HasBaseline bool // false on first observation, rates are zero
}

// GPU holds a single device snapshot.
type GPU struct {
	Name       string
	Util       float64 // percent
	MemUsedMB  float64
	MemTotalMB float64
	TempC      float64
}

// Battery shows power state.
type Battery struct {
	Percent          float64
	State            string
	SecondsRemaining int64
}

// Temp is a thermal sensor reading in Celsius.
type Temp struct {
	Sensor   string
	Celsius  float64
	High     float64
	Critical float64
}

// UniqueSensors returns a copy of temps in which repeated sensor names get a
// numeric suffix ("acpitz", "acpitz_2", ...) so each reading keeps its own id.
// Order is preserved.
func UniqueSensors(temps []Temp) []Temp {
	if temps == nil {
		return nil
	}
	out := make([]Temp, len(temps))
	seen := make(map[string]int, len(temps))
	for _, t := range temps {
		seen[t.Sensor] = 0
	}
	for i, t := range temps {
		n := seen[t.Sensor] + 1
		seen[t.Sensor] = n
		if n > 1 {
			name := t.Sensor + "_" + strconv.Itoa(n)
			for {
				if _, taken := seen[name]; !taken {
					break
				}
				n++
				name = t.Sensor + "_" + strconv.Itoa(n)
			}
			seen[t.Sensor] = n
			seen[name] = 1
			t.Sensor = name
		}
		out[i] = t
	}
	return out
}

// Process is one raw process row as read from the OS. Values may be out of
// range when a read races with process exit; the process table clamps them.
type Process struct {
	PID           int32
	PPID          int32
	HasParent     bool
	Name          string
	Command       string
	User          string
	State         string
	CPU           float64 // percent of one core, or of all cores when configured
	MemBytes      int64
	ReadBytesSec  float64
	WriteBytesSec float64
}

// RawMetrics is the result of one poll cycle. A nil field means the source
// produced nothing this cycle.
type RawMetrics struct {
	Timestamp time.Time
	CPU       *CPU
	Memory    *Memory
	Disks     []Disk
	Network   []NetInterface
	Processes []Process
	Temps     []Temp
	GPUs      []GPU
	Battery   *Battery

	// Present records which slice-valued sources succeeded, so an empty
	// successful read is distinguishable from a failed one.
	Present map[Source]bool
}

// Has reports whether source s produced data this cycle.
func (r RawMetrics) Has(s Source) bool {
	switch s {
	case SourceCPU:
		return r.CPU != nil
	case SourceMemory:
		return r.Memory != nil
	case SourceBattery:
		return r.Battery != nil
	}
	return r.Present[s]
}

// Mark records that slice-valued source s succeeded.
func (r *RawMetrics) Mark(s Source) {
	if r.Present == nil {
		r.Present = make(map[Source]bool)
	}
	r.Present[s] = true
}

// Percent returns used/total scaled to 0-100, or 0 when total is zero.
func Percent(used, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(used) * 100 / float64(total)
}
