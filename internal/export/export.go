// Package export serializes snapshots for scripts: a one-shot JSON or YAML
// document, or an NDJSON stream with one line per poll cycle.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/Dicklesworthstone/sysmoni/internal/model"
	"github.com/Dicklesworthstone/sysmoni/internal/proctable"
	"github.com/Dicklesworthstone/sysmoni/internal/series"
	"github.com/Dicklesworthstone/sysmoni/internal/state"
)

// Format selects the document encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Document is the serialized form of a Snapshot.
type Document struct {
	Sequence  uint64                       `json:"sequence" yaml:"sequence"`
	Time      time.Time                    `json:"time" yaml:"time"`
	CPU       *CPU                         `json:"cpu,omitempty" yaml:"cpu,omitempty"`
	Memory    *Memory                      `json:"memory,omitempty" yaml:"memory,omitempty"`
	Disks     []Disk                       `json:"disks,omitempty" yaml:"disks,omitempty"`
	Network   *Network                     `json:"network,omitempty" yaml:"network,omitempty"`
	Temps     []Temp                       `json:"temps,omitempty" yaml:"temps,omitempty"`
	GPUs      []GPU                        `json:"gpus,omitempty" yaml:"gpus,omitempty"`
	Battery   *Battery                     `json:"battery,omitempty" yaml:"battery,omitempty"`
	Processes []Process                    `json:"processes" yaml:"processes"`
	Sources   map[string]state.SourceState `json:"sources" yaml:"sources"`
	Malformed int                          `json:"malformed_records,omitempty" yaml:"malformed_records,omitempty"`
	Scheduler state.SchedulerStats         `json:"scheduler" yaml:"scheduler"`
	Series    []series.SeriesView          `json:"series,omitempty" yaml:"series,omitempty"`
}

type CPU struct {
	Total   float64   `json:"total_pct" yaml:"total_pct"`
	PerCore []float64 `json:"per_core_pct" yaml:"per_core_pct"`
	Load    []float64 `json:"load" yaml:"load"`
}

type Memory struct {
	UsedBytes      uint64  `json:"used_bytes" yaml:"used_bytes"`
	TotalBytes     uint64  `json:"total_bytes" yaml:"total_bytes"`
	AvailableBytes uint64  `json:"available_bytes" yaml:"available_bytes"`
	UsedPct        float64 `json:"used_pct" yaml:"used_pct"`
	SwapUsedBytes  uint64  `json:"swap_used_bytes" yaml:"swap_used_bytes"`
	SwapTotalBytes uint64  `json:"swap_total_bytes" yaml:"swap_total_bytes"`
}

type Disk struct {
	Name          string  `json:"name" yaml:"name"`
	Mount         string  `json:"mount" yaml:"mount"`
	UsedBytes     uint64  `json:"used_bytes" yaml:"used_bytes"`
	TotalBytes    uint64  `json:"total_bytes" yaml:"total_bytes"`
	UsedPct       float64 `json:"used_pct" yaml:"used_pct"`
	ReadBytesSec  float64 `json:"read_bps" yaml:"read_bps"`
	WriteBytesSec float64 `json:"write_bps" yaml:"write_bps"`
}

type Interface struct {
	Name       string  `json:"name" yaml:"name"`
	RxBytesSec float64 `json:"rx_bps" yaml:"rx_bps"`
	TxBytesSec float64 `json:"tx_bps" yaml:"tx_bps"`
	RxTotal    uint64  `json:"rx_total" yaml:"rx_total"`
	TxTotal    uint64  `json:"tx_total" yaml:"tx_total"`
}

type Network struct {
	RxBytesSec float64     `json:"rx_bps" yaml:"rx_bps"`
	TxBytesSec float64     `json:"tx_bps" yaml:"tx_bps"`
	Interfaces []Interface `json:"interfaces" yaml:"interfaces"`
}

type Temp struct {
	Sensor string  `json:"sensor" yaml:"sensor"`
	Value  float64 `json:"value" yaml:"value"`
	Unit   string  `json:"unit" yaml:"unit"`
}

type GPU struct {
	Name       string  `json:"name" yaml:"name"`
	UtilPct    float64 `json:"util_pct" yaml:"util_pct"`
	MemUsedMB  float64 `json:"mem_used_mb" yaml:"mem_used_mb"`
	MemTotalMB float64 `json:"mem_total_mb" yaml:"mem_total_mb"`
	TempC      float64 `json:"temp_c" yaml:"temp_c"`
}

type Battery struct {
	Percent float64 `json:"pct" yaml:"pct"`
	State   string  `json:"state" yaml:"state"`
}

type Process struct {
	PID           int32   `json:"pid" yaml:"pid"`
	PPID          *int32  `json:"ppid,omitempty" yaml:"ppid,omitempty"`
	Name          string  `json:"name" yaml:"name"`
	Command       string  `json:"command,omitempty" yaml:"command,omitempty"`
	User          string  `json:"user,omitempty" yaml:"user,omitempty"`
	State         string  `json:"state,omitempty" yaml:"state,omitempty"`
	CPU           float64 `json:"cpu_pct" yaml:"cpu_pct"`
	MemBytes      uint64  `json:"mem_bytes" yaml:"mem_bytes"`
	ReadBytesSec  float64 `json:"read_bps" yaml:"read_bps"`
	WriteBytesSec float64 `json:"write_bps" yaml:"write_bps"`
	Stale         bool    `json:"stale,omitempty" yaml:"stale,omitempty"`
	Malformed     bool    `json:"malformed,omitempty" yaml:"malformed,omitempty"`
	Count         int     `json:"count,omitempty" yaml:"count,omitempty"`
}

// Options tunes what goes into a Document.
type Options struct {
	Unit       model.TempUnit
	WithSeries bool
	MaxProcs   int // zero means all rows
}

// Build converts a snapshot into a Document.
func Build(snap *state.Snapshot, opts Options) Document {
	doc := Document{
		Sequence:  snap.Sequence,
		Time:      snap.Time,
		Malformed: snap.Malformed,
		Scheduler: snap.Scheduler,
		Sources: lo.MapKeys(snap.Sources, func(_ state.SourceState, k model.Source) string {
			return string(k)
		}),
	}
	if c := snap.CPU; c != nil {
		doc.CPU = &CPU{Total: c.Total, PerCore: c.PerCore, Load: []float64{c.Load1, c.Load5, c.Load15}}
	}
	if m := snap.Memory; m != nil {
		doc.Memory = &Memory{
			UsedBytes:      m.UsedBytes,
			TotalBytes:     m.TotalBytes,
			AvailableBytes: m.AvailableBytes,
			UsedPct:        m.UsedPercent(),
			SwapUsedBytes:  m.SwapUsed,
			SwapTotalBytes: m.SwapTotal,
		}
	}
	doc.Disks = lo.Map(snap.Disks, func(d model.Disk, _ int) Disk {
		return Disk{
			Name: d.Name, Mount: d.Mount,
			UsedBytes: d.UsedBytes, TotalBytes: d.TotalBytes, UsedPct: d.UsedPercent(),
			ReadBytesSec: d.ReadBytesSec, WriteBytesSec: d.WriteBytesSec,
		}
	})
	if snap.Network != nil {
		rx, tx := snap.NetTotals()
		doc.Network = &Network{
			RxBytesSec: rx,
			TxBytesSec: tx,
			Interfaces: lo.Map(snap.Network, func(n model.NetInterface, _ int) Interface {
				return Interface{Name: n.Name, RxBytesSec: n.RxBytesSec, TxBytesSec: n.TxBytesSec, RxTotal: n.RxTotal, TxTotal: n.TxTotal}
			}),
		}
	}
	doc.Temps = lo.Map(snap.Temps, func(t model.Temp, _ int) Temp {
		return Temp{Sensor: t.Sensor, Value: opts.Unit.Convert(t.Celsius), Unit: opts.Unit.Symbol()}
	})
	doc.GPUs = lo.Map(snap.GPUs, func(g model.GPU, _ int) GPU {
		return GPU{Name: g.Name, UtilPct: g.Util, MemUsedMB: g.MemUsedMB, MemTotalMB: g.MemTotalMB, TempC: g.TempC}
	})
	if b := snap.Battery; b != nil {
		doc.Battery = &Battery{Percent: b.Percent, State: b.State}
	}

	rows := snap.Rows
	if opts.MaxProcs > 0 && len(rows) > opts.MaxProcs {
		rows = rows[:opts.MaxProcs]
	}
	doc.Processes = lo.Map(rows, func(r proctable.Record, _ int) Process {
		p := Process{
			PID: r.PID, Name: r.Name, Command: r.Command, User: r.User, State: r.State,
			CPU: r.CPU, MemBytes: r.MemBytes, ReadBytesSec: r.ReadBytesSec, WriteBytesSec: r.WriteBytesSec,
			Stale: r.Status == proctable.StatusStale, Malformed: r.Malformed(), Count: r.Count,
		}
		if r.HasParent && r.Count == 0 {
			ppid := r.PPID
			p.PPID = &ppid
		}
		return p
	})

	if opts.WithSeries {
		doc.Series = lo.Map(snap.SeriesIDs(), func(id series.SourceID, _ int) series.SeriesView {
			return snap.Series[id]
		})
	}
	return doc
}

// Write encodes one snapshot to w.
func Write(w io.Writer, snap *state.Snapshot, format Format, opts Options) error {
	doc := Build(snap, opts)
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		return nil
	}
	return fmt.Errorf("unknown export format %q", format)
}

// Source yields successive snapshots. *engine.Engine and
// *state.Coordinator satisfy it.
type Source interface {
	Wait(ctx context.Context, after uint64) (*state.Snapshot, error)
}

// Stream writes one compact JSON line per new poll cycle until ctx is done.
// Cycles published faster than w accepts them are skipped, never queued.
func Stream(ctx context.Context, src Source, w io.Writer, opts Options) error {
	enc := json.NewEncoder(w)
	var last uint64
	for {
		snap, err := src.Wait(ctx, last)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		last = snap.Sequence
		if err := enc.Encode(Build(snap, opts)); err != nil {
			return fmt.Errorf("write stream: %w", err)
		}
	}
}
