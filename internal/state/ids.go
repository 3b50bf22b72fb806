package state

import (
	"fmt"
	"strings"

	"github.com/Dicklesworthstone/sysmoni/internal/model"
	"github.com/Dicklesworthstone/sysmoni/internal/series"
)

// Series ids are slash-separated: "<source prefix>/<instance>/<metric>".
const (
	CPUTotal    series.SourceID = "cpu/total"
	MemUsedPct  series.SourceID = "mem/used_pct"
	SwapUsedPct series.SourceID = "swap/used_pct"
	NetTotalRx  series.SourceID = "net/total/rx"
	NetTotalTx  series.SourceID = "net/total/tx"
	BatteryPct  series.SourceID = "battery/pct"
)

func CPUCore(i int) series.SourceID { return series.SourceID(fmt.Sprintf("cpu/%d", i)) }

func NetRx(iface string) series.SourceID { return series.SourceID("net/" + iface + "/rx") }
func NetTx(iface string) series.SourceID { return series.SourceID("net/" + iface + "/tx") }

func DiskRead(name string) series.SourceID  { return series.SourceID("disk/" + name + "/read") }
func DiskWrite(name string) series.SourceID { return series.SourceID("disk/" + name + "/write") }

func Temp(sensor string) series.SourceID { return series.SourceID("temp/" + sensor) }

func GPUUtil(i int) series.SourceID { return series.SourceID(fmt.Sprintf("gpu/%d/util", i)) }

// seriesPrefixes maps each source to the id prefixes it owns.
var seriesPrefixes = map[model.Source][]string{
	model.SourceCPU:     {"cpu/"},
	model.SourceMemory:  {"mem/", "swap/"},
	model.SourceDisk:    {"disk/"},
	model.SourceNetwork: {"net/"},
	model.SourceTemp:    {"temp/"},
	model.SourceGPU:     {"gpu/"},
	model.SourceBattery: {"battery/"},
}

// OwnedBy reports whether id belongs to source src.
func OwnedBy(id series.SourceID, src model.Source) bool {
	for _, p := range seriesPrefixes[src] {
		if strings.HasPrefix(string(id), p) {
			return true
		}
	}
	return false
}
