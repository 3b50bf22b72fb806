package proctable

import (
	"github.com/samber/lo"
)

// GroupByName collapses records sharing a name into one row whose resource
// columns are the sums of its members. Rows keep the order in which each
// name first appears. A grouped row takes the lowest member pid as its PID.
func GroupByName(records []Record) []Record {
	groups := lo.GroupBy(records, func(r Record) string { return r.Name })
	names := lo.Uniq(lo.Map(records, func(r Record, _ int) string { return r.Name }))

	return lo.Map(names, func(name string, _ int) Record {
		members := groups[name]
		pids := lo.Map(members, func(r Record, _ int) int32 { return r.PID })
		sortPIDs(pids)

		row := Record{
			PID:     pids[0],
			Name:    name,
			Command: name,
			Count:   len(members),
			PIDs:    pids,
			Status:  StatusActive,
		}
		states := lo.Uniq(lo.Map(members, func(r Record, _ int) string { return r.State }))
		if len(states) == 1 {
			row.State = states[0]
		}
		for _, m := range members {
			row.CPU += m.CPU
			row.MemBytes += m.MemBytes
			row.ReadBytesSec += m.ReadBytesSec
			row.WriteBytesSec += m.WriteBytesSec
			row.Flags |= m.Flags
		}
		if lo.EveryBy(members, func(r Record) bool { return r.Status == StatusStale }) {
			row.Status = StatusStale
		}
		return row
	})
}
