package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Dicklesworthstone/sysmoni/internal/config"
)

// bindFlags registers every setting as a flag and binds it to the viper key
// of the same name, so an unset flag falls through to env, file and default.
func bindFlags(cmd *cobra.Command, v *viper.Viper) {
	d := config.Default()
	f := cmd.Flags()

	f.String(config.KeyConfig, "", "config file (default $XDG_CONFIG_HOME/sysmoni/config.yaml)")

	f.String(config.KeyInterval, d.PollInterval.String(), "poll interval (e.g. 500ms, 2s; bare numbers are seconds)")
	f.String(config.KeyRenderInterval, d.RenderInterval.String(), "dashboard redraw interval")
	f.String(config.KeyRetention, d.Retention.String(), "history kept per series")
	f.Int(config.KeyMaxSamples, d.MaxSamples, "hard cap on samples per series")
	f.Int(config.KeyDebounce, d.Debounce, "missed polls before a process row is dropped")
	f.String(config.KeyShutdownGrace, d.ShutdownGrace.String(), "time an in-flight poll gets on exit")

	f.StringP(config.KeySort, "s", d.SortKey, "sort column: cpu, mem, pid, name, read, write, state")
	f.String(config.KeySortDirection, d.SortDirection, "sort direction: asc or desc")
	f.StringP(config.KeyFilter, "f", "", "initial process filter")
	f.Bool(config.KeyFilterRegex, false, "treat --filter as a regular expression")
	f.Bool(config.KeyFilterFuzzy, false, "fuzzy-match --filter")
	f.Bool(config.KeyFilterCase, false, "case-sensitive filtering")
	f.Bool(config.KeyFilterCommand, false, "match the filter against the full command line too")
	f.Bool(config.KeyGroup, false, "group processes by name")
	f.Bool(config.KeyTree, false, "show the process tree")

	f.String(config.KeyTempUnit, d.TemperatureUnit, "temperature unit: c, f or k")
	f.Bool(config.KeyCPUTotalRelative, false, "scale process cpu to all cores instead of one")
	f.Bool(config.KeyGPU, d.EnableGPU, "collect NVIDIA GPU metrics via nvidia-smi")
	f.Bool(config.KeyBattery, d.EnableBatt, "collect battery state")

	f.String(config.KeyLogLevel, d.LogLevel, "log level: debug, info, warn, error")
	f.String(config.KeyLogFile, "", "log file (dashboard default $XDG_STATE_HOME/sysmoni/sysmoni.log, export modes log to stderr)")

	f.Bool(config.KeyJSON, false, "print one snapshot and exit")
	f.Bool(config.KeyJSONStream, false, "print one JSON line per poll until interrupted")
	f.String(config.KeyFormat, d.Format, "one-shot format: json or yaml")

	cmd.MarkFlagsMutuallyExclusive(config.KeyJSON, config.KeyJSONStream)
	cmd.MarkFlagsMutuallyExclusive(config.KeyFilterRegex, config.KeyFilterFuzzy)

	_ = v.BindPFlags(f)
}
