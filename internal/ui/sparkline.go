package ui

import (
	"strings"

	"github.com/Dicklesworthstone/sysmoni/internal/series"
)

// sparklineBlocks are block characters for 8-level vertical resolution (lowest to highest).
var sparklineBlocks = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// sparkline renders the last width samples of a series. Gaps render as a
// blank cell so a missing poll is visible as a break. Percent series use a
// fixed 0-100 scale, other series scale to their own maximum.
func sparkline(samples []series.Sample, width int, percent bool) string {
	if width <= 0 {
		return ""
	}
	if len(samples) > width {
		samples = samples[len(samples)-width:]
	}

	maxVal := 100.0
	if !percent {
		maxVal = 0
		for _, s := range samples {
			if !s.Gap && s.Value > maxVal {
				maxVal = s.Value
			}
		}
	}

	var b strings.Builder
	b.Grow(width * 3)
	for i := len(samples); i < width; i++ {
		b.WriteRune(' ')
	}
	for _, s := range samples {
		if s.Gap {
			b.WriteRune(' ')
			continue
		}
		level := 0
		if maxVal > 0 {
			level = int(s.Value / maxVal * float64(len(sparklineBlocks)-1))
		}
		if level < 0 {
			level = 0
		}
		if level >= len(sparklineBlocks) {
			level = len(sparklineBlocks) - 1
		}
		b.WriteRune(sparklineBlocks[level])
	}
	return b.String()
}
