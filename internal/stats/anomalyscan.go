package stats

import (
	"math"

	"github.com/paiml/renacer/internal/model"
)

// minScanSamples is the smallest window the post-hoc scan will score;
// below it a single outlier dominates the baseline.
const minScanSamples = 10

// ScanAnomalies walks the recorded durations of every syscall and reports
// observations at least threshold standard deviations from that syscall's
// mean. A zero stddev (all observations identical) reports nothing rather
// than dividing by zero.
func (t *Tracker) ScanAnomalies(threshold float64) []model.Anomaly {
	var out []model.Anomaly
	for _, name := range t.Names() {
		durations := t.Durations(name)
		if len(durations) < minScanSamples {
			continue
		}
		mean := Mean(durations)
		stddev := StdDev(durations)
		if stddev == 0 {
			continue
		}
		for _, d := range durations {
			z := (d - mean) / stddev
			if math.Abs(z) >= threshold {
				out = append(out, model.Anomaly{
					Syscall:  name,
					Duration: d,
					ZScore:   z,
					Mean:     mean,
					StdDev:   stddev,
					Severity: model.ClassifySeverity(math.Abs(z)),
				})
			}
		}
	}
	return out
}
