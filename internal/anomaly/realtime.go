// Package anomaly implements real-time anomaly detection over the
// admitted record stream. Each syscall keeps a sliding window of recent
// durations; incoming observations are scored against the window's
// mean and standard deviation before being folded in, so a spike is
// judged by the baseline it deviates from, not one it already polluted.
package anomaly

import (
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/paiml/renacer/internal/diag"
	"github.com/paiml/renacer/internal/model"
	"github.com/paiml/renacer/internal/stats"
)

// DefaultWindowSize is the ring capacity per syscall.
const DefaultWindowSize = 100

// DefaultThreshold is the Z-score alert threshold.
const DefaultThreshold = 3.0

// minSamples gates detection until the baseline is meaningful.
const minSamples = 10

// baseline is the ring of recent durations for one syscall.
type baseline struct {
	window []float64
	next   int
	filled bool
}

func (b *baseline) observations() []float64 {
	if b.filled {
		return b.window
	}
	return b.window[:b.next]
}

func (b *baseline) append(d float64) {
	if len(b.window) == 0 {
		return
	}
	b.window[b.next] = d
	b.next++
	if b.next == len(b.window) {
		b.next = 0
		b.filled = true
	}
}

// Detector scores each admitted record in real time.
type Detector struct {
	windowSize int
	threshold  float64
	baselines  map[string]*baseline
	history    []model.Anomaly
	alerts     io.Writer
}

// NewDetector builds a Detector. alerts receives one line per anomaly;
// pass nil to collect silently.
func NewDetector(windowSize int, threshold float64, alerts io.Writer) *Detector {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Detector{
		windowSize: windowSize,
		threshold:  threshold,
		baselines:  make(map[string]*baseline),
		alerts:     alerts,
	}
}

// Observe scores one record against its syscall's baseline and then folds
// the observation into the window. Returns the anomaly when one fired.
func (d *Detector) Observe(rec *model.SyscallRecord) *model.Anomaly {
	b, ok := d.baselines[rec.Name]
	if !ok {
		b = &baseline{window: make([]float64, d.windowSize)}
		d.baselines[rec.Name] = b
	}

	duration := rec.DurationMicros()
	obs := b.observations()

	var fired *model.Anomaly
	if len(obs) >= minSamples {
		mean := stats.Mean(obs)
		stddev := stats.StdDev(obs)
		if stddev > 0 {
			z := (duration - mean) / stddev
			if math.Abs(z) >= d.threshold {
				a := model.Anomaly{
					Syscall:  rec.Name,
					Duration: duration,
					ZScore:   z,
					Mean:     mean,
					StdDev:   stddev,
					Severity: model.ClassifySeverity(math.Abs(z)),
				}
				d.history = append(d.history, a)
				fired = &a
				if d.alerts != nil {
					fmt.Fprintf(d.alerts, "[renacer: anomaly: %s]\n", a)
				}
			}
		}
	}

	b.append(duration)
	return fired
}

// History returns every anomaly seen this session, in arrival order.
func (d *Detector) History() []model.Anomaly {
	return d.history
}

// WriteReport emits the shutdown report: total count, severity
// distribution, and the top 10 anomalies by |z| with their baselines.
func (d *Detector) WriteReport(w io.Writer) error {
	if len(d.history) == 0 {
		_, err := fmt.Fprintf(w, "No anomalies detected.\n")
		return err
	}

	counts := map[model.Severity]int{}
	for _, a := range d.history {
		counts[a.Severity]++
	}
	if _, err := fmt.Fprintf(w, "Anomalies: %d total (high=%d medium=%d low=%d)\n",
		len(d.history), counts[model.SeverityHigh], counts[model.SeverityMedium],
		counts[model.SeverityLow]); err != nil {
		return err
	}

	top := make([]model.Anomaly, len(d.history))
	copy(top, d.history)
	sort.Slice(top, func(i, j int) bool {
		return math.Abs(top[i].ZScore) > math.Abs(top[j].ZScore)
	})
	if len(top) > 10 {
		top = top[:10]
	}
	for i, a := range top {
		if _, err := fmt.Fprintf(w, "  %2d. %s\n", i+1, a); err != nil {
			return err
		}
	}
	return nil
}

// LogSummary mirrors the report's headline onto the diagnostic stream.
func (d *Detector) LogSummary() {
	if len(d.history) > 0 {
		diag.Infof("real-time detector fired %d anomaly alerts", len(d.history))
	}
}
