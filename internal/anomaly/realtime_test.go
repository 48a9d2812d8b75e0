package anomaly

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/paiml/renacer/internal/model"
)

func rec(name string, durUS uint64) *model.SyscallRecord {
	return &model.SyscallRecord{Name: name, ExitTime: durUS * 1000}
}

// TestSlowCallAfterFastBaseline reproduces scenario 5: twenty fast writes
// then one slow write fires exactly one high-severity alert whose
// baseline reflects the fast window.
func TestSlowCallAfterFastBaseline(t *testing.T) {
	var alerts bytes.Buffer
	d := NewDetector(20, 3.0, &alerts)

	fast := []uint64{40, 42, 45, 38, 41, 44, 39, 43, 40, 46, 41, 42, 44, 39, 45, 40, 43, 38, 42, 41}
	for _, us := range fast {
		if a := d.Observe(rec("write", us)); a != nil {
			t.Fatalf("baseline fill fired an anomaly: %+v", a)
		}
	}

	a := d.Observe(rec("write", 5000))
	if a == nil {
		t.Fatal("slow write did not fire")
	}
	if a.Severity != model.SeverityHigh {
		t.Errorf("severity = %s, want high", a.Severity)
	}
	if a.Mean > 50 {
		t.Errorf("baseline mean = %v, must reflect the fast window", a.Mean)
	}
	if !strings.Contains(alerts.String(), "write") {
		t.Error("alert line missing from the diagnostic stream")
	}
	if len(d.History()) != 1 {
		t.Errorf("history = %d entries, want 1", len(d.History()))
	}
}

// TestConstantDurationsNeverFire verifies the stddev=0 guard: identical
// durations must produce zero anomalies and no NaN/Inf.
func TestConstantDurationsNeverFire(t *testing.T) {
	d := NewDetector(50, 3.0, nil)
	for i := 0; i < 200; i++ {
		if a := d.Observe(rec("read", 100)); a != nil {
			t.Fatalf("constant stream fired: %+v", a)
		}
	}
	for _, a := range d.History() {
		if math.IsNaN(a.ZScore) || math.IsInf(a.ZScore, 0) {
			t.Fatalf("non-finite z-score: %+v", a)
		}
	}
}

// TestWarmupSkipsDetection verifies no detection below ten samples.
func TestWarmupSkipsDetection(t *testing.T) {
	d2 := NewDetector(100, 3.0, nil)
	spread := []uint64{10, 12, 11, 14, 9, 13, 10, 15}
	for _, us := range spread {
		d2.Observe(rec("openat", us))
	}
	if a := d2.Observe(rec("openat", 100000)); a != nil {
		t.Errorf("fired with only %d baseline samples: %+v", len(spread), a)
	}
}

// TestWindowEviction verifies the ring forgets old observations: after a
// regime change fills the window, the old regime no longer dominates.
func TestWindowEviction(t *testing.T) {
	d := NewDetector(10, 3.0, nil)
	for i := 0; i < 10; i++ {
		d.Observe(rec("read", 10+uint64(i%3)))
	}
	// shift to a new, slower but internally consistent regime; once the
	// window is fully replaced, the new normal must not keep firing
	var fired int
	for i := 0; i < 40; i++ {
		if a := d.Observe(rec("read", 500+uint64(i%5))); a != nil {
			fired++
		}
	}
	if fired > 12 {
		t.Errorf("detector kept firing after window turnover: %d alerts", fired)
	}
}

// TestPerSyscallBaselines verifies baselines do not bleed across names.
func TestPerSyscallBaselines(t *testing.T) {
	d := NewDetector(20, 3.0, nil)
	for i := 0; i < 15; i++ {
		d.Observe(rec("read", 10+uint64(i%2)))
		d.Observe(rec("write", 5000+uint64(i%7)))
	}
	// 5ms writes are normal for write's own baseline
	if a := d.Observe(rec("write", 5003)); a != nil {
		t.Errorf("write scored against a foreign baseline: %+v", a)
	}
}

// TestReportTopTen verifies the shutdown report structure.
func TestReportTopTen(t *testing.T) {
	d := NewDetector(20, 3.0, nil)
	base := []uint64{10, 11, 12, 10, 11, 12, 10, 11, 12, 10, 11, 12}
	for _, us := range base {
		d.Observe(rec("read", us))
	}
	for i := 0; i < 15; i++ {
		d.Observe(rec("read", 4000+uint64(i)*100))
	}

	var buf bytes.Buffer
	if err := d.WriteReport(&buf); err != nil {
		t.Fatalf("WriteReport: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Anomalies:") {
		t.Errorf("report missing headline:\n%s", out)
	}
	if n := strings.Count(out, "\n"); n > 12 {
		t.Errorf("report lists more than 10 anomalies (%d lines)", n)
	}
}
