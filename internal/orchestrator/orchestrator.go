//go:build linux

// Package orchestrator assembles the tracing pipeline from configuration,
// runs the session with graceful signal handling, prints the summaries in
// dependency order (statistics before OTLP teardown, so late spans are
// never lost), and yields the process exit code.
package orchestrator

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/paiml/renacer/internal/anomaly"
	"github.com/paiml/renacer/internal/decision"
	"github.com/paiml/renacer/internal/diag"
	"github.com/paiml/renacer/internal/dwarfidx"
	"github.com/paiml/renacer/internal/exporter"
	"github.com/paiml/renacer/internal/filter"
	"github.com/paiml/renacer/internal/model"
	"github.com/paiml/renacer/internal/output"
	"github.com/paiml/renacer/internal/profiler"
	"github.com/paiml/renacer/internal/sampler"
	"github.com/paiml/renacer/internal/sourcemap"
	"github.com/paiml/renacer/internal/stats"
	"github.com/paiml/renacer/internal/tracectx"
	"github.com/paiml/renacer/internal/tracee"
	"github.com/paiml/renacer/internal/tracer"
	"github.com/paiml/renacer/internal/unwind"
)

// UsageExitCode is returned for invalid flag combinations and invalid
// filter or traceparent values supplied explicitly.
const UsageExitCode = 2

// Config is the fully resolved session configuration, translated from
// CLI flags by cmd/renacer.
type Config struct {
	Argv      []string
	AttachPID int

	FilterExpr string
	Follow     bool

	Stats         bool
	StatsExtended bool
	Timing        bool

	Format     string
	OutputPath string

	Source         bool
	FunctionTime   bool
	FlamegraphPath string

	AnomalyRealtime   bool
	AnomalyWindowSize int
	AnomalyThreshold  float64

	OTLPEndpoint    string
	OTLPServiceName string
	TraceParent     string

	TranspilerMap         string
	TraceDecisions        bool
	DecisionOutDir        string
	TraceCompute          bool
	TraceComputeAll       bool
	TraceComputeThreshold float64

	Quiet bool
}

// session holds the assembled pipeline components for one run.
type session struct {
	cfg Config

	filter    *filter.Filter
	formatter output.Formatter
	srcMap    *sourcemap.Map

	tracker   *stats.Tracker
	detector  *anomaly.Detector
	profiler  *profiler.Profiler
	exporter  *exporter.Exporter
	decisions *decision.Collector

	dwarf *dwarfidx.Index

	out       io.Writer // trace stream
	report    io.Writer // summary tables
	outFile   *os.File
	formatErr bool
	admitted  uint64
}

// Run executes a trace session and returns the exit code to propagate.
func Run(cfg Config) (int, error) {
	diag.SetQuiet(cfg.Quiet)

	s, code, err := newSession(cfg)
	if err != nil {
		return code, err
	}
	defer s.close()

	unwindHook := s.unwindHook()
	var decisionSink func(*model.SyscallRecord, []byte)
	if s.decisions != nil {
		decisionSink = s.decisions.Ingest
	}

	tr, err := tracer.New(tracer.Options{
		Argv:         cfg.Argv,
		AttachPID:    cfg.AttachPID,
		Follow:       cfg.Follow,
		OnRecord:     s.handleRecord,
		Unwind:       unwindHook,
		DecisionSink: decisionSink,
	})
	if err != nil {
		return UsageExitCode, err
	}

	// graceful interrupt: complete in-flight records, print summaries,
	// flush, exit
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig, ok := <-sigCh
		if !ok {
			return
		}
		diag.Infof("received %v, finishing up", sig)
		tr.Interrupt()
	}()
	defer func() {
		signal.Stop(sigCh)
		close(sigCh)
	}()

	status, err := tr.Run()
	if err != nil {
		// already user-actionable; the exit status carries the failure
		kind := diag.KindSpawn
		if cfg.AttachPID != 0 {
			kind = diag.KindAttach
		}
		diag.Errorf(kind, "%v", err)
	}

	s.finish()
	return status, nil
}

// newSession compiles the configuration into pipeline components. The
// returned exit code is meaningful only when err != nil.
func newSession(cfg Config) (*session, int, error) {
	s := &session{cfg: cfg}

	f, err := filter.Parse(cfg.FilterExpr)
	if err != nil {
		return nil, UsageExitCode, fmt.Errorf("invalid trace expression: %w", err)
	}
	s.filter = f

	s.out = os.Stdout
	if cfg.OutputPath != "" && cfg.OutputPath != "-" {
		file, err := os.Create(cfg.OutputPath)
		if err != nil {
			return nil, 1, fmt.Errorf("create output file: %w", err)
		}
		s.outFile = file
		s.out = file
	}

	// summary tables share the trace stream for text output; for the
	// document formats they go to stderr so the document stays parseable
	if cfg.Format == "" || cfg.Format == "text" {
		s.report = s.out
	} else {
		s.report = os.Stderr
	}

	s.formatter, err = output.New(cfg.Format, s.out, output.Options{
		Timing: cfg.Timing,
		Source: cfg.Source,
	})
	if err != nil {
		return nil, UsageExitCode, err
	}

	if cfg.Stats || cfg.StatsExtended {
		s.tracker = stats.NewTracker(true)
	}
	if cfg.AnomalyRealtime {
		s.detector = anomaly.NewDetector(cfg.AnomalyWindowSize, cfg.AnomalyThreshold, os.Stderr)
	}
	if cfg.FunctionTime {
		s.profiler = profiler.New()
	}
	if cfg.TraceDecisions {
		s.decisions = decision.NewCollector()
	}

	if cfg.TranspilerMap != "" {
		s.srcMap, err = sourcemap.Load(cfg.TranspilerMap)
		if err != nil {
			return nil, UsageExitCode, err
		}
	}

	if cfg.Source || cfg.FunctionTime {
		s.loadDWARF()
	}

	if code, err := s.setupExporter(); err != nil {
		return nil, code, err
	}

	return s, 0, nil
}

// loadDWARF opens the target binary's debug info. Missing or malformed
// debug info disables source correlation for the session with a single
// diagnostic.
func (s *session) loadDWARF() {
	path := ""
	if len(s.cfg.Argv) > 0 {
		path = s.cfg.Argv[0]
	} else if s.cfg.AttachPID != 0 {
		path = fmt.Sprintf("/proc/%d/exe", s.cfg.AttachPID)
	}
	if path == "" {
		return
	}
	ix, err := dwarfidx.Load(path)
	if err != nil {
		diag.Errorf(diag.KindDWARF, "source correlation disabled: %v", err)
		return
	}
	s.dwarf = ix
}

// setupExporter wires OTLP when an endpoint is configured. An invalid
// explicit traceparent is a usage error; an invalid environment one
// degrades to a fresh root trace.
func (s *session) setupExporter() (int, error) {
	endpoint := s.cfg.OTLPEndpoint
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		return 0, nil
	}

	var parent *tracectx.Context
	if raw, ok := tracectx.FromEnvironment(s.cfg.TraceParent, os.Getenv); ok {
		ctx, err := tracectx.Parse(raw)
		if err != nil {
			if s.cfg.TraceParent != "" {
				return UsageExitCode, err
			}
			diag.Errorf(diag.KindExporter, "ignoring environment traceparent: %v", err)
		} else {
			parent = &ctx
		}
	}

	serviceName := s.cfg.OTLPServiceName
	if serviceName == "" {
		serviceName = "renacer"
	}
	command := ""
	if len(s.cfg.Argv) > 0 {
		command = s.cfg.Argv[0]
	}

	exp, err := exporter.New(exporter.Config{
		Endpoint:       endpoint,
		ServiceName:    serviceName,
		Parent:         parent,
		ProcessCommand: command,
		ProcessPID:     os.Getpid(),
		AnchorWall:     time.Now(),
		AnchorMono:     nowMono(),
		Sampler:        sampler.New(s.cfg.TraceComputeThreshold, s.cfg.TraceComputeAll),
	})
	if err != nil {
		// exporting is secondary: diagnose once and trace without it
		diag.Errorf(diag.KindExporter, "OTLP disabled: %v", err)
		return 0, nil
	}
	s.exporter = exp
	return 0, nil
}

// unwindHook builds the per-syscall stack resolver when source
// correlation or function profiling needs it.
func (s *session) unwindHook() func(pid int, regs *unix.PtraceRegs) []model.SourceLocation {
	if s.dwarf == nil {
		return nil
	}
	ix := s.dwarf
	return func(pid int, regs *unix.PtraceRegs) []model.SourceLocation {
		return unwind.UserFrames(tracee.NewReader(pid), ix, regs.Rbp)
	}
}

// handleRecord is the per-record pipeline: filter, source-map rewrite,
// then fan-out to formatter, stats, anomaly detection, profiling, and
// export.
func (s *session) handleRecord(rec *model.SyscallRecord) {
	if !s.filter.Admit(rec.Name) {
		return
	}
	s.admitted++

	if s.srcMap != nil {
		for i := range rec.Stack {
			rec.Stack[i] = s.srcMap.Rewrite(rec.Stack[i])
		}
		if rec.Source != nil {
			rewritten := s.srcMap.Rewrite(*rec.Source)
			rec.Source = &rewritten
		}
	}

	if !s.formatErr {
		if err := s.formatter.Record(rec); err != nil {
			// broken pipe on stdout must not kill the tracee session
			diag.Errorf(diag.KindFormat, "%v", err)
			s.formatErr = true
		}
	}
	if s.tracker != nil {
		s.tracker.Record(rec)
	}
	if s.detector != nil {
		s.detector.Observe(rec)
	}
	if s.profiler != nil {
		s.profiler.Record(rec)
	}
	if s.exporter != nil {
		s.exporter.RecordSyscall(rec)
	}
}

// finish prints the summaries and flushes the exporter, in that order.
func (s *session) finish() {
	if s.tracker != nil {
		s.formatter.SetSummary(s.tracker.Rows())
	}
	if !s.formatErr {
		if err := s.formatter.End(); err != nil {
			diag.Errorf(diag.KindFormat, "%v", err)
		}
	}

	if s.tracker != nil && s.cfg.StatsExtended {
		start := nowMono()
		if err := s.tracker.WriteExtended(s.report); err != nil {
			diag.Errorf(diag.KindFormat, "%v", err)
		}
		s.recordComputeBlock("percentile_summary", start, int(s.tracker.TotalCalls()))

		threshold := s.cfg.AnomalyThreshold
		if threshold <= 0 {
			threshold = anomaly.DefaultThreshold
		}
		start = nowMono()
		anomalies := s.tracker.ScanAnomalies(threshold)
		s.recordComputeBlock("anomaly_scan", start, int(s.tracker.TotalCalls()))
		for _, a := range anomalies {
			fmt.Fprintf(s.report, "anomaly: %s\n", a)
		}
	}

	if s.detector != nil {
		if err := s.detector.WriteReport(s.report); err != nil {
			diag.Errorf(diag.KindFormat, "%v", err)
		}
		s.detector.LogSummary()
	}

	if s.profiler != nil {
		if err := s.profiler.WriteReport(s.report); err != nil {
			diag.Errorf(diag.KindFormat, "%v", err)
		}
		if s.cfg.FlamegraphPath != "" {
			s.writeFlamegraph()
		}
	}

	s.finishDecisions()

	// OTLP teardown is last: every summary above is already on screen
	// even if the flush stalls for the full shutdown window
	if s.exporter != nil {
		s.exporter.Shutdown()
		if n := s.exporter.Dropped(); n > 0 {
			diag.Errorf(diag.KindExporter, "%d OTLP flush(es) failed; spans lost", n)
		}
	}
}

// recordComputeBlock emits a compute-block span for summary-time
// statistical work when compute tracing is on.
func (s *session) recordComputeBlock(op string, startMono uint64, elements int) {
	if s.exporter == nil || !s.cfg.TraceCompute {
		return
	}
	durMicros := float64(nowMono()-startMono) / 1000
	threshold := s.cfg.TraceComputeThreshold
	if threshold <= 0 {
		threshold = sampler.DefaultThresholdMicros
	}
	s.exporter.RecordComputeBlock(op, durMicros, elements, durMicros >= threshold*10)
}

// finishDecisions persists captured decisions: sidecar when an output
// directory is configured, span events otherwise.
func (s *session) finishDecisions() {
	if s.decisions == nil {
		return
	}
	ds := s.decisions.Decisions()
	if len(ds) == 0 {
		return
	}
	diag.Infof("captured %d transpiler decisions", len(ds))

	if s.cfg.DecisionOutDir != "" {
		if err := s.decisions.WriteSidecar(s.cfg.DecisionOutDir); err != nil {
			diag.Errorf(diag.KindDecision, "%v", err)
		}
		return
	}
	if s.exporter != nil {
		for _, d := range ds {
			s.exporter.RecordDecision(d.Category, d.Name, d.Result, d.TimestampMicros)
		}
	}
}

// writeFlamegraph exports the folded stacks for flamegraph.pl.
func (s *session) writeFlamegraph() {
	f, err := os.Create(s.cfg.FlamegraphPath)
	if err != nil {
		diag.Errorf(diag.KindFormat, "flamegraph: %v", err)
		return
	}
	defer f.Close()
	if err := s.profiler.WriteFolded(f); err != nil {
		diag.Errorf(diag.KindFormat, "flamegraph: %v", err)
	}
}

func (s *session) close() {
	if s.outFile != nil {
		s.outFile.Close()
	}
}

// nowMono mirrors the engine's monotonic clock for anchor computation.
func nowMono() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return uint64(ts.Sec)*1e9 + uint64(ts.Nsec)
}
