//go:build linux

// renacer — Linux syscall tracer and observability engine.
//
// Launches or attaches to a process, decodes every syscall it issues,
// correlates calls to source via DWARF and frame-pointer unwinding,
// aggregates statistics with percentile latencies, detects latency
// anomalies in real time, and exports unified traces over OTLP with W3C
// trace-context propagation.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/paiml/renacer/internal/orchestrator"
)

var version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var (
		attachPID int
		traceExpr string
		follow    bool

		statistics    bool
		statsExtended bool
		timing        bool

		format     string
		outputPath string

		source         bool
		functionTime   bool
		flamegraphPath string

		anomalyRealtime   bool
		anomalyWindowSize int
		anomalyThreshold  float64

		otlpEndpoint    string
		otlpServiceName string
		traceParent     string

		transpilerMap         string
		traceDecisions        bool
		decisionOutDir        string
		traceCompute          bool
		traceComputeAll       bool
		traceComputeThreshold float64

		quiet bool
	)

	exitCode := 0

	rootCmd := &cobra.Command{
		Use:   "renacer [flags] -- <cmd> [args...]",
		Short: "Linux syscall tracer and observability engine",
		Long: `renacer — trace every syscall of a process tree.

Spawn a command (after --) or attach to a running process (-p), decode
the syscall stream, and render it as text, JSON, CSV, or HTML. Optional
layers: per-syscall statistics with percentiles, real-time latency
anomaly detection, source-level attribution via DWARF and stack
unwinding, function profiling with folded-stack export, and OTLP span
export with W3C trace-context propagation.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// everything after -- (or the first positional) is the tracee
			// command line
			argv := args
			if at := cmd.ArgsLenAtDash(); at > 0 {
				return usageError("positional arguments before -- are not allowed")
			}

			if attachPID != 0 && len(argv) > 0 {
				return usageError("-p and a command are mutually exclusive")
			}
			if attachPID == 0 && len(argv) == 0 {
				return usageError("a command (after --) or -p <PID> is required")
			}

			cfg := orchestrator.Config{
				Argv:      argv,
				AttachPID: attachPID,

				FilterExpr: stripTracePrefix(traceExpr),
				Follow:     follow,

				Stats:         statistics,
				StatsExtended: statsExtended,
				Timing:        timing || statistics || statsExtended,

				Format:     format,
				OutputPath: outputPath,

				Source:         source,
				FunctionTime:   functionTime,
				FlamegraphPath: flamegraphPath,

				AnomalyRealtime:   anomalyRealtime,
				AnomalyWindowSize: anomalyWindowSize,
				AnomalyThreshold:  anomalyThreshold,

				OTLPEndpoint:    otlpEndpoint,
				OTLPServiceName: otlpServiceName,
				TraceParent:     traceParent,

				TranspilerMap:         transpilerMap,
				TraceDecisions:        traceDecisions,
				DecisionOutDir:        decisionOutDir,
				TraceCompute:          traceCompute,
				TraceComputeAll:       traceComputeAll,
				TraceComputeThreshold: traceComputeThreshold,

				Quiet: quiet,
			}

			code, err := orchestrator.Run(cfg)
			exitCode = code
			return err
		},
	}

	flags := rootCmd.Flags()
	flags.IntVarP(&attachPID, "pid", "p", 0, "Attach to a running process instead of spawning")
	flags.StringVarP(&traceExpr, "expr", "e", "", "Filter expression, e.g. trace=file,!close")
	flags.BoolVarP(&follow, "follow", "f", false, "Follow child processes across fork/vfork/clone/exec")
	flags.BoolVarP(&statistics, "summary", "c", false, "Print per-syscall statistics on exit")
	flags.BoolVar(&statsExtended, "stats-extended", false, "Extended statistics: percentiles and post-hoc anomalies")
	flags.BoolVarP(&timing, "timing", "T", false, "Record time spent in each syscall")
	flags.StringVar(&format, "format", "text", "Output format: text, json, csv, html")
	flags.StringVarP(&outputPath, "output", "o", "-", "Write trace output to a file (- for stdout)")
	flags.BoolVarP(&source, "source", "s", false, "Annotate syscalls with file:line via DWARF")
	flags.BoolVar(&functionTime, "function-time", false, "Attribute syscall time to calling functions")
	flags.StringVar(&flamegraphPath, "flamegraph", "", "Write folded stacks for flamegraph.pl to a file")
	flags.BoolVar(&anomalyRealtime, "anomaly-realtime", false, "Detect latency anomalies while tracing")
	flags.IntVar(&anomalyWindowSize, "anomaly-window-size", 100, "Sliding-window size per syscall")
	flags.Float64Var(&anomalyThreshold, "anomaly-threshold", 3.0, "Z-score threshold in standard deviations")
	flags.StringVar(&otlpEndpoint, "otlp-endpoint", "", "OTLP receiver URL (gRPC :4317 or HTTP :4318)")
	flags.StringVar(&otlpServiceName, "otlp-service-name", "renacer", "service.name resource attribute")
	flags.StringVar(&traceParent, "trace-parent", "", "W3C traceparent to continue (TRACEPARENT env as fallback)")
	flags.StringVar(&transpilerMap, "transpiler-map", "", "Source map for transpiled binaries (JSON)")
	flags.BoolVar(&traceDecisions, "trace-transpiler-decisions", false, "Capture [DECISION]/[RESULT] lines from the tracee")
	flags.StringVar(&decisionOutDir, "decision-dir", "", "Write captured decisions to a sidecar directory")
	flags.BoolVar(&traceCompute, "trace-compute", false, "Emit compute-block spans for statistical work")
	flags.BoolVar(&traceComputeAll, "trace-compute-all", false, "Bypass the sampler's duration thresholds for all exported spans")
	flags.Float64Var(&traceComputeThreshold, "trace-compute-threshold", 0, "Sampling threshold in microseconds")
	flags.BoolVarP(&quiet, "quiet", "q", false, "Suppress progress diagnostics")

	// flags after -- belong to the tracee, not to renacer
	flags.SetInterspersed(false)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "[renacer: %s: %v]\n", errKind(err), err)
		if exitCode == 0 {
			exitCode = exitCodeFor(err)
		}
	}
	return exitCode
}

// usageErr marks CLI misuse for the exit-2 policy.
type usageErr struct{ msg string }

func (e usageErr) Error() string { return e.msg }

func usageError(msg string) error { return usageErr{msg: msg} }

func errKind(err error) string {
	if _, ok := err.(usageErr); ok {
		return "usage"
	}
	return "error"
}

func exitCodeFor(err error) int {
	if _, ok := err.(usageErr); ok {
		return orchestrator.UsageExitCode
	}
	return 1
}

// stripTracePrefix accepts both `-e trace=file` (strace compatible) and
// the bare `-e file` spelling.
func stripTracePrefix(expr string) string {
	const prefix = "trace="
	if len(expr) >= len(prefix) && expr[:len(prefix)] == prefix {
		return expr[len(prefix):]
	}
	return expr
}
