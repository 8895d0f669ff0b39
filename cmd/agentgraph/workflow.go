package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/workflow"
	"github.com/BaSui01/agentgraph/workflow/checkpoint"
	"github.com/BaSui01/agentgraph/workflow/declarative"
)

// =============================================================================
// ✅ validate 命令
// =============================================================================

func runValidate(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("validate", stderr)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: agentgraph validate <workflow-file>")
		return exitUsage
	}

	def, err := declarative.LoadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load workflow: %v\n", err)
		return exitFailure
	}
	if err := declarative.Validate(def); err != nil {
		fmt.Fprintf(stderr, "Invalid workflow %q: %v\n", def.Name, err)
		return exitFailure
	}

	fmt.Fprintf(stdout, "Workflow %q is valid: %d top-level actions, %d agents, %d variables\n",
		def.Name, len(def.Actions), len(def.Agents), len(def.Variables))
	return exitOK
}

// =============================================================================
// ▶️ run 命令
// =============================================================================

func runWorkflow(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("run", stderr)
	configPath := fs.String("config", "", "Path to config file")
	runID := fs.String("run-id", "", "Run ID (default: generated)")
	input := fs.String("input", "", "Text input passed to the workflow")
	vars := fs.String("vars", "", "JSON object of Local variables, used instead of --input")
	metricsFile := fs.String("metrics-file", "", "Write Prometheus metrics to this file after the run")
	trace := fs.Bool("trace", false, "Print the executor path of the run")
	var env kvFlag
	fs.Var(&env, "env", "Env scope variable key=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: agentgraph run [options] <workflow-file>")
		return exitUsage
	}

	var in any = *input
	if *vars != "" {
		var m map[string]any
		if err := json.Unmarshal([]byte(*vars), &m); err != nil {
			fmt.Fprintf(stderr, "Invalid --vars: %v\n", err)
			return exitUsage
		}
		in = m
	}

	return withApp(*configPath, stderr, func(ctx context.Context, a *app) int {
		wf, err := a.compile(fs.Arg(0), env)
		if err != nil {
			fmt.Fprintf(stderr, "%v\n", err)
			return exitFailure
		}

		var opts []workflow.RunOption
		if *runID != "" {
			opts = append(opts, workflow.WithRunID(*runID))
		}
		ctx, hist := traced(ctx, *trace)
		run, err := a.engine.Run(ctx, wf, in, opts...)
		return a.finish(stdout, stderr, run, err, *metricsFile, hist)
	})
}

// =============================================================================
// ⏯️ resume 命令
// =============================================================================

func runResume(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("resume", stderr)
	configPath := fs.String("config", "", "Path to config file")
	runID := fs.String("run-id", "", "Run ID to resume (required)")
	from := fs.String("checkpoint", "", "Checkpoint ID to resume from (default: latest)")
	input := fs.String("input", "", "Additional text input for the start executor")
	metricsFile := fs.String("metrics-file", "", "Write Prometheus metrics to this file after the run")
	trace := fs.Bool("trace", false, "Print the executor path of the resumed segment")
	var responses, env kvFlag
	fs.Var(&responses, "response", "Response for a pending token, token=value (repeatable)")
	fs.Var(&env, "env", "Env scope variable key=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 || *runID == "" {
		fmt.Fprintln(stderr, "Usage: agentgraph resume --run-id <id> [options] <workflow-file>")
		return exitUsage
	}

	var opts []workflow.ResumeOption
	if *from != "" {
		opts = append(opts, workflow.FromCheckpoint(checkpoint.Info{RunID: *runID, CheckpointID: *from}))
	}
	for _, kv := range responses.pairs() {
		opts = append(opts, workflow.WithResponse(kv[0], kv[1]))
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "input" {
			opts = append(opts, workflow.WithInput(*input))
		}
	})

	return withApp(*configPath, stderr, func(ctx context.Context, a *app) int {
		wf, err := a.compile(fs.Arg(0), env)
		if err != nil {
			fmt.Fprintf(stderr, "%v\n", err)
			return exitFailure
		}
		ctx, hist := traced(ctx, *trace)
		run, err := a.engine.Resume(ctx, wf, *runID, opts...)
		return a.finish(stdout, stderr, run, err, *metricsFile, hist)
	})
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// withApp 加载配置、创建运行环境并在 SIGINT/SIGTERM 时取消 ctx
func withApp(configPath string, stderr io.Writer, fn func(ctx context.Context, a *app) int) int {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailure
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to initialize: %v\n", err)
		return exitFailure
	}
	defer func() {
		if err := a.close(); err != nil {
			logger.Warn("failed to release resources", zap.Error(err))
		}
	}()

	return fn(ctx, a)
}

// compile 加载并编译声明式工作流
func (a *app) compile(path string, env kvFlag) (*workflow.Workflow, error) {
	def, err := declarative.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}

	opts := []declarative.CompileOption{declarative.WithLogger(a.logger)}
	if len(env) > 0 {
		vars := make(map[string]any, len(env))
		for _, kv := range env.pairs() {
			vars[kv[0]] = kv[1]
		}
		opts = append(opts, declarative.WithEnv(vars))
	}
	if len(a.providers.List()) > 0 {
		opts = append(opts, declarative.WithProviders(a.providers))
	}
	if a.cfg.Engine.StrictTypes {
		opts = append(opts, declarative.WithStrictTypes())
	}

	wf, err := declarative.Compile(def, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to compile workflow: %w", err)
	}
	return wf, nil
}

// traced 开启 --trace 时把事件接入 HistoryRecorder
func traced(ctx context.Context, enabled bool) (context.Context, *workflow.HistoryRecorder) {
	if !enabled {
		return ctx, nil
	}
	hist := workflow.NewHistoryRecorder()
	return workflow.WithEventEmitter(ctx, hist.Emitter()), hist
}

// finish 打印运行结果并写出指标
func (a *app) finish(stdout, stderr io.Writer, run *workflow.Run, runErr error, metricsFile string, hist *workflow.HistoryRecorder) int {
	if run != nil {
		printRun(stdout, run)
		if hist != nil {
			printHistory(stdout, hist, run.ID())
		}
	}
	if err := a.writeMetrics(metricsFile); err != nil {
		fmt.Fprintf(stderr, "Failed to write metrics: %v\n", err)
	}
	if runErr != nil {
		fmt.Fprintf(stderr, "Run failed: %v\n", runErr)
		return exitFailure
	}
	return exitOK
}

func printRun(w io.Writer, run *workflow.Run) {
	for _, out := range run.Outputs() {
		fmt.Fprintln(w, formatValue(out))
	}
	fmt.Fprintf(w, "Run %s %s after %d supersteps\n", run.ID(), run.Status(), run.Superstep())
	if last, ok := run.LastCheckpoint(); ok {
		fmt.Fprintf(w, "Checkpoint: %s\n", last.CheckpointID)
	}
	for _, tok := range run.PendingTokens() {
		fmt.Fprintf(w, "Pending %s (executor %s): %s\n", tok.ID, tok.ExecutorID, formatValue(tok.Request))
	}
}

// printHistory 按调用顺序列出本进程内记录到的执行器调用
func printHistory(w io.Writer, hist *workflow.HistoryRecorder, runID string) {
	h, ok := hist.Get(runID)
	if !ok || len(h.Executors) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tEXECUTOR\tSTATUS\tDURATION")
	for _, rec := range h.Executors {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", rec.Superstep, rec.ExecutorID, rec.Status, rec.Duration.Round(time.Microsecond))
	}
	tw.Flush()
}

// formatValue 字符串原样输出，其余编码为 JSON
func formatValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
