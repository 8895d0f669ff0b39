// =============================================================================
// AgentGraph 命令行入口
// =============================================================================
//
// 使用方法:
//
//	agentgraph validate workflow.yaml            # 校验声明式工作流
//	agentgraph run --input "hi" workflow.yaml    # 运行工作流
//	agentgraph resume --run-id <id> --response <token>=<value> workflow.yaml
//	agentgraph checkpoints list --run-id <id>    # 列出检查点
//	agentgraph migrate up                        # 运行数据库迁移
//	agentgraph version                           # 显示版本信息
// =============================================================================

package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/agentgraph/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	os.Exit(runCLI(os.Args[1:], os.Stdout, os.Stderr))
}

// runCLI 分发子命令并返回退出码
func runCLI(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return exitUsage
	}

	switch args[0] {
	case "validate":
		return runValidate(args[1:], stdout, stderr)
	case "run":
		return runWorkflow(args[1:], stdout, stderr)
	case "resume":
		return runResume(args[1:], stdout, stderr)
	case "checkpoints":
		return runCheckpoints(args[1:], stdout, stderr)
	case "migrate":
		return runMigrate(args[1:], stdout, stderr)
	case "version":
		printVersion(stdout)
		return exitOK
	case "help", "-h", "--help":
		printUsage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		printUsage(stderr)
		return exitUsage
	}
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "AgentGraph %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `AgentGraph - Graph-based agent workflow engine

Usage:
  agentgraph <command> [options]

Commands:
  validate      Validate a declarative workflow file
  run           Run a declarative workflow
  resume        Resume a suspended or failed run from a checkpoint
  checkpoints   Inspect stored checkpoints (list, show)
  migrate       Checkpoint database migration commands
  version       Show version information
  help          Show this help message

Common options:
  --config <path>   Path to configuration file (YAML)

Examples:
  agentgraph validate support.yaml
  agentgraph run --config agentgraph.yaml --input "my order is late" support.yaml
  agentgraph run --trace --vars '{"name":"Ada"}' greet.yaml
  agentgraph resume --run-id 7c9e... --response 01J...=yes support.yaml
  agentgraph checkpoints show --run-id 7c9e...
  agentgraph migrate up --config agentgraph.yaml
  agentgraph version`)
}

// =============================================================================
// 🔧 公共辅助
// =============================================================================

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// loadConfig 加载并校验配置，随后按日志配置创建 logger
func loadConfig(path string) (*config.Config, *zap.Logger, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	logger, err := initLogger(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// kvFlag 可重复的 key=value 参数
type kvFlag []string

func (f *kvFlag) String() string { return strings.Join(*f, ",") }

func (f *kvFlag) Set(v string) error {
	if !strings.Contains(v, "=") {
		return fmt.Errorf("expected key=value, got %q", v)
	}
	*f = append(*f, v)
	return nil
}

// pairs 按出现顺序返回键值对
func (f kvFlag) pairs() [][2]string {
	out := make([][2]string, 0, len(f))
	for _, kv := range f {
		k, v, _ := strings.Cut(kv, "=")
		out = append(out, [2]string{k, v})
	}
	return out
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	// 解析日志级别
	var level zapcore.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	// 配置编码器
	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.With(zap.String("service", "agentgraph")), nil
}
