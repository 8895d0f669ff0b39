package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const greeterYAML = `
name: greeter
actions:
  - kind: SetVariable
    id: remember
    variable: Local.topic
    expression: System.LastMessageText
  - kind: RequestInput
    id: ask
    prompt: "name for ${Local.topic}?"
    variable: Local.name
  - kind: SendActivity
    id: reply
    text: "Hello ${Local.name}, about ${Local.topic}"
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// fileStoreConfig 写一个使用文件检查点存储、开启指标的配置
func fileStoreConfig(t *testing.T, dir string) string {
	t.Helper()
	return writeFile(t, dir, "agentgraph.yaml", fmt.Sprintf(`
checkpoint:
  type: file
  base_dir: %s
log:
  level: error
  output_paths: [stderr]
metrics:
  enabled: true
  namespace: agentgraph
`, filepath.Join(dir, "checkpoints")))
}

func execCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := runCLI(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// pendingToken 从 run 输出中取第一个待处理 token
func pendingToken(t *testing.T, out string) string {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "Pending ") {
			return strings.Fields(line)[1]
		}
	}
	t.Fatalf("no pending token in output:\n%s", out)
	return ""
}

// =============================================================================
// 🧪 命令分发
// =============================================================================

func TestRunCLI_Dispatch(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantOut  string
		wantErr  string
	}{
		{"no args", nil, exitUsage, "", "Usage:"},
		{"help", []string{"help"}, exitOK, "Commands:", ""},
		{"unknown", []string{"serve"}, exitUsage, "", "Unknown command: serve"},
		{"version", []string{"version"}, exitOK, "AgentGraph dev", ""},
		{"checkpoints without subcommand", []string{"checkpoints"}, exitUsage, "", "list"},
		{"checkpoints unknown", []string{"checkpoints", "prune"}, exitUsage, "", "Unknown checkpoints subcommand"},
		{"checkpoints list without run id", []string{"checkpoints", "list"}, exitUsage, "", "--run-id"},
		{"migrate without subcommand", []string{"migrate"}, exitUsage, "", "Subcommands:"},
		{"migrate unknown", []string{"migrate", "sideways"}, exitUsage, "", "Unknown migrate subcommand"},
		{"migrate goto without version", []string{"migrate", "goto"}, exitUsage, "", "migrate goto <n>"},
		{"run without file", []string{"run"}, exitUsage, "", "agentgraph run"},
		{"resume without run id", []string{"resume", "wf.yaml"}, exitUsage, "", "--run-id"},
		{"run with bad vars", []string{"run", "--vars", "{", "wf.yaml"}, exitUsage, "", "Invalid --vars"},
		{"bad flag", []string{"validate", "--nope", "wf.yaml"}, exitUsage, "", "flag provided but not defined"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out, errOut := execCLI(tt.args...)
			assert.Equal(t, tt.wantCode, code)
			assert.Contains(t, out, tt.wantOut)
			assert.Contains(t, errOut, tt.wantErr)
		})
	}
}

func TestKVFlag(t *testing.T) {
	var f kvFlag
	require.NoError(t, f.Set("region=eu-west"))
	require.NoError(t, f.Set("expr=a=b"))
	assert.Error(t, f.Set("novalue"))

	assert.Equal(t, [][2]string{{"region", "eu-west"}, {"expr", "a=b"}}, f.pairs())
	assert.Equal(t, "region=eu-west,expr=a=b", f.String())
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "plain", formatValue("plain"))
	assert.Equal(t, `{"a":1}`, formatValue(map[string]int{"a": 1}))
	assert.Equal(t, "null", formatValue(nil))
}

// =============================================================================
// ✅ validate
// =============================================================================

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "greeter.yaml", greeterYAML)
	bad := writeFile(t, dir, "bad.yaml", "name: bad\nactions:\n  - kind: Teleport\n")

	code, out, _ := execCLI("validate", good)
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, `Workflow "greeter" is valid: 3 top-level actions`)

	code, _, errOut := execCLI("validate", bad)
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, errOut, "Failed to load workflow")

	code, _, errOut = execCLI("validate", filepath.Join(dir, "missing.yaml"))
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, errOut, "Failed to load workflow")
}

// =============================================================================
// ▶️ run / resume / checkpoints
// =============================================================================

func TestRunResumeAndInspect(t *testing.T) {
	dir := t.TempDir()
	cfg := fileStoreConfig(t, dir)
	wf := writeFile(t, dir, "greeter.yaml", greeterYAML)
	metricsFile := filepath.Join(dir, "run.prom")

	// 运行到 RequestInput 挂起
	code, out, errOut := execCLI("run",
		"--config", cfg,
		"--run-id", "cli-1",
		"--input", "billing",
		"--metrics-file", metricsFile,
		wf)
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, out, "Run cli-1 suspended")
	assert.Contains(t, out, "(executor ask)")
	assert.Contains(t, out, `"prompt":"name for billing?"`)
	token := pendingToken(t, out)

	prom, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `agentgraph_workflow_runs_total{status="suspended",workflow="greeter"} 1`)

	// 新进程语义：状态只能来自文件存储
	code, out, errOut = execCLI("resume",
		"--config", cfg,
		"--run-id", "cli-1",
		"--response", token+"=Ada",
		wf)
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, out, "Hello Ada, about billing")
	assert.Contains(t, out, "Run cli-1 completed")
	assert.NotContains(t, out, "Pending ")

	// 检查点列表
	code, out, errOut = execCLI("checkpoints", "list", "--config", cfg, "--run-id", "cli-1")
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, out, "CHECKPOINT")
	assert.Contains(t, out, "Total: ")

	// 最新检查点与谱系
	code, out, errOut = execCLI("checkpoints", "show", "--config", cfg, "--run-id", "cli-1", "--data")
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, out, "Run:        cli-1")
	assert.Contains(t, out, "Lineage:    ")
	assert.Contains(t, out, " -> ")
	assert.Contains(t, out, "{")

	// 未知 run
	code, out, _ = execCLI("checkpoints", "list", "--config", cfg, "--run-id", "nobody")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "No checkpoints for run nobody.")

	code, _, errOut = execCLI("checkpoints", "show", "--config", cfg, "--run-id", "cli-1", "--checkpoint", "missing")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, errOut, "not found")
}

func TestResume_UnknownToken(t *testing.T) {
	dir := t.TempDir()
	cfg := fileStoreConfig(t, dir)
	wf := writeFile(t, dir, "greeter.yaml", greeterYAML)

	code, _, errOut := execCLI("run", "--config", cfg, "--run-id", "cli-2", "--input", "x", wf)
	require.Equal(t, exitOK, code, errOut)

	code, _, errOut = execCLI("resume", "--config", cfg, "--run-id", "cli-2", "--response", "bogus=1", wf)
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, errOut, "Run failed")
	assert.Contains(t, errOut, "bogus")
}

func TestRun_VarsAndEnv(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "agentgraph.yaml", "log:\n  level: error\n")
	wf := writeFile(t, dir, "hello.yaml", `
name: hello
variables:
  name:
    required: true
actions:
  - kind: SendActivity
    text: "Hi ${Local.name} from ${Env.region}"
`)

	code, out, errOut := execCLI("run", "--config", cfg, "--vars", `{"name":"Grace"}`, "--env", "region=eu-west", wf)
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, out, "Hi Grace from eu-west")
	assert.Contains(t, out, "completed")
	assert.NotContains(t, out, "EXECUTOR")

	code, out, errOut = execCLI("run", "--config", cfg, "--trace", "--vars", `{"name":"Grace"}`, wf)
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, out, "STEP")
	assert.Contains(t, out, "EXECUTOR")
	assert.Contains(t, out, "sendactivity_1")

	// 缺少必填变量
	code, _, errOut = execCLI("run", "--config", cfg, "--vars", `{}`, wf)
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, errOut, `missing required input "name"`)

	// 未开启指标时写 textfile 报错但不影响退出码
	code, _, errOut = execCLI("run", "--config", cfg, "--vars", `{"name":"x"}`, "--metrics-file", filepath.Join(dir, "m.prom"), wf)
	assert.Equal(t, exitOK, code)
	assert.Contains(t, errOut, "metrics.enabled is false")
}

func TestRun_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "agentgraph.yaml", "checkpoint:\n  type: tape\n")
	wf := writeFile(t, dir, "greeter.yaml", greeterYAML)

	code, _, errOut := execCLI("run", "--config", cfg, wf)
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, errOut, "invalid config")
	assert.Contains(t, errOut, `unsupported checkpoint.type "tape"`)
}

// =============================================================================
// 🗄️ migrate
// =============================================================================

func TestMigrate_SQLite(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "agentgraph.yaml", fmt.Sprintf(`
database:
  driver: sqlite
  name: %s
log:
  level: error
`, filepath.Join(dir, "agentgraph.db")))

	code, out, errOut := execCLI("migrate", "up", "--config", cfg)
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, out, "Checkpoint schema at version 2 (0 pending)")

	code, out, _ = execCLI("migrate", "version", "--config", cfg)
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "Current version: 2")

	code, out, _ = execCLI("migrate", "status", "--config", cfg)
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "Applied: 2, Pending: 0")

	code, out, errOut = execCLI("migrate", "goto", "1", "--config", cfg)
	require.Equal(t, exitOK, code, errOut)

	code, out, _ = execCLI("migrate", "version", "--config", cfg)
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "Current version: 1")

	code, _, errOut = execCLI("migrate", "goto", "abc", "--config", cfg)
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, errOut, "invalid version number")

	code, out, errOut = execCLI("migrate", "reset", "--config", cfg)
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, out, "All migrations rolled back")
}
