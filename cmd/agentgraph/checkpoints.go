package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/workflow/checkpoint"
)

// =============================================================================
// 🗂️ checkpoints 命令
// =============================================================================

func runCheckpoints(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printCheckpointsUsage(stderr)
		return exitUsage
	}

	switch args[0] {
	case "list":
		return runCheckpointsList(args[1:], stdout, stderr)
	case "show":
		return runCheckpointsShow(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		printCheckpointsUsage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "Unknown checkpoints subcommand: %s\n", args[0])
		printCheckpointsUsage(stderr)
		return exitUsage
	}
}

func printCheckpointsUsage(w io.Writer) {
	fmt.Fprintln(w, `Checkpoint Inspection Commands

Usage:
  agentgraph checkpoints <subcommand> --run-id <id> [options]

Subcommands:
  list    List the checkpoints of a run in commit order
  show    Show a checkpoint with its lineage (default: latest)

Options:
  --config <path>       Path to configuration file (YAML)
  --run-id <id>         Run ID (required)
  --checkpoint <id>     Checkpoint ID (show only)
  --data                Print the checkpoint payload (show only)`)
}

// withStore 只打开检查点存储，不创建引擎
func withStore(configPath string, stderr io.Writer, fn func(ctx context.Context, store checkpoint.Store) int) int {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailure
	}
	defer logger.Sync()

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to open checkpoint store: %v\n", err)
		return exitFailure
	}
	defer func() {
		if err := closeStore(ctx); err != nil {
			logger.Warn("failed to close checkpoint store", zap.Error(err))
		}
	}()

	return fn(ctx, store)
}

func runCheckpointsList(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("checkpoints list", stderr)
	configPath := fs.String("config", "", "Path to config file")
	runID := fs.String("run-id", "", "Run ID (required)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *runID == "" {
		fmt.Fprintln(stderr, "Usage: agentgraph checkpoints list --run-id <id>")
		return exitUsage
	}

	return withStore(*configPath, stderr, func(ctx context.Context, store checkpoint.Store) int {
		infos, err := store.ListIndex(ctx, *runID, nil)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to list checkpoints: %v\n", err)
			return exitFailure
		}
		if len(infos) == 0 {
			fmt.Fprintf(stdout, "No checkpoints for run %s.\n", *runID)
			return exitOK
		}

		inspector, _ := store.(checkpoint.Inspector)
		w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "#\tCHECKPOINT\tPARENT\tTYPE\tCREATED")
		for i, info := range infos {
			parent, typeID, created := "-", "-", "-"
			if inspector != nil {
				rec, err := inspector.Load(ctx, *runID, info)
				if err != nil {
					fmt.Fprintf(stderr, "Failed to load %s: %v\n", info, err)
					return exitFailure
				}
				if rec.Parent != nil {
					parent = rec.Parent.CheckpointID
				}
				typeID = rec.Value.TypeID
				created = rec.CreatedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i+1, info.CheckpointID, parent, typeID, created)
		}
		if err := w.Flush(); err != nil {
			fmt.Fprintf(stderr, "Failed to write output: %v\n", err)
			return exitFailure
		}
		fmt.Fprintf(stdout, "\nTotal: %d\n", len(infos))
		return exitOK
	})
}

func runCheckpointsShow(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("checkpoints show", stderr)
	configPath := fs.String("config", "", "Path to config file")
	runID := fs.String("run-id", "", "Run ID (required)")
	checkpointID := fs.String("checkpoint", "", "Checkpoint ID (default: latest)")
	withData := fs.Bool("data", false, "Print the checkpoint payload")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *runID == "" {
		fmt.Fprintln(stderr, "Usage: agentgraph checkpoints show --run-id <id> [--checkpoint <id>] [--data]")
		return exitUsage
	}

	return withStore(*configPath, stderr, func(ctx context.Context, store checkpoint.Store) int {
		inspector, ok := store.(checkpoint.Inspector)
		if !ok {
			fmt.Fprintln(stderr, "Checkpoint store does not support inspection")
			return exitFailure
		}

		info := checkpoint.Info{RunID: *runID, CheckpointID: *checkpointID}
		if info.CheckpointID == "" {
			latest, err := checkpoint.Latest(ctx, store, *runID)
			if err != nil {
				fmt.Fprintf(stderr, "Failed to find latest checkpoint: %v\n", err)
				return exitFailure
			}
			info = latest
		}

		rec, err := inspector.Load(ctx, *runID, info)
		if err != nil {
			if errors.Is(err, checkpoint.ErrNotFound) {
				fmt.Fprintf(stderr, "Checkpoint %s not found\n", info)
			} else {
				fmt.Fprintf(stderr, "Failed to load checkpoint: %v\n", err)
			}
			return exitFailure
		}
		lineage, err := checkpoint.Lineage(ctx, inspector, *runID, info)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to trace lineage: %v\n", err)
			return exitFailure
		}

		parent := "-"
		if rec.Parent != nil {
			parent = rec.Parent.CheckpointID
		}
		ids := make([]string, 0, len(lineage))
		for _, l := range lineage {
			ids = append(ids, l.CheckpointID)
		}

		fmt.Fprintf(stdout, "Run:        %s\n", rec.RunID)
		fmt.Fprintf(stdout, "Checkpoint: %s\n", rec.CheckpointID)
		fmt.Fprintf(stdout, "Parent:     %s\n", parent)
		fmt.Fprintf(stdout, "Created:    %s\n", rec.CreatedAt.Format(time.RFC3339))
		fmt.Fprintf(stdout, "Type:       %s\n", rec.Value.TypeID)
		fmt.Fprintf(stdout, "Size:       %d bytes\n", len(rec.Value.Data))
		fmt.Fprintf(stdout, "Lineage:    %s\n", strings.Join(ids, " -> "))

		if *withData {
			var buf bytes.Buffer
			if err := json.Indent(&buf, rec.Value.Data, "", "  "); err != nil {
				fmt.Fprintf(stderr, "Invalid checkpoint payload: %v\n", err)
				return exitFailure
			}
			fmt.Fprintln(stdout)
			fmt.Fprintln(stdout, buf.String())
		}
		return exitOK
	})
}
