package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/BaSui01/agentgraph/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

// runMigrate handles the migrate command and its subcommands
func runMigrate(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printMigrateUsage(stderr)
		return exitUsage
	}

	subcommand := args[0]
	subargs := args[1:]

	var (
		positional int // goto / force / steps 需要一个位置参数
		action     func(ctx context.Context, cli *migration.CLI, arg string) error
	)
	switch subcommand {
	case "up":
		action = func(ctx context.Context, cli *migration.CLI, _ string) error { return cli.RunUp(ctx) }
	case "down":
		action = func(ctx context.Context, cli *migration.CLI, _ string) error { return cli.RunDown(ctx) }
	case "reset":
		action = func(ctx context.Context, cli *migration.CLI, _ string) error { return cli.RunDownAll(ctx) }
	case "status":
		action = func(ctx context.Context, cli *migration.CLI, _ string) error { return cli.RunStatus(ctx) }
	case "info":
		action = func(ctx context.Context, cli *migration.CLI, _ string) error { return cli.RunInfo(ctx) }
	case "version":
		action = func(ctx context.Context, cli *migration.CLI, _ string) error { return cli.RunVersion(ctx) }
	case "goto":
		positional = 1
		action = func(ctx context.Context, cli *migration.CLI, arg string) error {
			version, err := strconv.ParseUint(arg, 10, 32)
			if err != nil {
				return fmt.Errorf("invalid version number: %s", arg)
			}
			return cli.RunGoto(ctx, uint(version))
		}
	case "force":
		positional = 1
		action = func(ctx context.Context, cli *migration.CLI, arg string) error {
			version, err := strconv.ParseInt(arg, 10, 32)
			if err != nil {
				return fmt.Errorf("invalid version number: %s", arg)
			}
			return cli.RunForce(ctx, int(version))
		}
	case "steps":
		positional = 1
		action = func(ctx context.Context, cli *migration.CLI, arg string) error {
			n, err := strconv.Atoi(arg)
			if err != nil {
				return fmt.Errorf("invalid step count: %s", arg)
			}
			return cli.RunSteps(ctx, n)
		}
	case "help", "-h", "--help":
		printMigrateUsage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "Unknown migrate subcommand: %s\n", subcommand)
		printMigrateUsage(stderr)
		return exitUsage
	}

	var arg string
	if positional > 0 {
		if len(subargs) < 1 {
			fmt.Fprintf(stderr, "Usage: agentgraph migrate %s <n> [options]\n", subcommand)
			return exitUsage
		}
		arg, subargs = subargs[0], subargs[1:]
	}

	fs := newFlagSet("migrate "+subcommand, stderr)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")
	if err := fs.Parse(subargs); err != nil {
		return exitUsage
	}

	migrator, err := createMigrator(*configPath, *dbType, *dbURL)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to create migrator: %v\n", err)
		return exitFailure
	}
	defer migrator.Close()

	cli := migration.NewCLI(migrator)
	cli.SetOutput(stdout)

	if err := action(context.Background(), cli, arg); err != nil {
		fmt.Fprintf(stderr, "Migration %s failed: %v\n", subcommand, err)
		return exitFailure
	}
	return exitOK
}

// printMigrateUsage prints the usage information for migrate command
func printMigrateUsage(w io.Writer) {
	fmt.Fprintln(w, `Checkpoint Database Migration Commands

Usage:
  agentgraph migrate <subcommand> [options]

Subcommands:
  up          Apply all pending migrations
  down        Rollback the last migration
  steps <n>   Apply (n > 0) or rollback (n < 0) n migrations
  goto <v>    Migrate to a specific version
  force <v>   Force set migration version (use with caution)
  reset       Rollback all migrations
  status      Show migration status
  info        Show migration summary
  version     Show current migration version
  help        Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  agentgraph migrate up
  agentgraph migrate up --config /etc/agentgraph/config.yaml
  agentgraph migrate status --db-type sqlite --db-url "file:agentgraph.db?_pragma=foreign_keys(1)"
  agentgraph migrate goto 1
  agentgraph migrate force 0`)
}

// createMigrator creates a migrator from command line flags; --db-type and
// --db-url together bypass the database section of the config.
func createMigrator(configPath, dbType, dbURL string) (*migration.DefaultMigrator, error) {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	if dbType != "" && dbURL != "" {
		return migration.NewMigratorFromURL(dbType, dbURL, logger)
	}
	if dbType != "" {
		cfg.Database.Driver = dbType
	}
	return migration.NewMigratorFromDatabaseConfig(cfg.Database, logger)
}
