package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
)

// CLI 把 Migrator 的操作结果写成终端可读的文本，供 agentgraph migrate 使用
type CLI struct {
	migrator Migrator
	output   io.Writer
}

// NewCLI 创建输出到 stdout 的 CLI
func NewCLI(migrator Migrator) *CLI {
	return &CLI{migrator: migrator, output: os.Stdout}
}

// SetOutput 替换输出目标
func (c *CLI) SetOutput(w io.Writer) {
	c.output = w
}

func (c *CLI) printf(format string, args ...any) {
	fmt.Fprintf(c.output, format, args...)
}

// apply 打印 banner，执行 op，失败时以 verb 包装错误，成功后打印 report(info)
func (c *CLI) apply(ctx context.Context, banner, verb string, op func(context.Context) error, report func(*MigrationInfo)) error {
	c.printf("%s\n", banner)
	if err := op(ctx); err != nil {
		return fmt.Errorf("%s failed: %w", verb, err)
	}
	if report == nil {
		return nil
	}
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return err
	}
	report(info)
	return nil
}

// RunUp 应用全部未执行的迁移
func (c *CLI) RunUp(ctx context.Context) error {
	return c.apply(ctx, "Migrating checkpoint schema...", "migration", c.migrator.Up, func(info *MigrationInfo) {
		c.printf("Checkpoint schema at version %d (%d pending)\n", info.CurrentVersion, info.PendingMigrations)
	})
}

// RunDown 回滚最近一次迁移
func (c *CLI) RunDown(ctx context.Context) error {
	return c.apply(ctx, "Rolling back last migration...", "rollback", c.migrator.Down, func(info *MigrationInfo) {
		c.printf("Rollback complete. Current version: %d\n", info.CurrentVersion)
	})
}

// RunDownAll 回滚全部迁移，workflow_checkpoints 表会被删除
func (c *CLI) RunDownAll(ctx context.Context) error {
	err := c.apply(ctx, "Rolling back all migrations...", "rollback", c.migrator.DownAll, nil)
	if err == nil {
		c.printf("All migrations rolled back. workflow_checkpoints has been dropped.\n")
	}
	return err
}

// RunSteps n > 0 前进 n 步，n < 0 回退 |n| 步
func (c *CLI) RunSteps(ctx context.Context, n int) error {
	banner := fmt.Sprintf("Applying %d migration(s)...", n)
	if n < 0 {
		banner = fmt.Sprintf("Rolling back %d migration(s)...", -n)
	}
	op := func(ctx context.Context) error { return c.migrator.Steps(ctx, n) }
	return c.apply(ctx, banner, "migration steps", op, func(info *MigrationInfo) {
		c.printf("Complete. Current version: %d\n", info.CurrentVersion)
	})
}

// RunGoto 迁移到指定版本
func (c *CLI) RunGoto(ctx context.Context, version uint) error {
	op := func(ctx context.Context) error { return c.migrator.Goto(ctx, version) }
	return c.apply(ctx, fmt.Sprintf("Migrating to version %d...", version), "migration", op, func(info *MigrationInfo) {
		c.printf("Migration complete. Current version: %d\n", info.CurrentVersion)
	})
}

// RunForce 强制设置版本并清除 dirty 标记，不执行任何 SQL
func (c *CLI) RunForce(ctx context.Context, version int) error {
	op := func(ctx context.Context) error { return c.migrator.Force(ctx, version) }
	err := c.apply(ctx, fmt.Sprintf("Forcing version to %d...", version), "force", op, nil)
	if err == nil {
		c.printf("Version forced to %d\n", version)
	}
	return err
}

// RunVersion 打印当前版本
func (c *CLI) RunVersion(ctx context.Context) error {
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return fmt.Errorf("failed to get version: %w", err)
	}
	switch {
	case version == 0:
		c.printf("No migrations applied yet.\n")
	case dirty:
		c.printf("Current version: %d (dirty)\n", version)
	default:
		c.printf("Current version: %d\n", version)
	}
	return nil
}

// RunStatus 以表格列出每个迁移文件的状态
func (c *CLI) RunStatus(ctx context.Context) error {
	statuses, err := c.migrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	if len(statuses) == 0 {
		c.printf("No migrations found.\n")
		return nil
	}

	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATUS")
	for _, s := range statuses {
		fmt.Fprintf(w, "%06d\t%s\t%s\n", s.Version, s.Name, s.label())
	}
	if err := w.Flush(); err != nil {
		return err
	}

	info, err := c.migrator.Info(ctx)
	if err != nil {
		return err
	}
	c.printf("\nTotal: %d, Applied: %d, Pending: %d\n",
		info.TotalMigrations, info.AppliedMigrations, info.PendingMigrations)
	return nil
}

// RunInfo 打印迁移汇总
func (c *CLI) RunInfo(ctx context.Context) error {
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get info: %w", err)
	}

	w := tabwriter.NewWriter(c.output, 0, 0, 1, ' ', 0)
	fmt.Fprintln(w, "Checkpoint schema:")
	fmt.Fprintf(w, "  Current Version:\t%d\n", info.CurrentVersion)
	fmt.Fprintf(w, "  Dirty:\t%v\n", info.Dirty)
	fmt.Fprintf(w, "  Total Migrations:\t%d\n", info.TotalMigrations)
	fmt.Fprintf(w, "  Applied Migrations:\t%d\n", info.AppliedMigrations)
	fmt.Fprintf(w, "  Pending Migrations:\t%d\n", info.PendingMigrations)
	return w.Flush()
}
