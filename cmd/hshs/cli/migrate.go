package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mehaotian/hshs-server-sub001/internal/rbac/migrate"
)

// MigrateMode enumerates supported execution strategies.
type MigrateMode string

const (
	// MigrateModeDry previews the grants a run would create without writing.
	MigrateModeDry MigrateMode = "dry"
	// MigrateModeExecute performs the migration after confirmation.
	MigrateModeExecute MigrateMode = "execute"
	// MigrateModeVerify compares the association table against the legacy JSON.
	MigrateModeVerify MigrateMode = "verify"
	// MigrateModeRollback removes the grants stamped with a previous run id.
	MigrateModeRollback MigrateMode = "rollback"
)

// MigrateOptions configures the migration command execution.
type MigrateOptions struct {
	Mode       MigrateMode
	RunID      string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
	Stdin      io.Reader
	Confirm    func(io.Reader, io.Writer) (bool, error)
}

// MigrateCLI executes legacy permission migration workflows.
type MigrateCLI struct {
	migrator *migrate.Migrator
}

// NewMigrateCLI wires the command with its migrator.
func NewMigrateCLI(migrator *migrate.Migrator) *MigrateCLI {
	return &MigrateCLI{migrator: migrator}
}

// Run executes the selected mode and returns a process exit code. Dry runs
// and verification exit 10 when work remains, so scripts can branch on it.
func (c *MigrateCLI) Run(ctx context.Context, opts MigrateOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Mode == "" {
		opts.Mode = MigrateModeDry
	}
	mode := MigrateMode(strings.ToLower(string(opts.Mode)))

	switch mode {
	case MigrateModeDry:
		return c.runDry(ctx, opts)
	case MigrateModeExecute:
		return c.runExecute(ctx, opts)
	case MigrateModeVerify:
		return c.runVerify(ctx, opts)
	case MigrateModeRollback:
		return c.runRollback(ctx, opts)
	default:
		fmt.Fprintf(opts.Stderr, "rbac migrate: invalid mode %q (expected dry, execute, verify or rollback)\n", opts.Mode)
		return 1
	}
}

func (c *MigrateCLI) runDry(ctx context.Context, opts MigrateOptions) int {
	report, err := c.migrator.DryRun(ctx)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "rbac migrate: dry run: %v\n", err)
		return 1
	}
	if err := writeOutput(opts, report, renderReportHuman); err != nil {
		fmt.Fprintf(opts.Stderr, "rbac migrate: %v\n", err)
		return 1
	}
	if report.Created > 0 || report.Missing > 0 {
		return 10
	}
	return 0
}

func (c *MigrateCLI) runExecute(ctx context.Context, opts MigrateOptions) int {
	confirm := opts.Confirm
	if confirm == nil {
		confirm = defaultConfirm
	}
	ok, err := confirm(opts.Stdin, opts.Stdout)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "rbac migrate: confirmation failed: %v\n", err)
		return 1
	}
	if !ok {
		fmt.Fprintln(opts.Stderr, "rbac migrate: cancelled by user")
		return 1
	}
	report, err := c.migrator.Execute(ctx)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "rbac migrate: execute: %v\n", err)
		return 1
	}
	if err := writeOutput(opts, report, renderReportHuman); err != nil {
		fmt.Fprintf(opts.Stderr, "rbac migrate: %v\n", err)
		return 1
	}
	if report.Outcome != migrate.OutcomeSuccess {
		return 1
	}
	return 0
}

func (c *MigrateCLI) runVerify(ctx context.Context, opts MigrateOptions) int {
	report, err := c.migrator.Verify(ctx)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "rbac migrate: verify: %v\n", err)
		return 1
	}
	if err := writeOutput(opts, report, renderVerifyHuman); err != nil {
		fmt.Fprintf(opts.Stderr, "rbac migrate: %v\n", err)
		return 1
	}
	if report.Discrepancies > 0 {
		return 10
	}
	return 0
}

func (c *MigrateCLI) runRollback(ctx context.Context, opts MigrateOptions) int {
	runID := strings.TrimSpace(opts.RunID)
	if runID == "" {
		fmt.Fprintln(opts.Stderr, "rbac migrate: --run-id is required for rollback")
		return 1
	}
	confirm := opts.Confirm
	if confirm == nil {
		confirm = defaultConfirm
	}
	ok, err := confirm(opts.Stdin, opts.Stdout)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "rbac migrate: confirmation failed: %v\n", err)
		return 1
	}
	if !ok {
		fmt.Fprintln(opts.Stderr, "rbac migrate: cancelled by user")
		return 1
	}
	report, err := c.migrator.Rollback(ctx, runID)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "rbac migrate: rollback: %v\n", err)
		return 1
	}
	if err := writeOutput(opts, report, renderRollbackHuman); err != nil {
		fmt.Fprintf(opts.Stderr, "rbac migrate: %v\n", err)
		return 1
	}
	return 0
}

func writeOutput[T any](opts MigrateOptions, report T, human func(io.Writer, T)) error {
	if opts.JSONOutput {
		return json.NewEncoder(opts.Stdout).Encode(report)
	}
	human(opts.Stdout, report)
	return nil
}

func renderReportHuman(out io.Writer, report migrate.Report) {
	if report.RunID == "" {
		fmt.Fprintln(out, "Migration plan (dry run):")
	} else {
		fmt.Fprintf(out, "Migration run %s (%s):\n", report.RunID, report.Outcome)
	}
	for _, role := range report.Roles {
		fmt.Fprintf(out, " - %s (id %d): %d created, %d skipped, %d missing, %d failed\n",
			role.RoleName, role.RoleID, len(role.Created), len(role.Skipped), len(role.Missing), len(role.Errors))
		for _, identifier := range role.Missing {
			fmt.Fprintf(out, "     missing catalog entry: %s\n", identifier)
		}
		for _, msg := range role.Errors {
			fmt.Fprintf(out, "     error: %s\n", msg)
		}
	}
	fmt.Fprintf(out, "Total: %d created, %d skipped, %d missing, %d failed\n",
		report.Created, report.Skipped, report.Missing, report.Failed)
}

func renderVerifyHuman(out io.Writer, report migrate.VerifyReport) {
	if report.Discrepancies == 0 {
		fmt.Fprintln(out, "No discrepancies found.")
		return
	}
	fmt.Fprintf(out, "%d discrepancy(ies) found:\n", report.Discrepancies)
	for _, role := range report.Roles {
		fmt.Fprintf(out, " - %s (id %d)\n", role.RoleName, role.RoleID)
		for _, identifier := range role.Missing {
			fmt.Fprintf(out, "     missing: %s\n", identifier)
		}
		for _, identifier := range role.Extra {
			fmt.Fprintf(out, "     extra: %s\n", identifier)
		}
	}
}

func renderRollbackHuman(out io.Writer, report migrate.RollbackReport) {
	fmt.Fprintf(out, "Rolled back run %s: %d grant(s) removed\n", report.RunID, report.Deleted)
}

func defaultConfirm(r io.Reader, w io.Writer) (bool, error) {
	fmt.Fprint(w, "Apply permission migration changes? Type YES to confirm: ")
	reader := bufio.NewReader(r)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(line), "YES"), nil
}
