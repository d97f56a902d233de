package importpkg

import (
	"context"
	"errors"
	"fmt"

	"github.com/finverity/mbmigrate/internal/mbclient"
	"github.com/finverity/mbmigrate/internal/model"
	"github.com/finverity/mbmigrate/internal/resolver"
)

// Options configures a single import run.
type Options struct {
	PackageDir       string
	DBMapPath        string
	TargetClient     mbclient.Client
	IncludeArchived  bool
	IncludePermissions bool
	ConflictStrategy model.ConflictStrategy
	DryRun           bool
}

// RunResult summarizes a completed (or aborted) import, for the CLI to
// print and to choose an exit code from.
type RunResult struct {
	Report     *model.Report
	ReportPath string
	QuestionsAttempted int
}

// Run executes the full import pipeline: load, validate, install
// collections, questions (in dependency order), dashboards, and
// (optionally) permissions, writing a report at the end regardless of
// how far the run got. Package-load and db-map errors are wrapped in
// model.ErrConfig and validation errors in model.ErrMapping (the kinds
// that abort before any write per §7). A failure to build the table/field
// maps, to read a card file, or to write the report is returned
// without either wrapper. Item-level failures are captured per-item in the
// report instead of aborting the run.
func Run(ctx context.Context, opts Options) (*RunResult, error) {
	report := &model.Report{}

	pkg, err := LoadPackage(opts.PackageDir, opts.DBMapPath)
	if err != nil {
		path, writeErr := WriteReport(opts.PackageDir, report)
		if writeErr != nil {
			warnf("failed to write import report: %v", writeErr)
		}
		return &RunResult{Report: report, ReportPath: path}, err // already wrapped in model.ErrConfig
	}

	res := resolver.New()
	if err := res.LoadDatabaseMap(pkg.DBMap, pkg.Databases); err != nil {
		path, writeErr := WriteReport(opts.PackageDir, report)
		if writeErr != nil {
			warnf("failed to write import report: %v", writeErr)
		}
		return &RunResult{Report: report, ReportPath: path}, fmt.Errorf("%w: %v", model.ErrConfig, err)
	}

	if err := Validate(ctx, pkg, res, opts.TargetClient, opts.IncludeArchived); err != nil {
		path, writeErr := WriteReport(opts.PackageDir, report)
		if writeErr != nil {
			warnf("failed to write import report: %v", writeErr)
		}
		return &RunResult{Report: report, ReportPath: path}, err // already wrapped in model.ErrMapping
	}

	if err := res.BuildTableAndFieldMaps(ctx, opts.TargetClient, pkg.DatabasesList); err != nil {
		path, writeErr := WriteReport(opts.PackageDir, report)
		if writeErr != nil {
			warnf("failed to write import report: %v", writeErr)
		}
		return &RunResult{Report: report, ReportPath: path}, fmt.Errorf("build table/field maps: %w", err)
	}

	collInstaller := NewCollectionInstaller(opts.TargetClient, res, opts.ConflictStrategy, report)
	if err := collInstaller.InstallAll(ctx, pkg.Collections, opts.DryRun); err != nil {
		warnf("collection install pass returned an error: %v", err)
	}

	qInstaller := NewQuestionInstaller(opts.TargetClient, res, opts.ConflictStrategy, report)
	attempted, err := qInstaller.InstallAll(ctx, pkg, opts.IncludeArchived, opts.DryRun)
	if err != nil {
		path, writeErr := WriteReport(opts.PackageDir, report)
		if writeErr != nil {
			warnf("failed to write import report: %v", writeErr)
		}
		return &RunResult{Report: report, ReportPath: path, QuestionsAttempted: attempted}, fmt.Errorf("install questions: %w", err)
	}

	dInstaller := NewDashboardInstaller(opts.TargetClient, res, opts.ConflictStrategy, report)
	if err := dInstaller.InstallAll(ctx, pkg, opts.IncludeArchived, opts.DryRun); err != nil {
		warnf("dashboard install pass returned an error: %v", err)
	}

	if opts.IncludePermissions {
		if err := InstallPermissions(ctx, opts.TargetClient, pkg, res, report, opts.DryRun); err != nil {
			warnf("permissions install failed: %v", err)
		}
	}

	path, err := WriteReport(opts.PackageDir, report)
	if err != nil {
		return &RunResult{Report: report, QuestionsAttempted: attempted}, fmt.Errorf("write import report: %w", err)
	}

	return &RunResult{Report: report, ReportPath: path, QuestionsAttempted: attempted}, nil
}

// ExitCode maps a Run outcome to the process exit code described in §6:
// 0 success, 1 client/API (mapping) error, 2 bad package or missing
// files, 3 unexpected error, 4 import completed with at least one
// item-level failure.
func ExitCode(result *RunResult, err error) int {
	switch {
	case err == nil:
		if result != nil && result.Report != nil && result.Report.HasFailures() {
			return 4
		}
		return 0
	case errors.Is(err, model.ErrConfig):
		return 2
	case errors.Is(err, model.ErrMapping):
		return 1
	default:
		return 3
	}
}
