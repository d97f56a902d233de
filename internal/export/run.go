package export

import (
	"context"
	"fmt"
)

// RunResult summarizes a completed export.
type RunResult struct {
	ExportDir        string
	DatabaseCount    int
	CollectionCount  int
	CardCount        int
	DashboardCount   int
	PermissionsCount int
}

// Run executes the full export pipeline in the leaves-to-roots order
// described in §2: databases first (so the table/field metadata they
// carry is available for later reference), then the collection walk
// (which drives question and dashboard export as it descends), then
// permissions, and finally the manifest — written only once every other
// output has succeeded, per the ordering guarantee in §5.
func Run(ctx context.Context, session *Session, sourceURL, toolVersion, redactedCLIArgs string) (*RunResult, error) {
	databases, err := SnapshotDatabases(ctx, session.Client)
	if err != nil {
		return nil, fmt.Errorf("snapshot databases: %w", err)
	}
	session.Databases = databases

	qx := NewQuestionExporter(session)
	dx := NewDashboardExporter(session, qx)
	if err := WalkCollections(ctx, session, qx, dx); err != nil {
		return nil, fmt.Errorf("walk collections: %w", err)
	}

	if session.Opts.IncludePermissions {
		SnapshotPermissions(ctx, session)
	}

	meta := NewManifestMeta(sourceURL, toolVersion, redactedCLIArgs)
	if err := WriteManifest(session.Opts.ExportDir, meta, databases, session); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	return &RunResult{
		ExportDir:        session.Opts.ExportDir,
		DatabaseCount:    len(databases),
		CollectionCount:  len(session.Collections),
		CardCount:        len(session.Cards),
		DashboardCount:   len(session.Dashboards),
		PermissionsCount: len(session.PermissionGroups),
	}, nil
}
