package export

import (
	"context"

	"github.com/finverity/mbmigrate/internal/model"
)

// SnapshotPermissions captures the group list and the two permission
// graphs verbatim. A failure here is non-fatal to the overall export —
// the run continues without permissions data, matching the original
// tool's "export will continue without permissions data" behavior, since
// permissions are peripheral per §1's scope statement.
func SnapshotPermissions(ctx context.Context, session *Session) {
	raw, err := session.Client.GetPermissionGroups(ctx)
	if err != nil {
		warnf("failed to fetch permission groups: %v", err)
		warnf("permissions export failed; continuing without permissions data")
		return
	}
	for _, g := range raw {
		idFloat, _ := g["id"].(float64)
		name, _ := g["name"].(string)
		memberCount, _ := g["member_count"].(float64)
		session.PermissionGroups = append(session.PermissionGroups, model.PermissionGroup{
			ID:          int(idFloat),
			Name:        name,
			MemberCount: int(memberCount),
		})
	}

	graph, err := session.Client.GetPermissionsGraph(ctx)
	if err != nil {
		warnf("failed to fetch permissions graph: %v", err)
	} else {
		session.PermissionsGraph = graph
	}

	collGraph, err := session.Client.GetCollectionPermissionsGraph(ctx)
	if err != nil {
		warnf("failed to fetch collection permissions graph: %v", err)
	} else {
		session.CollectionPermissionsGraph = collGraph
	}
}
