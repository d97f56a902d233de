package importpkg

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finverity/mbmigrate/internal/mbclient"
	"github.com/finverity/mbmigrate/internal/model"
	"github.com/finverity/mbmigrate/internal/resolver"
)

type fakePermissionsClient struct {
	mbclient.Client
	dataGraph mbclient.Payload
	collGraph mbclient.Payload
}

func (f *fakePermissionsClient) PutPermissionsGraph(ctx context.Context, graph mbclient.Payload) error {
	f.dataGraph = graph
	return nil
}

func (f *fakePermissionsClient) PutCollectionPermissionsGraph(ctx context.Context, graph mbclient.Payload) error {
	f.collGraph = graph
	return nil
}

func TestInstallPermissionsRewritesDatabaseKeys(t *testing.T) {
	res := resolver.New()
	res.RegisterCollection(1, 100) // unused here, sanity only
	require.NoError(t, res.LoadDatabaseMap(model.DatabaseMap{ByID: map[string]int{"5": 50}}, nil))

	pkg := &Package{
		PermissionsGraph: map[string]any{
			"groups": map[string]any{
				"1": map[string]any{
					"5":    map[string]any{"native": "write"},
					"root": map[string]any{"native": "none"},
				},
			},
		},
	}

	client := &fakePermissionsClient{}
	report := &model.Report{}
	require.NoError(t, InstallPermissions(context.Background(), client, pkg, res, report, false))

	groups := client.dataGraph["groups"].(mbclient.Payload)
	group1 := groups["1"].(mbclient.Payload)
	assert.Contains(t, group1, "50")
	assert.NotContains(t, group1, "5")
	assert.Contains(t, group1, "root")
}

func TestInstallPermissionsDropsUnresolvedEntity(t *testing.T) {
	res := resolver.New() // no database mapping at all
	pkg := &Package{
		PermissionsGraph: map[string]any{
			"groups": map[string]any{
				"1": map[string]any{"5": map[string]any{"native": "write"}},
			},
		},
	}
	client := &fakePermissionsClient{}
	report := &model.Report{}
	require.NoError(t, InstallPermissions(context.Background(), client, pkg, res, report, false))

	groups := client.dataGraph["groups"].(mbclient.Payload)
	group1 := groups["1"].(mbclient.Payload)
	assert.Empty(t, group1)
}

func TestInstallPermissionsDryRunMakesNoClientCalls(t *testing.T) {
	res := resolver.New()
	pkg := &Package{
		PermissionsGraph: map[string]any{"groups": map[string]any{}},
	}
	client := &fakePermissionsClient{}
	report := &model.Report{}
	require.NoError(t, InstallPermissions(context.Background(), client, pkg, res, report, true))

	assert.Nil(t, client.dataGraph)
	require.Len(t, report.Items, 1)
	assert.Equal(t, model.StatusUpdated, report.Items[0].Status)
}

func TestInstallPermissionsNoGraphsIsNoOp(t *testing.T) {
	res := resolver.New()
	pkg := &Package{}
	client := &fakePermissionsClient{}
	report := &model.Report{}
	require.NoError(t, InstallPermissions(context.Background(), client, pkg, res, report, false))
	assert.Empty(t, report.Items)
}
