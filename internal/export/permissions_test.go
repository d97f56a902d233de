package export

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finverity/mbmigrate/internal/mbclient"
)

type fakePermissionsExportClient struct {
	mbclient.Client
	groups       []mbclient.Payload
	graph        mbclient.Payload
	collGraph    mbclient.Payload
	groupsErr    error
	graphErr     error
	collGraphErr error
}

func (f *fakePermissionsExportClient) GetPermissionGroups(ctx context.Context) ([]mbclient.Payload, error) {
	return f.groups, f.groupsErr
}

func (f *fakePermissionsExportClient) GetPermissionsGraph(ctx context.Context) (mbclient.Payload, error) {
	return f.graph, f.graphErr
}

func (f *fakePermissionsExportClient) GetCollectionPermissionsGraph(ctx context.Context) (mbclient.Payload, error) {
	return f.collGraph, f.collGraphErr
}

func TestSnapshotPermissionsPopulatesGroupsAndGraphs(t *testing.T) {
	client := &fakePermissionsExportClient{
		groups:    []mbclient.Payload{{"id": float64(1), "name": "All Users", "member_count": float64(10)}},
		graph:     mbclient.Payload{"groups": map[string]any{}},
		collGraph: mbclient.Payload{"groups": map[string]any{}},
	}
	session := NewSession(client, Options{})
	SnapshotPermissions(context.Background(), session)

	require.Len(t, session.PermissionGroups, 1)
	assert.Equal(t, "All Users", session.PermissionGroups[0].Name)
	assert.Equal(t, 10, session.PermissionGroups[0].MemberCount)
	assert.NotNil(t, session.PermissionsGraph)
	assert.NotNil(t, session.CollectionPermissionsGraph)
}

func TestSnapshotPermissionsGroupsFetchFailureIsNonFatal(t *testing.T) {
	client := &fakePermissionsExportClient{groupsErr: assertError{"boom"}}
	session := NewSession(client, Options{})
	SnapshotPermissions(context.Background(), session)

	assert.Empty(t, session.PermissionGroups)
	assert.Nil(t, session.PermissionsGraph)
}

func TestSnapshotPermissionsGraphFailureStillKeepsGroups(t *testing.T) {
	client := &fakePermissionsExportClient{
		groups:   []mbclient.Payload{{"id": float64(1), "name": "All Users"}},
		graphErr: assertError{"graph unavailable"},
	}
	session := NewSession(client, Options{})
	SnapshotPermissions(context.Background(), session)

	require.Len(t, session.PermissionGroups, 1)
	assert.Nil(t, session.PermissionsGraph)
}
