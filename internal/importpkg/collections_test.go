package importpkg

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finverity/mbmigrate/internal/mbclient"
	"github.com/finverity/mbmigrate/internal/model"
	"github.com/finverity/mbmigrate/internal/resolver"
)

type fakeCollectionClient struct {
	mbclient.Client
	items      map[string][]mbclient.CollectionItem
	nextID     int
	created    []mbclient.Payload
	updated    map[int]mbclient.Payload
	failNames  map[string]bool
}

func newFakeCollectionClient() *fakeCollectionClient {
	return &fakeCollectionClient{
		items:   map[string][]mbclient.CollectionItem{},
		nextID:  1000,
		updated: map[int]mbclient.Payload{},
	}
}

func (f *fakeCollectionClient) GetCollectionItems(ctx context.Context, collectionID string, filter mbclient.ItemFilter) ([]mbclient.CollectionItem, error) {
	return f.items[collectionID], nil
}

func (f *fakeCollectionClient) CreateCollection(ctx context.Context, fields mbclient.Payload) (mbclient.Payload, error) {
	if name, _ := fields["name"].(string); f.failNames[name] {
		return nil, fmt.Errorf("simulated create failure for %q", name)
	}
	f.nextID++
	f.created = append(f.created, fields)
	return mbclient.Payload{"id": float64(f.nextID)}, nil
}

func (f *fakeCollectionClient) UpdateCollection(ctx context.Context, id int, fields mbclient.Payload) (mbclient.Payload, error) {
	f.updated[id] = fields
	return mbclient.Payload{"id": float64(id)}, nil
}

func TestCollectionInstallerCreatesRootCollection(t *testing.T) {
	client := newFakeCollectionClient()
	res := resolver.New()
	report := &model.Report{}
	ci := NewCollectionInstaller(client, res, model.ConflictSkip, report)

	colls := []model.Collection{{ID: 1, Name: "Marketing", Path: "/1/"}}
	require.NoError(t, ci.InstallAll(context.Background(), colls, false))

	tgt, ok := res.ResolveCollection(1)
	assert.True(t, ok)
	assert.Equal(t, 1001, tgt)
	assert.Len(t, client.created, 1)
}

func TestCollectionInstallerParentFirstOrder(t *testing.T) {
	client := newFakeCollectionClient()
	res := resolver.New()
	report := &model.Report{}
	ci := NewCollectionInstaller(client, res, model.ConflictSkip, report)

	parentID := 1
	colls := []model.Collection{
		{ID: 2, Name: "Child", Path: "/1/2/", ParentID: &parentID},
		{ID: 1, Name: "Parent", Path: "/1/"},
	}
	require.NoError(t, ci.InstallAll(context.Background(), colls, false))

	_, ok := res.ResolveCollection(1)
	assert.True(t, ok)
	_, ok = res.ResolveCollection(2)
	assert.True(t, ok)
}

func TestCollectionInstallerSkipsPersonalCollections(t *testing.T) {
	client := newFakeCollectionClient()
	res := resolver.New()
	report := &model.Report{}
	ci := NewCollectionInstaller(client, res, model.ConflictSkip, report)

	owner := 42
	colls := []model.Collection{{ID: 3, Name: "My Stuff", Path: "/3/", PersonalOwnerID: &owner}}
	require.NoError(t, ci.InstallAll(context.Background(), colls, false))

	_, ok := res.ResolveCollection(3)
	assert.False(t, ok)
	assert.Empty(t, client.created)
	require.Len(t, report.Items, 1)
	assert.Equal(t, model.StatusSkipped, report.Items[0].Status)
}

func TestCollectionInstallerUnresolvedParentDoesNotAbortRun(t *testing.T) {
	client := newFakeCollectionClient()
	res := resolver.New()
	report := &model.Report{}
	ci := NewCollectionInstaller(client, res, model.ConflictSkip, report)

	missingParent := 999
	colls := []model.Collection{{ID: 2, Name: "Orphan", Path: "/999/2/", ParentID: &missingParent}}
	require.NoError(t, ci.InstallAll(context.Background(), colls, false))

	require.Len(t, report.Items, 1)
	assert.Equal(t, model.StatusFailed, report.Items[0].Status)
	assert.Contains(t, report.Items[0].Reason, "unresolved parent")
}

func TestCollectionInstallerFailedParentIsReportedAndChildStillAttempted(t *testing.T) {
	client := newFakeCollectionClient()
	client.failNames = map[string]bool{"BadParent": true}
	res := resolver.New()
	report := &model.Report{}
	ci := NewCollectionInstaller(client, res, model.ConflictSkip, report)

	parentID := 1
	colls := []model.Collection{
		{ID: 1, Name: "BadParent", Path: "/1/"},
		{ID: 2, Name: "Child", Path: "/1/2/", ParentID: &parentID},
	}
	require.NoError(t, ci.InstallAll(context.Background(), colls, false))

	require.Len(t, report.Items, 2)
	byID := map[int]model.ReportItem{}
	for _, item := range report.Items {
		byID[item.SourceID] = item
	}
	require.Contains(t, byID, 1)
	require.Contains(t, byID, 2)
	assert.Equal(t, model.StatusFailed, byID[1].Status)
	assert.Equal(t, model.StatusFailed, byID[2].Status)

	_, ok := res.ResolveCollection(1)
	assert.False(t, ok)
	_, ok = res.ResolveCollection(2)
	assert.False(t, ok)
}

func TestCollectionInstallerDryRunMakesNoClientCalls(t *testing.T) {
	client := newFakeCollectionClient()
	res := resolver.New()
	report := &model.Report{}
	ci := NewCollectionInstaller(client, res, model.ConflictSkip, report)

	colls := []model.Collection{{ID: 1, Name: "Marketing", Path: "/1/"}}
	require.NoError(t, ci.InstallAll(context.Background(), colls, true))

	tgt, ok := res.ResolveCollection(1)
	assert.True(t, ok)
	assert.Equal(t, 1, tgt) // dry run registers source id as its own target
	assert.Empty(t, client.created)
}

func TestCollectionInstallerRenameOnConflict(t *testing.T) {
	client := newFakeCollectionClient()
	client.items["root"] = []mbclient.CollectionItem{{ID: 55, Name: "Marketing", Model: "collection"}}
	res := resolver.New()
	report := &model.Report{}
	ci := NewCollectionInstaller(client, res, model.ConflictRename, report)

	colls := []model.Collection{{ID: 1, Name: "Marketing", Path: "/1/"}}
	require.NoError(t, ci.InstallAll(context.Background(), colls, false))

	require.Len(t, client.created, 1)
	assert.Equal(t, "Marketing (1)", client.created[0]["name"])
}
