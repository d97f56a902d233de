package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finverity/mbmigrate/internal/mbclient"
	"github.com/finverity/mbmigrate/internal/model"
)

func TestLoadDatabaseMapByIDWinsOverByName(t *testing.T) {
	s := New()
	dbMap := model.DatabaseMap{
		ByID:   map[string]int{"1": 100},
		ByName: map[string]int{"warehouse": 999},
	}
	manifestDatabases := map[int]string{1: "warehouse", 2: "staging"}

	require.NoError(t, s.LoadDatabaseMap(dbMap, manifestDatabases))

	got, ok := s.ResolveDatabase(1)
	assert.True(t, ok)
	assert.Equal(t, 100, got) // by_id wins, not 999

	_, ok = s.ResolveDatabase(2)
	assert.False(t, ok) // no by_id and no by_name match for "staging"
}

func TestLoadDatabaseMapFallsBackToByName(t *testing.T) {
	s := New()
	dbMap := model.DatabaseMap{
		ByID:   map[string]int{},
		ByName: map[string]int{"staging": 200},
	}
	manifestDatabases := map[int]string{2: "staging"}

	require.NoError(t, s.LoadDatabaseMap(dbMap, manifestDatabases))

	got, ok := s.ResolveDatabase(2)
	assert.True(t, ok)
	assert.Equal(t, 200, got)
}

func TestLoadDatabaseMapRejectsNonIntegerByIDKey(t *testing.T) {
	s := New()
	dbMap := model.DatabaseMap{ByID: map[string]int{"not-a-number": 5}}
	err := s.LoadDatabaseMap(dbMap, nil)
	assert.Error(t, err)
}

func TestRegisterCollectionIsMonotonic(t *testing.T) {
	s := New()
	s.RegisterCollection(10, 500)
	s.RegisterCollection(10, 999) // must not overwrite

	got, ok := s.ResolveCollection(10)
	assert.True(t, ok)
	assert.Equal(t, 500, got)
}

func TestRegisterQuestionIsMonotonic(t *testing.T) {
	s := New()
	s.RegisterQuestion(7, 70)
	s.RegisterQuestion(7, 71)

	got, ok := s.ResolveQuestion(7)
	assert.True(t, ok)
	assert.Equal(t, 70, got)
}

func TestResolveCollectionUnknown(t *testing.T) {
	s := New()
	_, ok := s.ResolveCollection(404)
	assert.False(t, ok)
}

type fakeMetadataClient struct {
	mbclient.Client
	metadata map[int]mbclient.Payload
}

func (f *fakeMetadataClient) GetDatabaseMetadata(ctx context.Context, id int) (mbclient.Payload, error) {
	return f.metadata[id], nil
}

func TestBuildTableAndFieldMapsMatchesByName(t *testing.T) {
	s := New()
	s.registerDatabase(1, 100)

	client := &fakeMetadataClient{metadata: map[int]mbclient.Payload{
		100: {
			"tables": []any{
				mbclient.Payload{
					"name": "orders",
					"id":   float64(9001),
					"fields": []any{
						mbclient.Payload{"name": "total", "id": float64(42)},
					},
				},
			},
		},
	}}

	sourceDatabases := []model.Database{
		{
			ID: 1,
			Tables: []model.DatabaseTable{
				{ID: 5, Name: "orders", Fields: []model.DatabaseField{{ID: 6, Name: "total"}}},
			},
		},
	}

	require.NoError(t, s.BuildTableAndFieldMaps(context.Background(), client, sourceDatabases))

	tgtTable, ok := s.ResolveTable(1, 5)
	assert.True(t, ok)
	assert.Equal(t, 9001, tgtTable)

	tgtField, ok := s.ResolveField(1, 6)
	assert.True(t, ok)
	assert.Equal(t, 42, tgtField)
}

func TestBuildTableAndFieldMapsSkipsUnmatchedTable(t *testing.T) {
	s := New()
	s.registerDatabase(1, 100)

	client := &fakeMetadataClient{metadata: map[int]mbclient.Payload{
		100: {"tables": []any{}},
	}}

	sourceDatabases := []model.Database{
		{ID: 1, Tables: []model.DatabaseTable{{ID: 5, Name: "orders"}}},
	}

	require.NoError(t, s.BuildTableAndFieldMaps(context.Background(), client, sourceDatabases))

	_, ok := s.ResolveTable(1, 5)
	assert.False(t, ok)
}

func TestDatabaseIDsSnapshotIsIndependent(t *testing.T) {
	s := New()
	s.registerDatabase(1, 100)

	ids := s.DatabaseIDs()
	ids[1] = 999 // mutating the returned copy must not affect the resolver

	got, _ := s.ResolveDatabase(1)
	assert.Equal(t, 100, got)
}
