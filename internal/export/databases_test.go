package export

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finverity/mbmigrate/internal/mbclient"
)

type fakeDatabaseClient struct {
	mbclient.Client
	databases []mbclient.Payload
	metadata  map[int]mbclient.Payload
}

func (f *fakeDatabaseClient) GetDatabases(ctx context.Context) ([]mbclient.Payload, error) {
	return f.databases, nil
}

func (f *fakeDatabaseClient) GetDatabaseMetadata(ctx context.Context, id int) (mbclient.Payload, error) {
	return f.metadata[id], nil
}

func TestSnapshotDatabasesCapturesTablesAndFields(t *testing.T) {
	client := &fakeDatabaseClient{
		databases: []mbclient.Payload{
			{"id": float64(1), "name": "warehouse"},
			{"id": float64(2), "name": "staging"},
		},
		metadata: map[int]mbclient.Payload{
			1: {"tables": []any{
				mbclient.Payload{"id": float64(10), "name": "orders", "fields": []any{
					mbclient.Payload{"id": float64(100), "name": "total"},
				}},
			}},
			2: {"tables": []any{}},
		},
	}

	dbs, err := SnapshotDatabases(context.Background(), client)
	require.NoError(t, err)
	require.Len(t, dbs, 2)

	assert.Equal(t, "warehouse", dbs[0].Name)
	require.Len(t, dbs[0].Tables, 1)
	assert.Equal(t, "orders", dbs[0].Tables[0].Name)
	require.Len(t, dbs[0].Tables[0].Fields, 1)
	assert.Equal(t, "total", dbs[0].Tables[0].Fields[0].Name)

	assert.Equal(t, "staging", dbs[1].Name)
	assert.Empty(t, dbs[1].Tables)
}

func TestSnapshotDatabasesPropagatesMetadataError(t *testing.T) {
	client := &fakeErrClient{databases: []mbclient.Payload{{"id": float64(1), "name": "warehouse"}}}
	_, err := SnapshotDatabases(context.Background(), client)
	require.Error(t, err)
}

type fakeErrClient struct {
	mbclient.Client
	databases []mbclient.Payload
}

func (f *fakeErrClient) GetDatabases(ctx context.Context) ([]mbclient.Payload, error) {
	return f.databases, nil
}

func (f *fakeErrClient) GetDatabaseMetadata(ctx context.Context, id int) (mbclient.Payload, error) {
	return nil, assertError{"metadata fetch failed"}
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }
