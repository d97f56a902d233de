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

type fakeDatabasesClient struct {
	mbclient.Client
	databases []mbclient.Payload
}

func (f *fakeDatabasesClient) GetDatabases(ctx context.Context) ([]mbclient.Payload, error) {
	return f.databases, nil
}

func TestValidateRejectsUnmappedDatabase(t *testing.T) {
	pkg := &Package{
		Databases: map[int]string{1: "warehouse"},
		Cards:     []model.Question{{ID: 10, DatabaseID: 1}},
	}
	res := resolver.New() // no database mapping loaded
	client := &fakeDatabasesClient{}

	err := Validate(context.Background(), pkg, res, client, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrMapping)
	assert.Contains(t, err.Error(), "warehouse")
	assert.Contains(t, err.Error(), "10")
}

func TestValidateIgnoresArchivedUnlessIncluded(t *testing.T) {
	pkg := &Package{
		Databases: map[int]string{1: "warehouse"},
		Cards:     []model.Question{{ID: 10, DatabaseID: 1, Archived: true}},
	}
	res := resolver.New()
	client := &fakeDatabasesClient{databases: []mbclient.Payload{}}

	err := Validate(context.Background(), pkg, res, client, false)
	assert.NoError(t, err)
}

func TestValidateRejectsMissingTargetDatabase(t *testing.T) {
	pkg := &Package{
		Databases: map[int]string{1: "warehouse"},
		Cards:     []model.Question{{ID: 10, DatabaseID: 1}},
	}
	res := resolver.New()
	require.NoError(t, res.LoadDatabaseMap(model.DatabaseMap{ByID: map[string]int{"1": 999}}, pkg.Databases))
	client := &fakeDatabasesClient{databases: []mbclient.Payload{
		{"id": float64(1), "name": "prod"},
	}}

	err := Validate(context.Background(), pkg, res, client, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrMapping)
	assert.Contains(t, err.Error(), "999")
}

func TestValidatePassesWhenEverythingMapped(t *testing.T) {
	pkg := &Package{
		Databases: map[int]string{1: "warehouse"},
		Cards:     []model.Question{{ID: 10, DatabaseID: 1}},
	}
	res := resolver.New()
	require.NoError(t, res.LoadDatabaseMap(model.DatabaseMap{ByID: map[string]int{"1": 100}}, pkg.Databases))
	client := &fakeDatabasesClient{databases: []mbclient.Payload{
		{"id": float64(100), "name": "prod"},
	}}

	assert.NoError(t, Validate(context.Background(), pkg, res, client, false))
}
