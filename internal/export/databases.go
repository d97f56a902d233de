package export

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/finverity/mbmigrate/internal/mbclient"
	"github.com/finverity/mbmigrate/internal/model"
)

// maxConcurrentMetadataFetches bounds the one parallel-fetch exception the
// concurrency model explicitly allows: "export-side parallel fetching
// would be safe but is not required." A modest cap keeps this polite
// toward the source instance's rate limits.
const maxConcurrentMetadataFetches = 4

// SnapshotDatabases lists every source database and captures each one's
// table/field metadata (names and local ids). The result is never mutated
// again and the source is never written to.
func SnapshotDatabases(ctx context.Context, client mbclient.Client) ([]model.Database, error) {
	raw, err := client.GetDatabases(ctx)
	if err != nil {
		return nil, fmt.Errorf("list source databases: %w", err)
	}

	result := make([]model.Database, len(raw))
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(maxConcurrentMetadataFetches)

	for i, db := range raw {
		i, db := i, db
		id, name, ok := databaseIdentity(db)
		if !ok {
			continue
		}
		group.Go(func() error {
			meta, err := client.GetDatabaseMetadata(gctx, id)
			if err != nil {
				return fmt.Errorf("fetch metadata for database %d (%s): %w", id, name, err)
			}
			result[i] = model.Database{
				ID:     id,
				Name:   name,
				Tables: tablesFromMetadata(meta),
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func databaseIdentity(db mbclient.Payload) (id int, name string, ok bool) {
	idFloat, okID := db["id"].(float64)
	n, okName := db["name"].(string)
	if !okID || !okName {
		return 0, "", false
	}
	return int(idFloat), n, true
}

func tablesFromMetadata(meta mbclient.Payload) []model.DatabaseTable {
	rawTables, _ := meta["tables"].([]any)
	tables := make([]model.DatabaseTable, 0, len(rawTables))
	for _, rt := range rawTables {
		t, ok := rt.(mbclient.Payload)
		if !ok {
			continue
		}
		idFloat, _ := t["id"].(float64)
		name, _ := t["name"].(string)

		rawFields, _ := t["fields"].([]any)
		fields := make([]model.DatabaseField, 0, len(rawFields))
		for _, rf := range rawFields {
			f, ok := rf.(mbclient.Payload)
			if !ok {
				continue
			}
			fIDFloat, _ := f["id"].(float64)
			fName, _ := f["name"].(string)
			fields = append(fields, model.DatabaseField{ID: int(fIDFloat), Name: fName})
		}

		tables = append(tables, model.DatabaseTable{ID: int(idFloat), Name: name, Fields: fields})
	}
	return tables
}
