// Package resolver owns the identifier translation tables built up over
// the course of an import: database, (database, table), (database,
// field), collection, and question. It grows monotonically — entries are
// never replaced once set — and hands out a read-only view that satisfies
// rewrite.Resolver without that package needing to import this one.
package resolver

import (
	"context"
	"fmt"
	"os"

	"github.com/finverity/mbmigrate/internal/mbclient"
	"github.com/finverity/mbmigrate/internal/model"
)

type tableKey struct{ db, table int }
type fieldKey struct{ db, field int }

// State is the single owned resolver value. Immutably-observable handles
// (satisfying rewrite.Resolver) are passed to the rewriter; the mutating
// methods here are reserved for the installers, per the design note that
// mutable, lazily built resolver tables should be a single owned value
// with separate read and write capability.
type State struct {
	databases   map[int]int
	tables      map[tableKey]int
	fields      map[fieldKey]int
	collections map[int]int
	questions   map[int]int
}

// New builds an empty resolver.
func New() *State {
	return &State{
		databases:   make(map[int]int),
		tables:      make(map[tableKey]int),
		fields:      make(map[fieldKey]int),
		collections: make(map[int]int),
		questions:   make(map[int]int),
	}
}

// LoadDatabaseMap seeds the database table from the user-authored
// db_map.json, by_id first (it always wins over by_name for a given
// source id), then by_name for anything by_id didn't cover, resolving
// source names via the manifest's databases index.
func (s *State) LoadDatabaseMap(dbMap model.DatabaseMap, manifestDatabases map[int]string) error {
	for srcIDStr, tgtID := range dbMap.ByID {
		var srcID int
		if _, err := fmt.Sscanf(srcIDStr, "%d", &srcID); err != nil {
			return fmt.Errorf("db_map.json by_id key %q is not an integer: %w", srcIDStr, err)
		}
		s.registerDatabase(srcID, tgtID)
	}
	for srcID, name := range manifestDatabases {
		if _, ok := s.databases[srcID]; ok {
			continue // by_id already won
		}
		if tgtID, ok := dbMap.ByName[name]; ok {
			s.registerDatabase(srcID, tgtID)
		}
	}
	return nil
}

func (s *State) registerDatabase(srcID, tgtID int) {
	if _, exists := s.databases[srcID]; exists {
		return // monotonic: never replace an existing entry
	}
	s.databases[srcID] = tgtID
}

// BuildTableAndFieldMaps fetches each mapped target database's metadata
// once and matches source tables/fields to target tables/fields by name.
// A source table or field with no same-named target is logged at warn
// level (never fatal here) — a question that actually needs it fails at
// install time with a structured reason.
func (s *State) BuildTableAndFieldMaps(ctx context.Context, client mbclient.Client, sourceDatabases []model.Database) error {
	// Avoid refetching target metadata for databases mapped from
	// multiple source databases (unusual, but not forbidden).
	fetched := make(map[int]mbclient.Payload)

	for _, srcDB := range sourceDatabases {
		tgtDBID, ok := s.ResolveDatabase(srcDB.ID)
		if !ok {
			continue // Validator will have already rejected this if it matters.
		}

		meta, ok := fetched[tgtDBID]
		if !ok {
			m, err := client.GetDatabaseMetadata(ctx, tgtDBID)
			if err != nil {
				return fmt.Errorf("fetch target database %d metadata: %w", tgtDBID, err)
			}
			meta = m
			fetched[tgtDBID] = m
		}

		targetTablesByName := indexTablesByName(meta)

		for _, srcTable := range srcDB.Tables {
			tgtTable, ok := targetTablesByName[srcTable.Name]
			if !ok {
				fmt.Fprintf(os.Stderr, "Warning: no target table named %q in database %d (source table %d)\n", srcTable.Name, tgtDBID, srcTable.ID)
				continue
			}
			s.registerTable(srcDB.ID, srcTable.ID, tgtTable.id)

			targetFieldsByName := tgtTable.fieldsByName
			for _, srcField := range srcTable.Fields {
				tgtFieldID, ok := targetFieldsByName[srcField.Name]
				if !ok {
					fmt.Fprintf(os.Stderr, "Warning: no target field named %q in table %q (database %d)\n", srcField.Name, srcTable.Name, tgtDBID)
					continue
				}
				s.registerField(srcDB.ID, srcField.ID, tgtFieldID)
			}
		}
	}
	return nil
}

type targetTable struct {
	id           int
	fieldsByName map[string]int
}

// indexTablesByName flattens a get_database_metadata payload's tables
// list into a name-keyed index, tolerant of the metadata response's
// numeric fields decoding as float64.
func indexTablesByName(meta mbclient.Payload) map[string]targetTable {
	out := make(map[string]targetTable)
	tables, _ := meta["tables"].([]any)
	for _, t := range tables {
		table, ok := t.(mbclient.Payload)
		if !ok {
			continue
		}
		name, _ := table["name"].(string)
		idFloat, _ := table["id"].(float64)

		fieldsByName := make(map[string]int)
		fields, _ := table["fields"].([]any)
		for _, f := range fields {
			field, ok := f.(mbclient.Payload)
			if !ok {
				continue
			}
			fname, _ := field["name"].(string)
			fid, _ := field["id"].(float64)
			fieldsByName[fname] = int(fid)
		}

		out[name] = targetTable{id: int(idFloat), fieldsByName: fieldsByName}
	}
	return out
}

func (s *State) registerTable(srcDB, srcTable, tgtTable int) {
	key := tableKey{srcDB, srcTable}
	if _, exists := s.tables[key]; exists {
		return
	}
	s.tables[key] = tgtTable
}

func (s *State) registerField(srcDB, srcField, tgtField int) {
	key := fieldKey{srcDB, srcField}
	if _, exists := s.fields[key]; exists {
		return
	}
	s.fields[key] = tgtField
}

// RegisterCollection records a source collection's resolved target id,
// populated by the collection installer in parent-first order so every
// child's parent is already resolvable by the time it is processed.
func (s *State) RegisterCollection(srcID, targetID int) {
	if _, exists := s.collections[srcID]; exists {
		return
	}
	s.collections[srcID] = targetID
}

// RegisterQuestion records a newly created or reused question's target
// id, populated by the question installer as each is created — subsequent
// dependents rewrite against it immediately.
func (s *State) RegisterQuestion(srcID, tgtID int) {
	if _, exists := s.questions[srcID]; exists {
		return
	}
	s.questions[srcID] = tgtID
}

// ResolveDatabase implements rewrite.Resolver.
func (s *State) ResolveDatabase(srcID int) (int, bool) {
	v, ok := s.databases[srcID]
	return v, ok
}

// ResolveTable implements rewrite.Resolver.
func (s *State) ResolveTable(srcDB, srcTable int) (int, bool) {
	v, ok := s.tables[tableKey{srcDB, srcTable}]
	return v, ok
}

// ResolveField implements rewrite.Resolver.
func (s *State) ResolveField(srcDB, srcField int) (int, bool) {
	v, ok := s.fields[fieldKey{srcDB, srcField}]
	return v, ok
}

// ResolveQuestion implements rewrite.Resolver.
func (s *State) ResolveQuestion(srcID int) (int, bool) {
	v, ok := s.questions[srcID]
	return v, ok
}

// ResolveCollection looks up a previously registered source collection's
// target id.
func (s *State) ResolveCollection(srcID int) (int, bool) {
	v, ok := s.collections[srcID]
	return v, ok
}

// DatabaseIDs returns every source database id with a target mapping, used
// by the Validator to check coverage before question install begins.
func (s *State) DatabaseIDs() map[int]int {
	out := make(map[int]int, len(s.databases))
	for k, v := range s.databases {
		out[k] = v
	}
	return out
}
