package importpkg

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/finverity/mbmigrate/internal/mbclient"
	"github.com/finverity/mbmigrate/internal/model"
	"github.com/finverity/mbmigrate/internal/resolver"
)

// unmappedDatabase records one source database with no target mapping
// and every non-archived question that depends on it.
type unmappedDatabase struct {
	SourceDBID   int
	SourceDBName string
	QuestionIDs  []int
}

// Validate refuses to start unless every database referenced by a
// non-archived question has a mapping and every mapped target database
// exists on the target, per §4.2/§6 scenario S6. It returns a single
// consolidated MappingError — never a partial one — so an operator sees
// every offending database and a ready-to-edit db_map.json template in
// one pass.
func Validate(ctx context.Context, pkg *Package, res *resolver.State, targetClient mbclient.Client, includeArchived bool) error {
	unmapped := unmappedDatabases(pkg, res, includeArchived)
	if len(unmapped) > 0 {
		return reportUnmappedDatabases(unmapped)
	}
	return validateTargetDatabases(ctx, pkg, res, targetClient)
}

func unmappedDatabases(pkg *Package, res *resolver.State, includeArchived bool) []unmappedDatabase {
	byID := make(map[int]*unmappedDatabase)
	for _, card := range pkg.Cards {
		if card.Archived && !includeArchived {
			continue
		}
		if _, ok := res.ResolveDatabase(card.DatabaseID); ok {
			continue
		}
		entry, ok := byID[card.DatabaseID]
		if !ok {
			entry = &unmappedDatabase{
				SourceDBID:   card.DatabaseID,
				SourceDBName: pkg.Databases[card.DatabaseID],
			}
			byID[card.DatabaseID] = entry
		}
		entry.QuestionIDs = append(entry.QuestionIDs, card.ID)
	}

	out := make([]unmappedDatabase, 0, len(byID))
	for _, v := range byID {
		sort.Ints(v.QuestionIDs)
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceDBID < out[j].SourceDBID })
	return out
}

func reportUnmappedDatabases(unmapped []unmappedDatabase) error {
	var b strings.Builder
	b.WriteString("found unmapped databases; import cannot proceed:\n")
	for _, db := range unmapped {
		fmt.Fprintf(&b, "  source database id %d (%q) used by %d question(s): %v\n",
			db.SourceDBID, db.SourceDBName, len(db.QuestionIDs), db.QuestionIDs)
	}
	b.WriteString("add mappings for the databases above to db_map.json, for example:\n")
	b.WriteString(dbMapTemplate(unmapped))
	return fmt.Errorf("%w: %s", model.ErrMapping, b.String())
}

func dbMapTemplate(unmapped []unmappedDatabase) string {
	var b strings.Builder
	b.WriteString("{\n  \"by_id\": {\n")
	for i, db := range unmapped {
		comma := ","
		if i == len(unmapped)-1 {
			comma = ""
		}
		fmt.Fprintf(&b, "    \"%d\": <target_db_id>%s  // %s\n", db.SourceDBID, comma, db.SourceDBName)
	}
	b.WriteString("  },\n  \"by_name\": {}\n}\n")
	return b.String()
}

// validateTargetDatabases checks that every database id the resolver was
// seeded with actually exists on the target instance, reporting every
// available target database so a bad mapping is easy to fix in one pass.
func validateTargetDatabases(ctx context.Context, pkg *Package, res *resolver.State, targetClient mbclient.Client) error {
	targetDBs, err := targetClient.GetDatabases(ctx)
	if err != nil {
		return fmt.Errorf("%w: list target databases: %v", model.ErrMapping, err)
	}

	targetIDs := make(map[int]string)
	for _, db := range targetDBs {
		idFloat, _ := db["id"].(float64)
		name, _ := db["name"].(string)
		targetIDs[int(idFloat)] = name
	}

	var missing []int
	seen := make(map[int]bool)
	for _, tgt := range res.DatabaseIDs() {
		if seen[tgt] {
			continue
		}
		seen[tgt] = true
		if _, ok := targetIDs[tgt]; !ok {
			missing = append(missing, tgt)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Ints(missing)

	var b strings.Builder
	fmt.Fprintf(&b, "db_map.json references target database ids that do not exist on the target: %v\n", missing)
	b.WriteString("available target databases:\n")
	ids := make([]int, 0, len(targetIDs))
	for id := range targetIDs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		fmt.Fprintf(&b, "  id %d: %q\n", id, targetIDs[id])
	}
	return fmt.Errorf("%w: %s", model.ErrMapping, b.String())
}
