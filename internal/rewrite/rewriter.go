package rewrite

import "fmt"

// Resolver is the read-only view of the identity resolution tables the
// rewriter depends on. internal/resolver.State satisfies this interface;
// the rewriter package never imports internal/resolver so it stays a
// pure, dependency-free function of (payload, resolver state).
type Resolver interface {
	ResolveDatabase(srcDB int) (int, bool)
	ResolveTable(srcDB, srcTable int) (int, bool)
	ResolveField(srcDB, srcField int) (int, bool)
	ResolveQuestion(srcQuestion int) (int, bool)
}

// Rewriter is the pure, idempotent function from (payload, resolver
// state) to (payload', ok) described in the component design: running it
// twice against the same resolver state yields identical output, since it
// never consults anything but its inputs.
type Rewriter struct {
	resolver Resolver
}

// New builds a Rewriter bound to a resolver snapshot.
func New(resolver Resolver) *Rewriter {
	return &Rewriter{resolver: resolver}
}

// Rewrite mutates card in place, substituting every source identifier it
// recognizes with the corresponding target identifier, and returns
// (card, true, warnings, unresolvedRefs) on success or (card, false,
// warnings, nil) when the card carries no database reference at all, or
// when its database reference cannot be resolved — the latter should
// already have been caught by the Validator before any rewrite runs;
// this is a defensive check only, matching the "surfacing here is a
// defensive check" design note. Unresolvable table/field references
// inside the tree are non-fatal: they are left unchanged and reported as
// warnings. Unresolvable question (card__<id>, template-tag card-id)
// references are also left unchanged and warned about here, but are
// additionally collected into unresolvedRefs — callers with their own
// dependency ordering (e.g. the question installer) use that list to
// fail an install outright rather than create a card with a dangling
// reference, per the cycle scenario's "fails with a structured cycle
// reason" outcome.
func (rw *Rewriter) Rewrite(card Payload) (Payload, bool, []string, []int) {
	var warnings []string

	srcDB, hasDB := resolveSourceDatabase(card)
	if !hasDB {
		return card, false, warnings, nil
	}

	tgtDB, ok := rw.resolver.ResolveDatabase(srcDB)
	if !ok {
		warnings = append(warnings, fmt.Sprintf("database %d has no target mapping", srcDB))
		return card, false, warnings, nil
	}

	if _, ok := card["database_id"]; ok {
		card["database_id"] = float64(tgtDB)
	}
	if datasetQuery, ok := card["dataset_query"].(Payload); ok {
		datasetQuery["database"] = float64(tgtDB)
	}

	if tableID, ok := card["table_id"].(float64); ok {
		if tgtTable, ok := rw.resolver.ResolveTable(srcDB, int(tableID)); ok {
			card["table_id"] = float64(tgtTable)
		} else {
			warnings = append(warnings, fmt.Sprintf("no target mapping for table %d in database %d", int(tableID), srcDB))
		}
	}

	var unresolvedRefs []int
	v := &boundVisitor{resolver: rw.resolver, srcDB: srcDB, warnings: &warnings, unresolvedRefs: &unresolvedRefs}
	WalkQuery(card, v)
	RewriteNative(card, v, func(line string) {
		warnings = append(warnings, fmt.Sprintf("template-tag reference on a line that looks like a SQL comment, substituted anyway: %q", line))
	})

	return card, true, warnings, unresolvedRefs
}

// resolveSourceDatabase finds the source database id a card refers to,
// preferring the top-level database_id and falling back to
// dataset_query.database — some payloads (result_metadata-only views,
// shell objects) carry only one of the two.
func resolveSourceDatabase(card Payload) (int, bool) {
	if id, ok := card["database_id"].(float64); ok {
		return int(id), true
	}
	if datasetQuery, ok := card["dataset_query"].(Payload); ok {
		if id, ok := datasetQuery["database"].(float64); ok {
			return int(id), true
		}
	}
	return 0, false
}

// boundVisitor adapts the Resolver to the Visitor interface the
// structural walker uses, within the single source database a card
// belongs to, appending a warning for every reference it cannot resolve
// rather than failing the whole rewrite. unresolvedRefs is nil for
// standalone field-node rewrites (RewriteFieldNode) that have no question
// reference to track.
type boundVisitor struct {
	resolver       Resolver
	srcDB          int
	warnings       *[]string
	unresolvedRefs *[]int
}

func (v *boundVisitor) SourceTable(tableID int) int {
	if tgt, ok := v.resolver.ResolveTable(v.srcDB, tableID); ok {
		return tgt
	}
	*v.warnings = append(*v.warnings, fmt.Sprintf("no target mapping for table %d in database %d", tableID, v.srcDB))
	return tableID
}

func (v *boundVisitor) FieldRef(fieldID int) int {
	if tgt, ok := v.resolver.ResolveField(v.srcDB, fieldID); ok {
		return tgt
	}
	*v.warnings = append(*v.warnings, fmt.Sprintf("no target mapping for field %d in database %d", fieldID, v.srcDB))
	return fieldID
}

func (v *boundVisitor) CardRef(cardID int) int {
	if tgt, ok := v.resolver.ResolveQuestion(cardID); ok {
		return tgt
	}
	*v.warnings = append(*v.warnings, fmt.Sprintf("unresolved question reference %d", cardID))
	if v.unresolvedRefs != nil {
		*v.unresolvedRefs = append(*v.unresolvedRefs, cardID)
	}
	return cardID
}

// RewriteFieldNode rewrites every ["field", id, opts] / ["field-id", id]
// reference found anywhere inside node (a dashboard parameter_mappings
// "target" or values_source_config "value_field" tree), scoped to srcDB —
// the source database inferred from the question the mapping or parameter
// points at, since neither carries its own database_id. It returns the
// rewritten node and any warnings for references with no target mapping.
func RewriteFieldNode(resolver Resolver, srcDB int, node any) (any, []string) {
	var warnings []string
	v := &boundVisitor{resolver: resolver, srcDB: srcDB, warnings: &warnings}
	return walkAny(node, v), warnings
}
