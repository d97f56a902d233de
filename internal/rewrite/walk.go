package rewrite

import "strconv"

// Visitor receives every reference the structural walker recognizes. A
// pure dependency collector implements CardRef and ignores the id it is
// given back; the full rewriter implements all three and returns the
// resolved target id, or the original id (with a warning recorded
// elsewhere) when no mapping exists.
type Visitor interface {
	// SourceTable is called for an integer source-table reference and
	// must return the id to substitute.
	SourceTable(tableID int) int
	// CardRef is called for a "card__<n>" source-table reference or a
	// native template-tag card-id and must return the id to substitute.
	CardRef(cardID int) int
	// FieldRef is called for a ["field", id, opts] / ["field-id", id]
	// node or a result_metadata field id and must return the id to
	// substitute.
	FieldRef(fieldID int) int
}

// WalkQuery performs the structural walk described in the reference-shape
// catalog over every mbql-kind subtree of a dataset_query (both dialects),
// over result_metadata, and over visualization_settings, invoking v for
// every recognized shape and leaving everything else untouched. It
// mutates the payload in place so the same call serves both
// a read-only dependency scan and a full rewrite — the only difference is
// whether the Visitor mutates state.
func WalkQuery(card Payload, v Visitor) {
	if datasetQuery, ok := card["dataset_query"].(Payload); ok {
		for _, tree := range mbqlTrees(datasetQuery) {
			walkMBQLTree(tree, v)
		}
	}
	if resultMetadata, ok := card["result_metadata"].([]any); ok {
		for i, entry := range resultMetadata {
			m, ok := entry.(Payload)
			if !ok {
				continue
			}
			rewriteResultMetadataEntry(m, v)
			resultMetadata[i] = m
		}
	}
	if vs, ok := card["visualization_settings"].(Payload); ok {
		walkNode(vs, v)
	}
}

// walkMBQLTree rewrites the top-level source-table and joins of one mbql
// subtree, then recurses generically into every clause for nested field
// references.
func walkMBQLTree(tree Payload, v Visitor) {
	rewriteSourceTableKey(tree, v)

	if joins, ok := tree["joins"].([]any); ok {
		for _, j := range joins {
			join, ok := j.(Payload)
			if !ok {
				continue
			}
			rewriteSourceTableKey(join, v)
			walkNode(join, v)
		}
	}

	for _, clause := range []string{"filter", "aggregation", "breakout", "order-by", "fields", "expressions"} {
		if val, ok := tree[clause]; ok {
			tree[clause] = walkAny(val, v)
		}
	}
}

// rewriteResultMetadataEntry rewrites the three direct field/table
// references a result_metadata entry carries: "field_ref" (a field-node
// array, handled generically), "id" (a bare field id), and "table_id" (a
// bare table id).
func rewriteResultMetadataEntry(m Payload, v Visitor) {
	if fieldRef, ok := m["field_ref"]; ok {
		m["field_ref"] = walkAny(fieldRef, v)
	}
	if id, ok := m["id"].(float64); ok {
		m["id"] = float64(v.FieldRef(int(id)))
	}
	if tableID, ok := m["table_id"].(float64); ok {
		m["table_id"] = float64(v.SourceTable(int(tableID)))
	}
}

// rewriteSourceTableKey handles the "source-table" key shared by the
// top-level mbql tree and every join entry: an integer is a table
// reference, a "card__<n>" string is a question reference.
func rewriteSourceTableKey(node Payload, v Visitor) {
	raw, ok := node["source-table"]
	if !ok {
		return
	}
	switch val := raw.(type) {
	case float64:
		node["source-table"] = float64(v.SourceTable(int(val)))
	case string:
		if id, ok := parseCardRef(val); ok {
			node["source-table"] = "card__" + strconv.Itoa(v.CardRef(id))
		}
	}
}

// parseCardRef extracts the integer id from a "card__<id>" string.
func parseCardRef(s string) (int, bool) {
	const prefix = "card__"
	if len(s) <= len(prefix) || s[:len(prefix)] != prefix {
		return 0, false
	}
	n, err := strconv.Atoi(s[len(prefix):])
	if err != nil {
		return 0, false
	}
	return n, true
}

// walkNode recurses into every value of a map looking for field nodes and
// nested structures, in place.
func walkNode(m Payload, v Visitor) {
	for k, val := range m {
		m[k] = walkAny(val, v)
	}
}

// walkAny dispatches on shape: a ["field", id, opts] / ["field-id", id]
// list is a field reference; any other list or map is walked generically;
// everything else is returned unchanged. This is the sum-type dispatch
// described for deeply nested dynamic trees with polymorphic node shapes
// — unknown shapes pass through untouched.
func walkAny(node any, v Visitor) any {
	switch n := node.(type) {
	case Payload:
		walkNode(n, v)
		return n
	case []any:
		if id, opts, ok := parseFieldNode(n); ok {
			n[1] = float64(v.FieldRef(id))
			if opts != nil {
				n[2] = walkAny(opts, v)
			}
			return n
		}
		for i, elem := range n {
			n[i] = walkAny(elem, v)
		}
		return n
	default:
		return node
	}
}

// parseFieldNode recognizes ["field", <id>, opts] and ["field-id", <id>].
// opts is nil when the node has no third element (the field-id form).
func parseFieldNode(n []any) (id int, opts any, ok bool) {
	if len(n) < 2 {
		return 0, nil, false
	}
	tag, isStr := n[0].(string)
	if !isStr || (tag != "field" && tag != "field-id") {
		return 0, nil, false
	}
	idFloat, isNum := n[1].(float64)
	if !isNum {
		return 0, nil, false
	}
	if len(n) >= 3 {
		opts = n[2]
	}
	return int(idFloat), opts, true
}
