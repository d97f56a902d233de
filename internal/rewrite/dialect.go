// Package rewrite implements the query-tree rewriter: the single place
// that knows every reference shape the analytics platform's query
// language can embed, shared verbatim between export-side dependency
// discovery and import-side identifier substitution.
package rewrite

// Payload is a generic JSON object, matching mbclient.Payload's shape
// without importing that package (this package has no business knowing
// about HTTP transport).
type Payload = map[string]any

// Dialect distinguishes the two coexisting query-language generations a
// dataset_query can be written in. Detected once per payload and never
// guessed again; see DetectDialect.
type Dialect int

const (
	// DialectUnknown marks a dataset_query with neither a legacy "query"
	// key nor a "stages" key — for example, a question with no database
	// reference at all.
	DialectUnknown Dialect = iota
	// DialectLegacy is dataset_query.query.{...} / dataset_query.native.
	DialectLegacy
	// DialectStages is dataset_query.stages[*], tagged mbql/native per
	// stage.
	DialectStages
)

// DetectDialect inspects a dataset_query object and reports which
// generation it was written in. Detection happens once per payload, per
// the design note that dialect selection is not re-derived mid-walk.
func DetectDialect(datasetQuery Payload) Dialect {
	if datasetQuery == nil {
		return DialectUnknown
	}
	if _, ok := datasetQuery["stages"]; ok {
		return DialectStages
	}
	if _, hasQuery := datasetQuery["query"]; hasQuery {
		return DialectLegacy
	}
	if _, hasNative := datasetQuery["native"]; hasNative {
		return DialectLegacy
	}
	return DialectUnknown
}

// stageKind reports whether a dialect-B stage is the mbql-structured kind
// or the native-SQL kind, by its lib/type tag.
func stageKind(stage Payload) string {
	libType, _ := stage["lib/type"].(string)
	switch {
	case libType == "mbql.stage/native":
		return "native"
	case libType == "mbql.stage/mbql":
		return "mbql"
	default:
		return ""
	}
}

// mbqlTrees returns every structured-query subtree that should be walked
// for source-table/join/field references, regardless of dialect: the
// single legacy query map, or every mbql-kind stage under dialect B.
func mbqlTrees(datasetQuery Payload) []Payload {
	switch DetectDialect(datasetQuery) {
	case DialectLegacy:
		if q, ok := datasetQuery["query"].(Payload); ok {
			return []Payload{q}
		}
		return nil
	case DialectStages:
		stages, _ := datasetQuery["stages"].([]any)
		var out []Payload
		for _, s := range stages {
			stage, ok := s.(Payload)
			if !ok {
				continue
			}
			if stageKind(stage) == "mbql" {
				out = append(out, stage)
			}
		}
		return out
	default:
		return nil
	}
}

// nativeBlocks returns every native-SQL subtree (holding "query" text and
// "template-tags") regardless of dialect.
func nativeBlocks(datasetQuery Payload) []Payload {
	switch DetectDialect(datasetQuery) {
	case DialectLegacy:
		if n, ok := datasetQuery["native"].(Payload); ok {
			return []Payload{n}
		}
		return nil
	case DialectStages:
		stages, _ := datasetQuery["stages"].([]any)
		var out []Payload
		for _, s := range stages {
			stage, ok := s.(Payload)
			if !ok {
				continue
			}
			if stageKind(stage) == "native" {
				out = append(out, stage)
			}
		}
		return out
	default:
		return nil
	}
}
