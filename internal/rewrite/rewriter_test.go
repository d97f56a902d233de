package rewrite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	databases map[int]int
	tables    map[[2]int]int
	fields    map[[2]int]int
	questions map[int]int
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		databases: map[int]int{},
		tables:    map[[2]int]int{},
		fields:    map[[2]int]int{},
		questions: map[int]int{},
	}
}

func (f *fakeResolver) ResolveDatabase(src int) (int, bool) { v, ok := f.databases[src]; return v, ok }
func (f *fakeResolver) ResolveTable(db, src int) (int, bool) {
	v, ok := f.tables[[2]int{db, src}]
	return v, ok
}
func (f *fakeResolver) ResolveField(db, src int) (int, bool) {
	v, ok := f.fields[[2]int{db, src}]
	return v, ok
}
func (f *fakeResolver) ResolveQuestion(src int) (int, bool) { v, ok := f.questions[src]; return v, ok }

// S1 — Single question with a field filter.
func TestRewriteFieldFilter(t *testing.T) {
	r := newFakeResolver()
	r.databases[1] = 100
	r.tables[[2]int{1, 7}] = 70
	r.fields[[2]int{1, 201}] = 2010

	card := Payload{
		"database_id": float64(1),
		"dataset_query": Payload{
			"database": float64(1),
			"type":     "query",
			"query": Payload{
				"source-table": float64(7),
				"filter":       []any{"=", []any{"field", float64(201), nil}, "X"},
			},
		},
	}

	out, ok, warnings, _ := New(r).Rewrite(card)
	require.True(t, ok)
	assert.Empty(t, warnings)

	datasetQuery := out["dataset_query"].(Payload)
	assert.Equal(t, float64(100), datasetQuery["database"])
	query := datasetQuery["query"].(Payload)
	assert.Equal(t, float64(70), query["source-table"])
	filter := query["filter"].([]any)
	fieldNode := filter[1].([]any)
	assert.Equal(t, float64(2010), fieldNode[1])
}

// S2 — Question depending on a model via source-table card__<id>.
func TestRewriteCardReference(t *testing.T) {
	r := newFakeResolver()
	r.databases[1] = 100
	r.questions[50] = 500

	card := Payload{
		"database_id": float64(1),
		"dataset_query": Payload{
			"database": float64(1),
			"type":     "query",
			"query": Payload{
				"source-table": "card__50",
			},
		},
	}

	out, ok, _, _ := New(r).Rewrite(card)
	require.True(t, ok)
	query := out["dataset_query"].(Payload)["query"].(Payload)
	assert.Equal(t, "card__500", query["source-table"])
}

// S5 — an unresolved card__<id> reference (the still-blocked member of a
// cycle) is left unchanged and reported in unresolvedRefs, distinct from
// the non-fatal table/field warnings, so a caller can fail the install.
func TestRewriteUnresolvedCardReferenceIsCollected(t *testing.T) {
	r := newFakeResolver()
	r.databases[1] = 100
	// question 50 never registered

	card := Payload{
		"database_id": float64(1),
		"dataset_query": Payload{
			"database": float64(1),
			"type":     "query",
			"query": Payload{
				"source-table": "card__50",
			},
		},
	}

	out, ok, warnings, unresolvedRefs := New(r).Rewrite(card)
	require.True(t, ok)
	assert.NotEmpty(t, warnings)
	require.Len(t, unresolvedRefs, 1)
	assert.Equal(t, 50, unresolvedRefs[0])
	query := out["dataset_query"].(Payload)["query"].(Payload)
	assert.Equal(t, "card__50", query["source-table"])
}

// S3 — Native SQL with a #-prefixed template tag key.
func TestRewriteNativeTemplateTag(t *testing.T) {
	r := newFakeResolver()
	r.databases[1] = 100
	r.questions[50] = 406

	card := Payload{
		"database_id": float64(1),
		"dataset_query": Payload{
			"database": float64(1),
			"type":     "native",
			"native": Payload{
				"query": "select * from {{#50-filtered-xxx}}",
				"template-tags": Payload{
					"#50-filtered-xxx": Payload{
						"type":         "card",
						"card-id":      float64(50),
						"name":         "#50-filtered-xxx",
						"display-name": "#50 Filtered XXX",
					},
				},
			},
		},
	}

	out, ok, _, _ := New(r).Rewrite(card)
	require.True(t, ok)
	native := out["dataset_query"].(Payload)["native"].(Payload)
	assert.Equal(t, "select * from {{#406-filtered-xxx}}", native["query"])

	tags := native["template-tags"].(Payload)
	require.Len(t, tags, 1)
	tag, found := tags["#406-filtered-xxx"].(Payload)
	require.True(t, found, "expected renamed tag key, got %v", tags)
	assert.Equal(t, float64(406), tag["card-id"])
	assert.Equal(t, "#406-filtered-xxx", tag["name"])
	assert.Equal(t, "#406 Filtered XXX", tag["display-name"])
}

func TestRewriteNoDatabaseReference(t *testing.T) {
	r := newFakeResolver()
	card := Payload{"name": "shell"}
	out, ok, warnings, _ := New(r).Rewrite(card)
	assert.False(t, ok)
	assert.Empty(t, warnings)
	assert.Equal(t, card, out)
}

func TestRewriteUnresolvedDatabaseFails(t *testing.T) {
	r := newFakeResolver()
	card := Payload{"database_id": float64(7)}
	_, ok, warnings, _ := New(r).Rewrite(card)
	assert.False(t, ok)
	assert.Len(t, warnings, 1)
}

func TestRewriteIsIdempotent(t *testing.T) {
	r := newFakeResolver()
	r.databases[1] = 100
	r.tables[[2]int{1, 7}] = 70
	r.fields[[2]int{1, 201}] = 2010

	card := Payload{
		"database_id": float64(1),
		"dataset_query": Payload{
			"database": float64(1),
			"type":     "query",
			"query": Payload{
				"source-table": float64(7),
				"filter":       []any{"=", []any{"field", float64(201), nil}, "X"},
			},
		},
	}

	first, _, _, _ := New(r).Rewrite(card)
	// Resolving the same (already-target) ids a second time must be a
	// no-op for idempotence: target ids must also resolve to themselves
	// under a resolver that has since observed them. Simulate that by
	// adding target->target identity entries keyed by the target database
	// (the rewritten card now carries database 100), as import-time
	// resolver state would after the first pass registers them.
	r.databases[100] = 100
	r.tables[[2]int{100, 70}] = 70
	r.fields[[2]int{100, 2010}] = 2010
	second, _, _, _ := New(r).Rewrite(first)
	assert.Equal(t, first, second)
}

// Dialect-B mbql stage via stages[*]: an integer source-table is
// rewritten through the table map.
func TestRewriteStagesDialectSourceTable(t *testing.T) {
	r := newFakeResolver()
	r.databases[1] = 100
	r.tables[[2]int{1, 7}] = 70

	card := Payload{
		"database_id": float64(1),
		"dataset_query": Payload{
			"database": float64(1),
			"lib/type": "mbql/query",
			"stages": []any{
				Payload{
					"lib/type":     "mbql.stage/mbql",
					"source-table": float64(7),
				},
			},
		},
	}

	out, ok, _, _ := New(r).Rewrite(card)
	require.True(t, ok)
	stages := out["dataset_query"].(Payload)["stages"].([]any)
	stage := stages[0].(Payload)
	assert.Equal(t, float64(70), stage["source-table"])
}

func TestExtractCardReferences(t *testing.T) {
	card := Payload{
		"dataset_query": Payload{
			"database": float64(1),
			"type":     "query",
			"query": Payload{
				"source-table": "card__50",
				"joins": []any{
					Payload{"source-table": "card__60"},
				},
			},
		},
	}
	refs := ExtractCardReferences(card)
	assert.True(t, refs[50])
	assert.True(t, refs[60])
	assert.Len(t, refs, 2)
}
