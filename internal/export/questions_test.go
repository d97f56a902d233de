package export

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finverity/mbmigrate/internal/mbclient"
)

type fakeQuestionExportClient struct {
	mbclient.Client
	cards map[int]mbclient.Payload
	calls []int
}

func (f *fakeQuestionExportClient) GetCard(ctx context.Context, id int) (mbclient.Payload, error) {
	f.calls = append(f.calls, id)
	card, ok := f.cards[id]
	if !ok {
		return nil, assertError{"card not found"}
	}
	return card, nil
}

func simpleCard(id int, name string, dbID int, refs ...string) mbclient.Payload {
	query := map[string]any{"source-table": float64(100)}
	if len(refs) > 0 {
		query = map[string]any{"source-table": refs[0]}
	}
	return mbclient.Payload{
		"id":   float64(id),
		"name": name,
		"dataset_query": mbclient.Payload{
			"database": float64(dbID),
			"type":     "query",
			"query":    query,
		},
	}
}

func TestQuestionExporterExportsDependencyBeforeDependent(t *testing.T) {
	dir := t.TempDir()
	client := &fakeQuestionExportClient{cards: map[int]mbclient.Payload{
		1: simpleCard(1, "Top Level", 10, "card__2"),
		2: simpleCard(2, "Dependency", 10),
	}}
	session := NewSession(client, Options{ExportDir: dir})
	session.setCollectionPath(0, "collections")
	qx := NewQuestionExporter(session)

	require.NoError(t, qx.ExportWithDependencies(context.Background(), 1, "collections", nil))

	require.Len(t, session.Cards, 2)
	assert.Equal(t, 2, session.Cards[0].ID)
	assert.Equal(t, 1, session.Cards[1].ID)
}

func TestQuestionExporterCutsCircularReference(t *testing.T) {
	dir := t.TempDir()
	client := &fakeQuestionExportClient{cards: map[int]mbclient.Payload{
		1: simpleCard(1, "A", 10, "card__2"),
		2: simpleCard(2, "B", 10, "card__1"),
	}}
	session := NewSession(client, Options{ExportDir: dir})
	qx := NewQuestionExporter(session)

	require.NoError(t, qx.ExportWithDependencies(context.Background(), 1, "collections", nil))
	assert.Len(t, session.Cards, 2)
}

func TestQuestionExporterSkipsCardWithNoDatasetQuery(t *testing.T) {
	dir := t.TempDir()
	client := &fakeQuestionExportClient{cards: map[int]mbclient.Payload{
		1: {"id": float64(1), "name": "Empty"},
	}}
	session := NewSession(client, Options{ExportDir: dir})
	qx := NewQuestionExporter(session)

	require.NoError(t, qx.ExportWithDependencies(context.Background(), 1, "collections", nil))
	assert.Empty(t, session.Cards)
}

func TestQuestionExporterDependencyOutOfScopeGoesToBucket(t *testing.T) {
	dir := t.TempDir()
	client := &fakeQuestionExportClient{cards: map[int]mbclient.Payload{
		1: simpleCard(1, "Top Level", 10, "card__2"),
		2: mergePayload(simpleCard(2, "External", 10), mbclient.Payload{"collection_id": float64(999)}),
	}}
	session := NewSession(client, Options{ExportDir: dir})
	qx := NewQuestionExporter(session)

	require.NoError(t, qx.ExportWithDependencies(context.Background(), 1, "collections", nil))
	require.Len(t, session.Cards, 2)
	assert.Equal(t, "dependencies/cards/card_2_External.json", session.Cards[0].FilePath)
}

func mergePayload(base mbclient.Payload, extra mbclient.Payload) mbclient.Payload {
	out := mbclient.Payload{}
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func TestQuestionExporterAlreadyExportedIsNoOp(t *testing.T) {
	dir := t.TempDir()
	client := &fakeQuestionExportClient{cards: map[int]mbclient.Payload{
		1: simpleCard(1, "Top Level", 10),
	}}
	session := NewSession(client, Options{ExportDir: dir})
	qx := NewQuestionExporter(session)

	require.NoError(t, qx.ExportWithDependencies(context.Background(), 1, "collections", nil))
	require.NoError(t, qx.ExportWithDependencies(context.Background(), 1, "collections", nil))

	assert.Len(t, session.Cards, 1)
	assert.Len(t, client.calls, 1)
}
