package export

import (
	"context"
	"fmt"

	"github.com/finverity/mbmigrate/internal/idgen"
	"github.com/finverity/mbmigrate/internal/mbclient"
	"github.com/finverity/mbmigrate/internal/model"
	"github.com/finverity/mbmigrate/internal/rewrite"
)

// QuestionExporter exports questions and models, recursively discovering
// and exporting every question transitively referenced through query-tree
// card references (source-table "card__<id>" and native template-tag
// card references), placing out-of-scope dependencies under a synthetic
// dependencies/ directory.
type QuestionExporter struct {
	session *Session
}

// NewQuestionExporter builds a QuestionExporter bound to session.
func NewQuestionExporter(session *Session) *QuestionExporter {
	return &QuestionExporter{session: session}
}

// ExportWithDependencies exports cardID (if not already exported) under
// basePath, first recursively exporting every card it references. chain
// holds the ids currently being exported up this call stack, used to cut
// a cycle at the back edge rather than recursing forever: the traversal
// completes and the later install step discovers the cut node has no
// dependency order and defers it to the tail.
func (qx *QuestionExporter) ExportWithDependencies(ctx context.Context, cardID int, basePath string, chain []int) error {
	if qx.session.isExported(cardID) {
		return nil
	}
	for _, c := range chain {
		if c == cardID {
			warnf("circular card reference detected at %d (chain: %v), cutting here", cardID, append(chain, cardID))
			return nil
		}
	}
	currentChain := append(append([]int{}, chain...), cardID)

	card, err := qx.session.Client.GetCard(ctx, cardID)
	if err != nil {
		return fmt.Errorf("fetch card %d: %w", cardID, err)
	}

	deps := rewrite.ExtractCardReferences(card)
	for depID := range deps {
		if qx.session.isExported(depID) {
			continue
		}
		depBasePath, err := qx.resolveDependencyBasePath(ctx, depID)
		if err != nil {
			warnf("failed to fetch dependency card %d (required by %d): %v", depID, cardID, err)
			warnf("card %d may fail to import due to missing dependency %d", cardID, depID)
			continue
		}
		if err := qx.ExportWithDependencies(ctx, depID, depBasePath, currentChain); err != nil {
			return err
		}
	}

	return qx.export(cardID, basePath, card)
}

// resolveDependencyBasePath fetches a referenced card to learn its home
// collection: if that collection is within the export scope, the
// dependency is written alongside it; otherwise it goes to the synthetic
// dependencies/ bucket.
func (qx *QuestionExporter) resolveDependencyBasePath(ctx context.Context, cardID int) (string, error) {
	card, err := qx.session.Client.GetCard(ctx, cardID)
	if err != nil {
		return "", err
	}
	if collIDFloat, ok := card["collection_id"].(float64); ok {
		if path, ok := qx.session.CollectionPath(int(collIDFloat)); ok {
			return path, nil
		}
	}
	return "dependencies", nil
}

// export writes a single already-fetched card to disk and records it in
// the manifest, without following its dependencies again.
func (qx *QuestionExporter) export(cardID int, basePath string, card mbclient.Payload) error {
	if qx.session.isExported(cardID) {
		return nil
	}

	name, _ := card["name"].(string)
	if card["dataset_query"] == nil {
		warnf("card %d (%q) has no dataset_query, skipping", cardID, name)
		return nil
	}

	dbID, hasDB := cardDatabaseID(card)
	if !hasDB {
		warnf("card %d (%q) has no database id, skipping", cardID, name)
		return nil
	}

	slug := idgen.Slugify(name)
	relPath := fmt.Sprintf("%s/cards/card_%d_%s.json", basePath, cardID, slug)

	checksum, err := WriteEntityFile(qx.session.Opts.ExportDir, relPath, card)
	if err != nil {
		return fmt.Errorf("write card %d: %w", cardID, err)
	}

	var collectionID *int
	if v, ok := card["collection_id"].(float64); ok {
		id := int(v)
		collectionID = &id
	}
	isModel, _ := card["dataset"].(bool)
	archived, _ := card["archived"].(bool)

	qx.session.Cards = append(qx.session.Cards, model.Question{
		ID:           cardID,
		Name:         name,
		CollectionID: collectionID,
		DatabaseID:   dbID,
		FilePath:     relPath,
		Checksum:     checksum,
		Archived:     archived,
		IsModel:      isModel,
	})
	qx.session.markExported(cardID)
	return nil
}

// cardDatabaseID finds a card's source database id, preferring the
// top-level field and falling back to dataset_query.database.
func cardDatabaseID(card mbclient.Payload) (int, bool) {
	if v, ok := card["database_id"].(float64); ok {
		return int(v), true
	}
	if dq, ok := card["dataset_query"].(mbclient.Payload); ok {
		if v, ok := dq["database"].(float64); ok {
			return int(v), true
		}
	}
	return 0, false
}
