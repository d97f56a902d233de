package export

import (
	"context"
	"fmt"

	"github.com/finverity/mbmigrate/internal/idgen"
	"github.com/finverity/mbmigrate/internal/mbclient"
	"github.com/finverity/mbmigrate/internal/model"
)

// DashboardExporter exports dashboards, discovering the questions they
// reference (from panels and parameter value-source configs) and
// forwarding them to QuestionExporter.
type DashboardExporter struct {
	session *Session
	qx      *QuestionExporter
}

// NewDashboardExporter builds a DashboardExporter bound to session,
// forwarding discovered question references to qx.
func NewDashboardExporter(session *Session, qx *QuestionExporter) *DashboardExporter {
	return &DashboardExporter{session: session, qx: qx}
}

// Export fetches dashboard dashID, writes it under basePath, and exports
// every question it references (panels and parameter value-source
// configs) as a dependency, placing out-of-scope references under the
// synthetic dependencies/ directory exactly as QuestionExporter does for
// card-to-card references.
func (dx *DashboardExporter) Export(ctx context.Context, dashID int, basePath string) error {
	dash, err := dx.session.Client.GetDashboard(ctx, dashID)
	if err != nil {
		return fmt.Errorf("fetch dashboard %d: %w", dashID, err)
	}

	name, _ := dash["name"].(string)
	slug := idgen.Slugify(name)
	relPath := fmt.Sprintf("%s/dashboards/dash_%d_%s.json", basePath, dashID, slug)

	checksum, err := WriteEntityFile(dx.session.Opts.ExportDir, relPath, dash)
	if err != nil {
		return fmt.Errorf("write dashboard %d: %w", dashID, err)
	}

	cardIDs := dashboardReferencedCardIDs(dash)
	for _, cardID := range cardIDs {
		if dx.session.isExported(cardID) {
			continue
		}
		depBasePath, err := dx.qx.resolveDependencyBasePath(ctx, cardID)
		if err != nil {
			warnf("failed to export card %d (required by dashboard %d): %v", cardID, dashID, err)
			warnf("dashboard %d may fail to import due to missing card %d", dashID, cardID)
			continue
		}
		if err := dx.qx.ExportWithDependencies(ctx, cardID, depBasePath, nil); err != nil {
			return err
		}
	}

	var collectionID *int
	if v, ok := dash["collection_id"].(float64); ok {
		id := int(v)
		collectionID = &id
	}
	archived, _ := dash["archived"].(bool)

	dx.session.Dashboards = append(dx.session.Dashboards, model.Dashboard{
		ID:           dashID,
		Name:         name,
		CollectionID: collectionID,
		OrderedCards: cardIDs,
		FilePath:     relPath,
		Checksum:     checksum,
		Archived:     archived,
	})
	return nil
}

// dashboardReferencedCardIDs collects every question id a dashboard
// references: each panel's card_id, in dashcards order, followed by any
// additional card ids surfaced only by a parameter's values_source_config
// (these are filters whose value list comes from a card, not a panel).
func dashboardReferencedCardIDs(dash mbclient.Payload) []int {
	seen := make(map[int]bool)
	var ids []int

	if dashcards, ok := dash["dashcards"].([]any); ok {
		for _, raw := range dashcards {
			panel, ok := raw.(mbclient.Payload)
			if !ok {
				continue
			}
			if v, ok := panel["card_id"].(float64); ok {
				id := int(v)
				if !seen[id] {
					seen[id] = true
					ids = append(ids, id)
				}
			}
		}
	}

	if params, ok := dash["parameters"].([]any); ok {
		for _, raw := range params {
			param, ok := raw.(mbclient.Payload)
			if !ok {
				continue
			}
			cfg, ok := param["values_source_config"].(mbclient.Payload)
			if !ok {
				continue
			}
			if v, ok := cfg["card_id"].(float64); ok {
				id := int(v)
				if !seen[id] {
					seen[id] = true
					ids = append(ids, id)
				}
			}
		}
	}

	return ids
}
