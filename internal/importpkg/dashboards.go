package importpkg

import (
	"context"
	"fmt"

	"github.com/finverity/mbmigrate/internal/idgen"
	"github.com/finverity/mbmigrate/internal/mbclient"
	"github.com/finverity/mbmigrate/internal/model"
	"github.com/finverity/mbmigrate/internal/resolver"
	"github.com/finverity/mbmigrate/internal/rewrite"
)

// dashcardExcludedFields are stripped from every panel before it is sent
// back to the target: identifiers and timestamps that only made sense on
// the source instance.
var dashcardExcludedFields = []string{
	"dashboard_id", "created_at", "updated_at", "entity_id",
	"action_id", "collection_authority_level", "dashboard_tab_id",
}

// DashboardInstaller installs dashboards after every question they
// reference has already been installed (QuestionInstaller runs first),
// rewriting each panel's card reference and any series/parameter
// references alongside it.
type DashboardInstaller struct {
	client   mbclient.Client
	res      *resolver.State
	cache    *itemCache
	renamer  *idgen.UniqueRenamer
	strategy model.ConflictStrategy
	report   *model.Report
}

// NewDashboardInstaller builds an installer against a target client and
// the shared resolver, report, and conflict strategy for this run.
func NewDashboardInstaller(client mbclient.Client, res *resolver.State, strategy model.ConflictStrategy, report *model.Report) *DashboardInstaller {
	di := &DashboardInstaller{client: client, res: res, strategy: strategy, report: report, cache: newItemCache(client)}
	di.renamer = idgen.NewUniqueRenamer(func(scope int, name string) bool {
		var coll *int
		if scope != 0 {
			coll = &scope
		}
		_, found, err := di.cache.lookup(context.Background(), coll, []string{"dashboard"}, name)
		return err == nil && found
	})
	return di
}

// InstallAll installs every dashboard in pkg.Dashboards, skipping
// archived ones unless includeArchived is set.
func (di *DashboardInstaller) InstallAll(ctx context.Context, pkg *Package, includeArchived, dryRun bool) error {
	questionDB := make(map[int]int, len(pkg.Cards))
	for _, c := range pkg.Cards {
		questionDB[c.ID] = c.DatabaseID
	}
	for _, d := range pkg.Dashboards {
		if d.Archived && !includeArchived {
			continue
		}
		if err := di.installOne(ctx, pkg, d, questionDB, dryRun); err != nil {
			di.report.Add(model.ReportItem{Kind: "dashboard", Status: model.StatusFailed, SourceID: d.ID, Name: d.Name, Reason: err.Error()})
		}
	}
	return nil
}

func (di *DashboardInstaller) installOne(ctx context.Context, pkg *Package, d model.Dashboard, questionDB map[int]int, dryRun bool) error {
	payload, err := pkg.ReadEntityFile(d.FilePath, d.Checksum)
	if err != nil {
		return fmt.Errorf("read dashboard %d: %w", d.ID, err)
	}

	var targetColl *int
	if d.CollectionID != nil {
		if tgt, ok := di.res.ResolveCollection(*d.CollectionID); ok {
			targetColl = &tgt
		} else {
			warnf("dashboard %d (%q): source collection %d has no target mapping, installing at root", d.ID, d.Name, *d.CollectionID)
		}
	}

	if dryRun {
		di.report.Add(model.ReportItem{Kind: "dashboard", Status: model.StatusCreated, SourceID: d.ID, Name: d.Name, Reason: "dry run"})
		return nil
	}

	existing, found, err := di.cache.lookup(ctx, targetColl, []string{"dashboard"}, d.Name)
	if err != nil {
		return fmt.Errorf("check existing dashboards: %w", err)
	}
	action, targetID, createName := resolveConflict(di.strategy, existing, found, di.renamer, scopeID(targetColl), d.Name)

	if action == actionSkip {
		di.report.Add(model.ReportItem{Kind: "dashboard", Status: model.StatusSkipped, SourceID: d.ID, TargetID: &targetID, Name: d.Name, Reason: "name already exists on target"})
		return nil
	}

	if action == actionCreate {
		shell := mbclient.Payload{"name": createName}
		if targetColl != nil {
			shell["collection_id"] = float64(*targetColl)
		}
		created, err := di.client.CreateDashboard(ctx, shell)
		if err != nil {
			return fmt.Errorf("%w: create dashboard %q: %v", model.ErrTransport, d.Name, err)
		}
		idFloat, _ := created["id"].(float64)
		targetID = int(idFloat)
		di.cache.record(targetColl, "dashboard", createName, targetID)
	}

	dashcards, warnings := di.rewriteDashcards(payload, questionDB)
	params, paramWarnings := di.rewriteParameters(payload, questionDB)
	warnings = append(warnings, paramWarnings...)
	update := mbclient.Payload{
		"name":       createName,
		"dashcards":  dashcards,
		"parameters": params,
	}
	if targetColl != nil {
		update["collection_id"] = float64(*targetColl)
	}

	if _, err := di.client.UpdateDashboard(ctx, targetID, update); err != nil {
		return fmt.Errorf("%w: update dashboard %d: %v", model.ErrTransport, targetID, err)
	}

	for _, w := range warnings {
		warnf("dashboard %d (%q): %s", d.ID, d.Name, w)
	}

	status := model.StatusCreated
	if action == actionUpdate {
		status = model.StatusUpdated
	}
	reason := ""
	if len(warnings) > 0 {
		reason = fmt.Sprintf("%d unresolved reference(s)", len(warnings))
	}
	di.report.Add(model.ReportItem{Kind: "dashboard", Status: status, SourceID: d.ID, TargetID: &targetID, Name: d.Name, Reason: reason})
	return nil
}

// rewriteDashcards rebuilds the dashcards array with target card ids,
// temporary negative panel ids (Metabase's create/update dashboard API
// expects every panel to carry an id even though these are brand new),
// and every excluded source-only field stripped. A panel whose card_id
// cannot be resolved on the target is omitted from the result rather
// than carried across with a dangling source id.
func (di *DashboardInstaller) rewriteDashcards(dash mbclient.Payload, questionDB map[int]int) ([]mbclient.Payload, []string) {
	raw, _ := dash["dashcards"].([]any)
	out := make([]mbclient.Payload, 0, len(raw))
	var warnings []string
	tempID := -1

	for _, r := range raw {
		panel, ok := r.(mbclient.Payload)
		if !ok {
			continue
		}
		// A panel whose card_id cannot be resolved on the target is dropped
		// entirely rather than installed with a stale source id.
		if cardIDFloat, ok := panel["card_id"].(float64); ok {
			if _, ok := di.res.ResolveQuestion(int(cardIDFloat)); !ok {
				warnings = append(warnings, fmt.Sprintf("panel references unresolved card %d, dropped", int(cardIDFloat)))
				continue
			}
		}

		rewritten := make(mbclient.Payload, len(panel))
		for k, v := range panel {
			rewritten[k] = v
		}
		for _, f := range dashcardExcludedFields {
			delete(rewritten, f)
		}
		rewritten["id"] = float64(tempID)
		tempID--

		if cardIDFloat, ok := panel["card_id"].(float64); ok {
			tgt, _ := di.res.ResolveQuestion(int(cardIDFloat))
			rewritten["card_id"] = float64(tgt)

			// An embedded "card" object (used when the dashboard overrides
			// the question's own visualization) tracks card_id exactly.
			if card, ok := panel["card"].(mbclient.Payload); ok {
				newCard := make(mbclient.Payload, len(card))
				for k, v := range card {
					newCard[k] = v
				}
				newCard["id"] = float64(tgt)
				rewritten["card"] = newCard
			}
		}

		if mappings, ok := panel["parameter_mappings"].([]any); ok {
			rewritten["parameter_mappings"] = di.rewriteMappings(mappings, questionDB, &warnings)
		}
		if series, ok := panel["series"].([]any); ok {
			rewritten["series"] = di.rewriteSeries(series, &warnings)
		}

		out = append(out, rewritten)
	}
	return out, warnings
}

func (di *DashboardInstaller) rewriteMappings(mappings []any, questionDB map[int]int, warnings *[]string) []any {
	out := make([]any, 0, len(mappings))
	for _, m := range mappings {
		mapping, ok := m.(mbclient.Payload)
		if !ok {
			out = append(out, m)
			continue
		}
		rewritten := make(mbclient.Payload, len(mapping))
		for k, v := range mapping {
			rewritten[k] = v
		}
		srcCardID, hasCard := intValue(mapping["card_id"])
		if hasCard {
			if tgt, ok := di.res.ResolveQuestion(srcCardID); ok {
				rewritten["card_id"] = float64(tgt)
			} else {
				*warnings = append(*warnings, fmt.Sprintf("parameter mapping references unresolved card %d", srcCardID))
			}
		}
		if target, ok := mapping["target"]; ok && hasCard {
			if srcDB, ok := questionDB[srcCardID]; ok {
				rewrittenTarget, fieldWarnings := rewrite.RewriteFieldNode(di.res, srcDB, target)
				rewritten["target"] = rewrittenTarget
				*warnings = append(*warnings, fieldWarnings...)
			}
		}
		out = append(out, rewritten)
	}
	return out
}

func (di *DashboardInstaller) rewriteSeries(series []any, warnings *[]string) []any {
	out := make([]any, 0, len(series))
	for _, s := range series {
		card, ok := s.(mbclient.Payload)
		if !ok {
			out = append(out, s)
			continue
		}
		rewritten := make(mbclient.Payload, len(card))
		for k, v := range card {
			rewritten[k] = v
		}
		if idFloat, ok := card["id"].(float64); ok {
			if tgt, ok := di.res.ResolveQuestion(int(idFloat)); ok {
				rewritten["id"] = float64(tgt)
			} else {
				*warnings = append(*warnings, fmt.Sprintf("series references unresolved card %d", int(idFloat)))
			}
		}
		out = append(out, rewritten)
	}
	return out
}

// rewriteParameters rewrites each dashboard-level parameter's
// values_source_config.card_id (the filter-value-list source a parameter
// can pull from instead of a panel) and values_source_config.value_field,
// the latter rewritten using the source-database context of the
// referenced question since the parameter carries no database_id itself.
func (di *DashboardInstaller) rewriteParameters(dash mbclient.Payload, questionDB map[int]int) ([]any, []string) {
	raw, _ := dash["parameters"].([]any)
	out := make([]any, 0, len(raw))
	var warnings []string
	for _, r := range raw {
		param, ok := r.(mbclient.Payload)
		if !ok {
			out = append(out, r)
			continue
		}
		rewritten := make(mbclient.Payload, len(param))
		for k, v := range param {
			rewritten[k] = v
		}
		if cfg, ok := param["values_source_config"].(mbclient.Payload); ok {
			newCfg := make(mbclient.Payload, len(cfg))
			for k, v := range cfg {
				newCfg[k] = v
			}
			srcCardID, hasCard := intValue(cfg["card_id"])
			if hasCard {
				if tgt, ok := di.res.ResolveQuestion(srcCardID); ok {
					newCfg["card_id"] = float64(tgt)
				} else {
					warnings = append(warnings, fmt.Sprintf("parameter values_source_config references unresolved card %d", srcCardID))
				}
			}
			if valueField, ok := cfg["value_field"]; ok && hasCard {
				if srcDB, ok := questionDB[srcCardID]; ok {
					rewrittenField, fieldWarnings := rewrite.RewriteFieldNode(di.res, srcDB, valueField)
					newCfg["value_field"] = rewrittenField
					warnings = append(warnings, fieldWarnings...)
				}
			}
			rewritten["values_source_config"] = newCfg
		}
		out = append(out, rewritten)
	}
	return out, warnings
}

// intValue reads an int out of a JSON-decoded float64, reporting whether
// the key was present and numeric.
func intValue(v any) (int, bool) {
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return int(f), true
}
