package importpkg

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/finverity/mbmigrate/internal/idgen"
	"github.com/finverity/mbmigrate/internal/mbclient"
	"github.com/finverity/mbmigrate/internal/model"
	"github.com/finverity/mbmigrate/internal/resolver"
	"github.com/finverity/mbmigrate/internal/rewrite"
)

// overwriteStripFields are server-owned fields that only make sense on
// the source instance; the overwrite conflict strategy PATCHes the
// target card with the rewritten source payload, so these must be
// stripped first or the PATCH would overwrite the target's own identity
// and audit trail with the source's.
var overwriteStripFields = []string{
	"entity_id", "created_at", "updated_at", "creator_id",
	"made_public_by_id", "public_uuid", "last-edit-info",
	"moderation_reviews", "view_count",
}

// QuestionInstaller installs questions and models in dependency order:
// every card referenced by another card's query tree is created before
// its dependent, so the rewriter always has a resolved question id to
// substitute. Cards caught in a reference cycle, or depending on a card
// missing from the package, are attempted last instead of blocking the
// whole run, per scenario S5.
type QuestionInstaller struct {
	client   mbclient.Client
	res      *resolver.State
	cache    *itemCache
	renamer  *idgen.UniqueRenamer
	strategy model.ConflictStrategy
	report   *model.Report
}

// NewQuestionInstaller builds an installer against a target client and
// the shared resolver, report, and conflict strategy for this run.
func NewQuestionInstaller(client mbclient.Client, res *resolver.State, strategy model.ConflictStrategy, report *model.Report) *QuestionInstaller {
	qi := &QuestionInstaller{client: client, res: res, strategy: strategy, report: report, cache: newItemCache(client)}
	qi.renamer = idgen.NewUniqueRenamer(func(scope int, name string) bool {
		var coll *int
		if scope != 0 {
			coll = &scope
		}
		_, found, err := qi.cache.lookup(context.Background(), coll, []string{"card", "dataset"}, name)
		return err == nil && found
	})
	return qi
}

// InstallAll installs every question in pkg.Cards, skipping archived ones
// unless includeArchived is set, and returns the number of questions it
// attempted (for the run summary).
func (qi *QuestionInstaller) InstallAll(ctx context.Context, pkg *Package, includeArchived, dryRun bool) (int, error) {
	cards := make([]model.Question, 0, len(pkg.Cards))
	for _, c := range pkg.Cards {
		if c.Archived && !includeArchived {
			continue
		}
		cards = append(cards, c)
	}

	payloads := make(map[int]mbclient.Payload, len(cards))
	for _, c := range cards {
		payload, err := pkg.ReadEntityFile(c.FilePath, c.Checksum)
		if err != nil {
			return 0, fmt.Errorf("read card %d: %w", c.ID, err)
		}
		payloads[c.ID] = payload
	}

	order, tailIDs := topoSortQuestions(cards, payloads)

	// Per the cycle tie-break (SPEC_FULL.md §9): the first card attempted
	// out of the cycle/missing-dependency tail registers its id regardless
	// of its own unresolved reference; every other tail member fails
	// outright with a structured cycle reason, since by definition its
	// dependency is still unresolved (or, if the one registered id happens
	// to be the dependency it needed, accepting that would make the
	// outcome order-dependent rather than the deterministic "one created,
	// one failed" scenario S5 describes).
	forcedTailMember := false
	attempted := 0
	for _, c := range order {
		attempted++
		var err error
		switch {
		case tailIDs[c.ID] && !forcedTailMember:
			forcedTailMember = true
			err = qi.installOne(ctx, c, payloads[c.ID], dryRun, true)
		case tailIDs[c.ID]:
			err = fmt.Errorf("%w: card %d (%q) is part of a reference cycle or depends on a card missing from the package", model.ErrReference, c.ID, c.Name)
		default:
			err = qi.installOne(ctx, c, payloads[c.ID], dryRun, false)
		}
		if err != nil {
			qi.report.Add(model.ReportItem{Kind: "card", Status: model.StatusFailed, SourceID: c.ID, Name: c.Name, Reason: err.Error()})
		}
	}
	return attempted, nil
}

// topoSortQuestions orders cards so every in-package dependency precedes
// its dependent, using Kahn's algorithm with an ascending-source-id
// tie-break for determinism. Cards still blocked once no zero-indegree
// node remains (a cycle, or a dependency missing from the in-scope set)
// are appended in ascending id order and attempted last; their ids are
// returned in tailIDs so the caller can apply the cycle tie-break (the
// first tail member installed is let through despite its own unresolved
// reference, the rest fail outright).
func topoSortQuestions(cards []model.Question, payloads map[int]mbclient.Payload) (order []model.Question, tailIDs map[int]bool) {
	byID := make(map[int]model.Question, len(cards))
	inPackage := make(map[int]bool, len(cards))
	for _, c := range cards {
		byID[c.ID] = c
		inPackage[c.ID] = true
	}

	deps := make(map[int][]int, len(cards))
	dependents := make(map[int][]int)
	indegree := make(map[int]int, len(cards))
	missingDep := make(map[int]bool)

	for _, c := range cards {
		refs := rewrite.ExtractCardReferences(payloads[c.ID])
		var inScope []int
		for depID := range refs {
			switch {
			case depID == c.ID:
			case inPackage[depID]:
				inScope = append(inScope, depID)
			default:
				missingDep[c.ID] = true
			}
		}
		sort.Ints(inScope)
		deps[c.ID] = inScope
		indegree[c.ID] = len(inScope)
		for _, depID := range inScope {
			dependents[depID] = append(dependents[depID], c.ID)
		}
	}

	remaining := make(map[int]bool, len(cards))
	for _, c := range cards {
		remaining[c.ID] = true
	}

	for len(remaining) > 0 {
		var ready []int
		for id := range remaining {
			if indegree[id] == 0 && !missingDep[id] {
				ready = append(ready, id)
			}
		}
		if len(ready) == 0 {
			break // cycle or cross-dependency among whatever is left
		}
		sort.Ints(ready)
		for _, id := range ready {
			order = append(order, byID[id])
			delete(remaining, id)
			for _, dependent := range dependents[id] {
				if remaining[dependent] {
					indegree[dependent]--
				}
			}
		}
	}

	if len(remaining) > 0 {
		var stuck []int
		for id := range remaining {
			stuck = append(stuck, id)
		}
		sort.Ints(stuck)
		tailIDs = make(map[int]bool, len(stuck))
		for _, id := range stuck {
			order = append(order, byID[id])
			tailIDs[id] = true
		}
	}

	return order, tailIDs
}

// installOne installs a single card. forceThrough, set for the first
// cycle/missing-dependency member attempted (per topoSortQuestions),
// lets the install through despite an unresolved question reference
// instead of failing it outright — the cycle tie-break decision: one
// member of a cycle registers an id, the other fails against it.
func (qi *QuestionInstaller) installOne(ctx context.Context, q model.Question, payload mbclient.Payload, dryRun, forceThrough bool) error {
	rewritten, ok, warnings, unresolvedRefs := rewrite.New(qi.res).Rewrite(payload)
	for _, w := range warnings {
		warnf("card %d (%q): %s", q.ID, q.Name, w)
	}
	if !ok {
		return fmt.Errorf("%w: card %d (%q) has no resolvable database reference", model.ErrReference, q.ID, q.Name)
	}
	if len(unresolvedRefs) > 0 && !forceThrough {
		return fmt.Errorf("%w: card %d (%q) references unresolved question(s) %v, likely a reference cycle or a dependency missing from the package", model.ErrReference, q.ID, q.Name, unresolvedRefs)
	}

	var targetColl *int
	if q.CollectionID != nil {
		if tgt, ok := qi.res.ResolveCollection(*q.CollectionID); ok {
			targetColl = &tgt
		} else {
			warnf("card %d (%q): source collection %d has no target mapping, installing at root", q.ID, q.Name, *q.CollectionID)
		}
	}

	kind := "card"
	if q.IsModel {
		kind = "dataset"
	}

	if dryRun {
		qi.res.RegisterQuestion(q.ID, q.ID)
		status := model.StatusCreated
		reason := "dry run"
		if len(warnings) > 0 {
			reason = "dry run; " + strings.Join(warnings, "; ")
		}
		qi.report.Add(model.ReportItem{Kind: kind, Status: status, SourceID: q.ID, Name: q.Name, Reason: reason})
		return nil
	}

	existing, found, err := qi.cache.lookup(ctx, targetColl, []string{kind}, q.Name)
	if err != nil {
		return fmt.Errorf("check existing questions: %w", err)
	}

	action, targetID, createName := resolveConflict(qi.strategy, existing, found, qi.renamer, scopeID(targetColl), q.Name)

	fields := mbclient.Payload(rewritten)
	fields["name"] = createName
	fields["collection_id"] = nil
	if targetColl != nil {
		fields["collection_id"] = float64(*targetColl)
	}

	switch action {
	case actionSkip:
		qi.res.RegisterQuestion(q.ID, targetID)
		qi.report.Add(model.ReportItem{Kind: kind, Status: model.StatusSkipped, SourceID: q.ID, TargetID: &targetID, Name: q.Name, Reason: "name already exists on target"})
		return nil

	case actionUpdate:
		for _, f := range overwriteStripFields {
			delete(fields, f)
		}
		if _, err := qi.client.UpdateCard(ctx, targetID, fields); err != nil {
			return fmt.Errorf("%w: update card %d: %v", model.ErrTransport, targetID, err)
		}
		qi.res.RegisterQuestion(q.ID, targetID)
		qi.cache.record(targetColl, kind, q.Name, targetID)
		qi.report.Add(model.ReportItem{Kind: kind, Status: model.StatusUpdated, SourceID: q.ID, TargetID: &targetID, Name: q.Name})
		return nil

	default: // actionCreate
		created, err := qi.client.CreateCard(ctx, fields)
		if err != nil {
			return fmt.Errorf("%w: create card %q: %v", model.ErrTransport, q.Name, err)
		}
		newIDFloat, _ := created["id"].(float64)
		newID := int(newIDFloat)
		qi.res.RegisterQuestion(q.ID, newID)
		qi.cache.record(targetColl, kind, createName, newID)
		qi.report.Add(model.ReportItem{Kind: kind, Status: model.StatusCreated, SourceID: q.ID, TargetID: &newID, Name: createName})
		return nil
	}
}
