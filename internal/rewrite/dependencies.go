package rewrite

// dependencyCollector is a Visitor that records every card reference it
// sees without altering the payload, used by both export-side transitive
// discovery and the import-side topological sort — the same shape
// catalog that drives the full rewrite also drives dependency extraction,
// per the design rationale that export discovery and import rewriting
// must never drift out of sync.
type dependencyCollector struct {
	refs map[int]bool
}

func (d *dependencyCollector) SourceTable(tableID int) int { return tableID }
func (d *dependencyCollector) FieldRef(fieldID int) int    { return fieldID }
func (d *dependencyCollector) CardRef(cardID int) int {
	d.refs[cardID] = true
	return cardID
}

// ExtractCardReferences returns every question id directly referenced by
// a card or dashboard panel's query payload: mbql source-table/join
// references of the form "card__<id>", and native template-tag
// references, both embedded in SQL text and in the template-tags map.
func ExtractCardReferences(card Payload) map[int]bool {
	collector := &dependencyCollector{refs: make(map[int]bool)}
	WalkQuery(card, collector)
	RewriteNative(card, collector, nil)
	return collector.refs
}
