// Package model defines the entities exchanged between the export and
// import pipelines: the in-memory shapes rehydrated from, and serialized
// to, the on-disk package format.
package model

import "time"

// Database is captured at export start and never mutated; it is never
// created on the target, only matched by name via the user-supplied map.
type Database struct {
	ID     int             `json:"id"`
	Name   string          `json:"name"`
	Tables []DatabaseTable `json:"tables"`
}

// DatabaseTable is one table's metadata as captured from the source.
type DatabaseTable struct {
	ID     int             `json:"id"`
	Name   string          `json:"name"`
	Fields []DatabaseField `json:"fields"`
}

// DatabaseField is one field's metadata as captured from the source.
type DatabaseField struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Collection is a node in the collection forest.
type Collection struct {
	ID               int    `json:"id"`
	Name             string `json:"name"`
	Slug             string `json:"slug"`
	Description      string `json:"description,omitempty"`
	ParentID         *int   `json:"parent_id,omitempty"`
	PersonalOwnerID  *int   `json:"personal_owner_id,omitempty"`
	Path             string `json:"path"`
}

// IsPersonal reports whether this collection is owned by a single user
// rather than shared — these are skipped by the CollectionWalker unless
// explicitly whitelisted.
func (c Collection) IsPersonal() bool {
	return c.PersonalOwnerID != nil
}

// Question is a saved query (a plain question or a model). Its body lives
// on disk; this is the manifest's index record.
type Question struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	CollectionID *int   `json:"collection_id,omitempty"`
	DatabaseID   int    `json:"database_id"`
	FilePath     string `json:"file_path"`
	Checksum     string `json:"checksum"`
	Archived     bool   `json:"archived"`
	IsModel      bool   `json:"dataset"`
}

// Dashboard is an ordered collection of panels, each referencing a question.
type Dashboard struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	CollectionID *int   `json:"collection_id,omitempty"`
	OrderedCards []int  `json:"ordered_cards"`
	FilePath     string `json:"file_path"`
	Checksum     string `json:"checksum"`
	Archived     bool   `json:"archived"`
}

// PermissionGroup is captured verbatim; group membership is never
// reconciled between instances.
type PermissionGroup struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	MemberCount int    `json:"member_count"`
}

// ManifestMeta records the provenance of an export run. CLIArgs is redacted
// of anything resembling a credential before being recorded.
type ManifestMeta struct {
	SourceURL      string `json:"source_url"`
	ExportTimeUTC  string `json:"export_timestamp"`
	ToolVersion    string `json:"tool_version"`
	CLIArgs        string `json:"cli_args"`
}

// DatabaseMetadataEntry is the manifest's per-database table/field capture.
type DatabaseMetadataEntry struct {
	Tables []DatabaseTable `json:"tables"`
}

// Manifest is the single on-disk index for an export package. Integer keys
// are serialized as strings on the wire (JSON forces this); converting
// between the two is exclusively the loader's and writer's job — no other
// component ever sees a string-keyed map.
type Manifest struct {
	Meta                       ManifestMeta                   `json:"meta"`
	Databases                  map[int]string                 `json:"-"`
	DatabaseMetadata           map[int]DatabaseMetadataEntry   `json:"-"`
	Collections                []Collection                   `json:"collections"`
	Cards                      []Question                      `json:"cards"`
	Dashboards                 []Dashboard                     `json:"dashboards"`
	PermissionGroups           []PermissionGroup               `json:"permission_groups"`
	PermissionsGraph           map[string]any                  `json:"permissions_graph"`
	CollectionPermissionsGraph map[string]any                  `json:"collection_permissions_graph"`
}

// DatabaseMap is the user-authored source-to-target database mapping.
// by_id always wins over by_name when both would resolve a given source id.
type DatabaseMap struct {
	ByID   map[string]int `json:"by_id"`
	ByName map[string]int `json:"by_name"`
}

// ReportStatus is the outcome of installing a single entity.
type ReportStatus string

const (
	StatusCreated ReportStatus = "created"
	StatusUpdated ReportStatus = "updated"
	StatusSkipped ReportStatus = "skipped"
	StatusFailed  ReportStatus = "failed"
)

// ReportItem is one entity's install outcome.
type ReportItem struct {
	Kind     string       `json:"kind"`
	Status   ReportStatus `json:"status"`
	SourceID int          `json:"source_id"`
	TargetID *int         `json:"target_id,omitempty"`
	Name     string       `json:"name"`
	Reason   string       `json:"reason,omitempty"`
}

// Report tallies per-kind counters and the individual item outcomes,
// appended during install and serialized once at the end, always — even on
// an aborted run — so a partial run leaves an audit trail.
type Report struct {
	GeneratedAtUTC time.Time    `json:"generated_at"`
	Items          []ReportItem `json:"items"`
}

// Add appends an item and returns it for convenience at call sites that
// want to log immediately after recording.
func (r *Report) Add(item ReportItem) ReportItem {
	r.Items = append(r.Items, item)
	return item
}

// Counts tallies status counts per entity kind.
func (r *Report) Counts() map[string]map[ReportStatus]int {
	out := make(map[string]map[ReportStatus]int)
	for _, item := range r.Items {
		if out[item.Kind] == nil {
			out[item.Kind] = make(map[ReportStatus]int)
		}
		out[item.Kind][item.Status]++
	}
	return out
}

// HasFailures reports whether any item failed, which the CLI maps to exit
// code 4 ("import completed with >=1 failure").
func (r *Report) HasFailures() bool {
	for _, item := range r.Items {
		if item.Status == StatusFailed {
			return true
		}
	}
	return false
}

// ConflictStrategy is the package-level conflict resolution choice.
type ConflictStrategy string

const (
	ConflictSkip      ConflictStrategy = "skip"
	ConflictOverwrite ConflictStrategy = "overwrite"
	ConflictRename    ConflictStrategy = "rename"
)
