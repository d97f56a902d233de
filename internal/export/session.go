// Package export implements the leaves-to-roots export pipeline:
// DatabaseSnapshotter, CollectionWalker, QuestionExporter,
// DashboardExporter, PermissionsSnapshotter, and ManifestWriter.
package export

import (
	"github.com/finverity/mbmigrate/internal/mbclient"
	"github.com/finverity/mbmigrate/internal/model"
)

// Options configures a single export run.
type Options struct {
	ExportDir          string
	IncludeArchived    bool
	IncludeDashboards  bool
	IncludePermissions bool
	// RootCollectionIDs restricts the walk to these collections (and
	// their descendants) when non-empty; an empty slice walks from the
	// root.
	RootCollectionIDs []int
	// IncludePersonalIDs whitelists specific personal collections that
	// would otherwise be skipped.
	IncludePersonalIDs []int
}

// Session is the single mutable value threaded through every exporter,
// replacing the back-references between exporters a direct port would
// otherwise need: the collection path map and the cross-run "exported"
// set live here instead of being passed by reference between sibling
// exporter objects.
type Session struct {
	Client mbclient.Client
	Opts   Options

	// collectionPathMap maps a source collection id to its sanitized,
	// scope-rooted path, populated by the CollectionWalker before any
	// question or dashboard export runs.
	collectionPathMap map[int]string

	// exported is the shared set of question ids already written to
	// disk, consulted and updated by QuestionExporter's DFS.
	exported map[int]bool

	// Accumulated manifest records, appended to as each stage runs.
	Databases                  []model.Database
	Collections                []model.Collection
	Cards                      []model.Question
	Dashboards                 []model.Dashboard
	PermissionGroups           []model.PermissionGroup
	PermissionsGraph           map[string]any
	CollectionPermissionsGraph map[string]any
}

// NewSession builds a fresh export session.
func NewSession(client mbclient.Client, opts Options) *Session {
	return &Session{
		Client:            client,
		Opts:              opts,
		collectionPathMap: make(map[int]string),
		exported:          make(map[int]bool),
	}
}

// CollectionPath returns the export-scope path for a source collection id,
// and whether that collection is within scope at all.
func (s *Session) CollectionPath(collectionID int) (string, bool) {
	p, ok := s.collectionPathMap[collectionID]
	return p, ok
}

func (s *Session) setCollectionPath(collectionID int, path string) {
	s.collectionPathMap[collectionID] = path
}

func (s *Session) isExported(questionID int) bool {
	return s.exported[questionID]
}

func (s *Session) markExported(questionID int) {
	s.exported[questionID] = true
}
