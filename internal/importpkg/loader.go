// Package importpkg implements the roots-to-leaves import pipeline:
// PackageLoader, Validator, CollectionInstaller, QuestionInstaller,
// DashboardInstaller, PermissionsInstaller, and ReportWriter, constrained
// throughout by the question reference DAG the QueryRewriter and
// resolver expose.
package importpkg

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/finverity/mbmigrate/internal/model"
)

func checksumOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// wireManifest mirrors internal/export's write-side type: the on-disk
// shape of manifest.json, with string keys forced by JSON. Converting to
// the in-memory int-keyed model.Manifest happens exactly once, here.
type wireManifest struct {
	Meta                       model.ManifestMeta                     `json:"meta"`
	Databases                  map[string]string                      `json:"databases"`
	DatabaseMetadata           map[string]model.DatabaseMetadataEntry `json:"database_metadata"`
	Collections                []model.Collection                     `json:"collections"`
	Cards                      []model.Question                       `json:"cards"`
	Dashboards                 []model.Dashboard                      `json:"dashboards"`
	PermissionGroups           []model.PermissionGroup                `json:"permission_groups"`
	PermissionsGraph           map[string]any                         `json:"permissions_graph"`
	CollectionPermissionsGraph map[string]any                         `json:"collection_permissions_graph"`
}

// Package is the fully rehydrated, typed view of an export directory:
// everything PackageLoader reads off disk before any HTTP call is made.
type Package struct {
	Dir              string
	Meta             model.ManifestMeta
	Databases        map[int]string
	DatabaseMetadata map[int]model.DatabaseMetadataEntry
	DatabasesList    []model.Database
	Collections      []model.Collection
	Cards            []model.Question
	Dashboards       []model.Dashboard
	PermissionGroups []model.PermissionGroup
	PermissionsGraph map[string]any
	CollPermsGraph   map[string]any
	DBMap            model.DatabaseMap
}

// LoadPackage reads manifest.json and db_map.json from dir and rehydrates
// them into typed entities. Any missing file or malformed JSON is an
// ErrConfig, fatal before any write per §7.
func LoadPackage(dir, dbMapPath string) (*Package, error) {
	manifest, err := loadManifest(filepath.Join(dir, "manifest.json"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrConfig, err)
	}

	dbMap, err := loadDatabaseMap(dbMapPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrConfig, err)
	}

	databasesList := make([]model.Database, 0, len(manifest.Databases))
	for idStr, name := range manifest.Databases {
		id, err := strconv.Atoi(idStr)
		if err != nil {
			return nil, fmt.Errorf("%w: manifest databases key %q is not an integer", model.ErrConfig, idStr)
		}
		entry := manifest.DatabaseMetadata[idStr]
		databasesList = append(databasesList, model.Database{ID: id, Name: name, Tables: entry.Tables})
	}

	intDatabases := make(map[int]string, len(manifest.Databases))
	intMetadata := make(map[int]model.DatabaseMetadataEntry, len(manifest.DatabaseMetadata))
	for idStr, name := range manifest.Databases {
		id, _ := strconv.Atoi(idStr)
		intDatabases[id] = name
	}
	for idStr, entry := range manifest.DatabaseMetadata {
		id, _ := strconv.Atoi(idStr)
		intMetadata[id] = entry
	}

	return &Package{
		Dir:              dir,
		Meta:             manifest.Meta,
		Databases:        intDatabases,
		DatabaseMetadata: intMetadata,
		DatabasesList:    databasesList,
		Collections:      manifest.Collections,
		Cards:            manifest.Cards,
		Dashboards:       manifest.Dashboards,
		PermissionGroups: manifest.PermissionGroups,
		PermissionsGraph: manifest.PermissionsGraph,
		CollPermsGraph:   manifest.CollectionPermissionsGraph,
		DBMap:            dbMap,
	}, nil
}

func loadManifest(path string) (*wireManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	var m wireManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return &m, nil
}

func loadDatabaseMap(path string) (model.DatabaseMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.DatabaseMap{}, fmt.Errorf("read db map %s: %w", path, err)
	}
	var m model.DatabaseMap
	if err := json.Unmarshal(data, &m); err != nil {
		return model.DatabaseMap{}, fmt.Errorf("parse db map %s: %w", path, err)
	}
	if m.ByID == nil {
		m.ByID = map[string]int{}
	}
	if m.ByName == nil {
		m.ByName = map[string]int{}
	}
	return m, nil
}

// ReadEntityFile reads and unmarshals a question or dashboard payload
// relative to the package directory, verifying it against the manifest's
// recorded checksum first (the checksum round-trip property from §8).
func (p *Package) ReadEntityFile(relPath, expectedChecksum string) (map[string]any, error) {
	fullPath := filepath.Join(p.Dir, filepath.FromSlash(relPath))
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", relPath, err)
	}
	if sum := checksumOf(data); sum != expectedChecksum {
		return nil, fmt.Errorf("%w: checksum mismatch for %s (want %s, got %s)", model.ErrConfig, relPath, expectedChecksum, sum)
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse %s: %w", relPath, err)
	}
	return payload, nil
}
