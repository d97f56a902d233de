package export

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/finverity/mbmigrate/internal/model"
)

// wireManifest is the on-disk shape of manifest.json: the in-memory
// model.Manifest uses int keys throughout, but JSON forces string keys,
// so this type exists purely at the write boundary (and its mirror at the
// load boundary in internal/importpkg) — no other component ever sees a
// string-keyed map.
type wireManifest struct {
	Meta                       model.ManifestMeta                     `json:"meta"`
	Databases                  map[string]string                      `json:"databases"`
	DatabaseMetadata           map[string]model.DatabaseMetadataEntry `json:"database_metadata"`
	Collections                []model.Collection                     `json:"collections"`
	Cards                      []model.Question                       `json:"cards"`
	Dashboards                 []model.Dashboard                      `json:"dashboards"`
	PermissionGroups           []model.PermissionGroup                `json:"permission_groups"`
	PermissionsGraph           map[string]any                         `json:"permissions_graph,omitempty"`
	CollectionPermissionsGraph map[string]any                         `json:"collection_permissions_graph,omitempty"`
}

// WriteEntityFile writes a single question or dashboard payload under the
// export root at relPath and returns its checksum, matching the package
// layout's "<collection_path>/cards/card_<id>_<slug>.json" and
// ".../dashboards/dash_<id>_<slug>.json" shapes. Per the ordering
// guarantee in §5, the manifest itself is written only after every entity
// file has been written successfully.
func WriteEntityFile(exportRoot, relPath string, payload map[string]any) (checksum string, err error) {
	fullPath := filepath.Join(exportRoot, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("create directory for %s: %w", relPath, err)
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", relPath, err)
	}
	if err := writeFileAtomic(fullPath, data); err != nil {
		return "", fmt.Errorf("write %s: %w", relPath, err)
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// WriteCollectionMeta writes a collection's raw payload to
// "<path>/_collection.json", the one entity file the manifest does not
// checksum (collections are matched by name on import, not by content).
func WriteCollectionMeta(exportRoot, path string, payload map[string]any) error {
	fullPath := filepath.Join(exportRoot, filepath.FromSlash(path), "_collection.json")
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal collection meta %s: %w", path, err)
	}
	return writeFileAtomic(fullPath, data)
}

// WriteManifest serializes the session's accumulated records to
// "<export_root>/manifest.json", converting every int-keyed map to the
// wire's string-keyed form at this single boundary. Written via a
// temp-file-then-rename so a crash mid-write never leaves a half-written
// manifest.json behind, the same atomic-write idiom this codebase uses
// for every other durable artifact.
func WriteManifest(exportRoot string, meta model.ManifestMeta, databases []model.Database, session *Session) error {
	wire := wireManifest{
		Meta:                       meta,
		Databases:                  make(map[string]string, len(databases)),
		DatabaseMetadata:           make(map[string]model.DatabaseMetadataEntry, len(databases)),
		Collections:                session.Collections,
		Cards:                      session.Cards,
		Dashboards:                 session.Dashboards,
		PermissionGroups:           session.PermissionGroups,
		PermissionsGraph:           session.PermissionsGraph,
		CollectionPermissionsGraph: session.CollectionPermissionsGraph,
	}
	for _, db := range databases {
		key := fmt.Sprintf("%d", db.ID)
		wire.Databases[key] = db.Name
		wire.DatabaseMetadata[key] = model.DatabaseMetadataEntry{Tables: db.Tables}
	}

	data, err := json.MarshalIndent(wire, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	manifestPath := filepath.Join(exportRoot, "manifest.json")
	if err := os.MkdirAll(exportRoot, 0o755); err != nil {
		return fmt.Errorf("create export root: %w", err)
	}
	if err := writeFileAtomic(manifestPath, data); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// NewManifestMeta stamps the provenance block recorded at the top of
// every manifest.json: source URL, UTC export timestamp, tool version,
// and the invocation's CLI args with any credential-shaped value redacted
// by the caller before this is ever constructed.
func NewManifestMeta(sourceURL, toolVersion, redactedCLIArgs string) model.ManifestMeta {
	return model.ManifestMeta{
		SourceURL:     sourceURL,
		ExportTimeUTC: time.Now().UTC().Format(time.RFC3339),
		ToolVersion:   toolVersion,
		CLIArgs:       redactedCLIArgs,
	}
}

// writeFileAtomic writes data to path via a temp file in the same
// directory followed by an atomic rename, so a reader never observes a
// partially written file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	tempFile, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	defer func() {
		_ = tempFile.Close()
		_ = os.Remove(tempPath)
	}()

	if _, err := tempFile.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		warnf("failed to set permissions on %s: %v", path, err)
	}
	return nil
}
