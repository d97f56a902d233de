package importpkg

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finverity/mbmigrate/internal/model"
)

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func TestLoadPackageRehydratesIntKeyedMaps(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, filepath.Join(dir, "manifest.json"), map[string]any{
		"meta":       model.ManifestMeta{SourceURL: "https://source.example"},
		"databases":  map[string]string{"1": "warehouse"},
		"collections": []model.Collection{{ID: 5, Name: "Marketing"}},
	})
	dbMapPath := filepath.Join(dir, "db_map.json")
	writeJSON(t, dbMapPath, model.DatabaseMap{ByID: map[string]int{"1": 100}})

	pkg, err := LoadPackage(dir, dbMapPath)
	require.NoError(t, err)

	assert.Equal(t, "warehouse", pkg.Databases[1])
	assert.Equal(t, 100, pkg.DBMap.ByID["1"])
	require.Len(t, pkg.Collections, 1)
	assert.Equal(t, "Marketing", pkg.Collections[0].Name)
}

func TestLoadPackageMissingManifestIsConfigError(t *testing.T) {
	dir := t.TempDir()
	dbMapPath := filepath.Join(dir, "db_map.json")
	writeJSON(t, dbMapPath, model.DatabaseMap{})

	_, err := LoadPackage(dir, dbMapPath)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrConfig)
}

func TestLoadPackageMalformedManifestIsConfigError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), []byte("{not json"), 0o600))
	dbMapPath := filepath.Join(dir, "db_map.json")
	writeJSON(t, dbMapPath, model.DatabaseMap{})

	_, err := LoadPackage(dir, dbMapPath)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrConfig)
}

func TestReadEntityFileDetectsChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	pkg := &Package{Dir: dir}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "card_1.json"), []byte(`{"name":"x"}`), 0o600))

	_, err := pkg.ReadEntityFile("card_1.json", "0000000000000000000000000000000000000000000000000000000000000000")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrConfig)
}

func TestReadEntityFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	pkg := &Package{Dir: dir}
	data := []byte(`{"name":"x"}`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "card_1.json"), data, 0o600))

	payload, err := pkg.ReadEntityFile("card_1.json", checksumOf(data))
	require.NoError(t, err)
	assert.Equal(t, "x", payload["name"])
}
