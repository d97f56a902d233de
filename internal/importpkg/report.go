package importpkg

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/finverity/mbmigrate/internal/model"
)

// WriteReport serializes report to
// "<dir>/import_report_<UTC_YYYYmmdd_HHMMSS>.json", written via the same
// temp-file-then-rename idiom the export side uses, and always attempted
// even when the run aborted partway through so a partial import leaves an
// audit trail.
func WriteReport(dir string, report *model.Report) (string, error) {
	report.GeneratedAtUTC = time.Now().UTC()

	name := fmt.Sprintf("import_report_%s.json", report.GeneratedAtUTC.Format("20060102_150405"))
	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal import report: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("write import report: %w", err)
	}
	return path, nil
}

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
