// Package cliconfig is the small shared layer both CLI binaries use to
// load an optional --profile YAML file and to source credentials from
// environment variables rather than flags.
package cliconfig

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/finverity/mbmigrate/internal/mbclient"
	"gopkg.in/yaml.v3"
)

// Profile is an on-disk YAML file pre-setting flags for repeated runs
// against the same source/target pair. Explicit flags always win over a
// value loaded here.
type Profile struct {
	SourceURL          string `yaml:"source_url"`
	TargetURL          string `yaml:"target_url"`
	SourceUsername     string `yaml:"source_username"`
	TargetUsername     string `yaml:"target_username"`
	ExportDir          string `yaml:"export_dir"`
	DBMapPath          string `yaml:"db_map"`
	ConflictStrategy   string `yaml:"conflict_strategy"`
	IncludeArchived    bool   `yaml:"include_archived"`
	IncludeDashboards  bool   `yaml:"include_dashboards"`
	IncludePermissions bool   `yaml:"include_permissions"`
	RootCollectionIDs  string `yaml:"root_collection_ids"`
	LogLevel           string `yaml:"log_level"`
}

// LoadProfile reads and parses a --profile YAML file. An empty or
// unreadable path is an error; callers only invoke this when --profile
// was actually given.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	return &p, nil
}

// CredentialsFromEnv builds mbclient.Credentials for side ("SOURCE" or
// "TARGET") from the MBMIGRATE_<side>_PASSWORD / _TOKEN / _SESSION
// environment variables, per the design decision that no credential
// secret is ever accepted as a plain flag (a process listing would
// expose it).
func CredentialsFromEnv(username, side string) mbclient.Credentials {
	return mbclient.Credentials{
		Username:      username,
		Password:      os.Getenv("MBMIGRATE_" + side + "_PASSWORD"),
		SessionToken:  os.Getenv("MBMIGRATE_" + side + "_SESSION"),
		PersonalToken: os.Getenv("MBMIGRATE_" + side + "_TOKEN"),
	}
}

// ParseIntList parses a comma-separated list of ids, as accepted by
// --root-collection-ids, tolerating surrounding whitespace and an empty
// string (which yields a nil slice).
func ParseIntList(csv string) ([]int, error) {
	csv = strings.TrimSpace(csv)
	if csv == "" {
		return nil, nil
	}
	parts := strings.Split(csv, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", p, err)
		}
		out = append(out, n)
	}
	return out, nil
}

// ValidConflictStrategies lists the accepted --conflict-strategy values.
var ValidConflictStrategies = []string{"skip", "overwrite", "rename"}

// ValidateConflictStrategy rejects anything outside the three known
// strategies before any client call is made.
func ValidateConflictStrategy(s string) error {
	for _, v := range ValidConflictStrategies {
		if s == v {
			return nil
		}
	}
	return fmt.Errorf("invalid --conflict-strategy %q: must be one of %v", s, ValidConflictStrategies)
}
