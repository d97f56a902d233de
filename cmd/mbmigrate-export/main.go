// Command mbmigrate-export snapshots collections, questions, dashboards,
// and (optionally) permissions off one analytics-platform instance into
// the on-disk package format mbmigrate-import consumes.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/finverity/mbmigrate/internal/cliconfig"
	"github.com/finverity/mbmigrate/internal/export"
	"github.com/finverity/mbmigrate/internal/mbclient"
)

var (
	sourceURL          string
	sourceUsername     string
	exportDir          string
	includeArchived    bool
	includeDashboards  bool
	includePermissions bool
	rootCollectionIDs  string
	personalIDs        string
	profilePath        string
	logLevel           string
)

var toolVersion = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "mbmigrate-export",
	Short: "Export collections, questions, dashboards, and permissions from an analytics-platform instance",
	RunE:  runExport,
}

func init() {
	rootCmd.Flags().StringVar(&sourceURL, "source-url", "", "source instance base URL")
	rootCmd.Flags().StringVar(&sourceUsername, "source-username", "", "source instance username (password mode only)")
	rootCmd.Flags().StringVar(&exportDir, "export-dir", "", "directory to write the export package to")
	rootCmd.Flags().BoolVar(&includeArchived, "include-archived", false, "include archived cards and dashboards")
	rootCmd.Flags().BoolVar(&includeDashboards, "include-dashboards", true, "export dashboards and the questions they reference")
	rootCmd.Flags().BoolVar(&includePermissions, "include-permissions", false, "capture permission groups and graphs")
	rootCmd.Flags().StringVar(&rootCollectionIDs, "root-collection-ids", "", "comma-separated collection ids to restrict the export to (default: entire tree)")
	rootCmd.Flags().StringVar(&personalIDs, "include-personal-ids", "", "comma-separated personal collection ids to whitelist")
	rootCmd.Flags().StringVar(&profilePath, "profile", "", "optional YAML file pre-setting the flags above")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	rootCmd.AddCommand(diagnoseMissingCmd)

	viper.SetEnvPrefix("MBMIGRATE")
	viper.AutomaticEnv()
}

func runExport(cmd *cobra.Command, args []string) error {
	if profilePath != "" {
		profile, err := cliconfig.LoadProfile(profilePath)
		if err != nil {
			return err
		}
		applyExportProfile(cmd, profile)
	}

	if sourceURL == "" {
		return fmt.Errorf("--source-url is required")
	}
	if exportDir == "" {
		return fmt.Errorf("--export-dir is required")
	}

	rootIDs, err := cliconfig.ParseIntList(rootCollectionIDs)
	if err != nil {
		return fmt.Errorf("--root-collection-ids: %w", err)
	}
	personalWhitelist, err := cliconfig.ParseIntList(personalIDs)
	if err != nil {
		return fmt.Errorf("--include-personal-ids: %w", err)
	}

	creds := cliconfig.CredentialsFromEnv(sourceUsername, "SOURCE")
	client, err := mbclient.NewHTTPClient(sourceURL, creds)
	if err != nil {
		return fmt.Errorf("configure source client: %w", err)
	}

	session := export.NewSession(client, export.Options{
		ExportDir:          exportDir,
		IncludeArchived:    includeArchived,
		IncludeDashboards:  includeDashboards,
		IncludePermissions: includePermissions,
		RootCollectionIDs:  rootIDs,
		IncludePersonalIDs: personalWhitelist,
	})

	result, err := export.Run(context.Background(), session, sourceURL, toolVersion, redactedArgs())
	if err != nil {
		return err
	}

	fmt.Printf("Exported %d database(s), %d collection(s), %d card(s), %d dashboard(s), %d permission group(s) to %s\n",
		result.DatabaseCount, result.CollectionCount, result.CardCount, result.DashboardCount, result.PermissionsCount, result.ExportDir)
	return nil
}

// applyExportProfile fills in any flag the user did not explicitly set on
// the command line from the loaded profile, preserving the precedence
// that explicit flags always win.
func applyExportProfile(cmd *cobra.Command, p *cliconfig.Profile) {
	if !cmd.Flags().Changed("source-url") && p.SourceURL != "" {
		sourceURL = p.SourceURL
	}
	if !cmd.Flags().Changed("source-username") && p.SourceUsername != "" {
		sourceUsername = p.SourceUsername
	}
	if !cmd.Flags().Changed("export-dir") && p.ExportDir != "" {
		exportDir = p.ExportDir
	}
	if !cmd.Flags().Changed("include-archived") {
		includeArchived = p.IncludeArchived
	}
	if !cmd.Flags().Changed("include-dashboards") {
		includeDashboards = p.IncludeDashboards
	}
	if !cmd.Flags().Changed("include-permissions") {
		includePermissions = p.IncludePermissions
	}
	if !cmd.Flags().Changed("root-collection-ids") && p.RootCollectionIDs != "" {
		rootCollectionIDs = p.RootCollectionIDs
	}
	if !cmd.Flags().Changed("log-level") && p.LogLevel != "" {
		logLevel = p.LogLevel
	}
}

// redactedArgs joins os.Args, dropping any argument that looks like a
// credential, for recording in the manifest's cli_args field.
func redactedArgs() string {
	out := ""
	skipNext := false
	for i, a := range os.Args {
		if skipNext {
			out += "<redacted> "
			skipNext = false
			continue
		}
		if a == "--source-password" || a == "--target-password" || a == "--source-token" || a == "--target-token" {
			skipNext = true
		}
		if i > 0 {
			out += a + " "
		}
	}
	return out
}

// exitCodeFor maps a top-level export error to the process exit code:
// every export failure maps to 1. Unexpected errors are not told apart
// from client failures, so export never exits with 3.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	return 1
}
