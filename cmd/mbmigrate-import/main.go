// Command mbmigrate-import reinstalls a package produced by
// mbmigrate-export onto a target analytics-platform instance, remapping
// every database/table/field/collection/question identifier along the
// way.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/finverity/mbmigrate/internal/cliconfig"
	"github.com/finverity/mbmigrate/internal/importpkg"
	"github.com/finverity/mbmigrate/internal/mbclient"
	"github.com/finverity/mbmigrate/internal/model"
)

var (
	targetURL          string
	targetUsername     string
	packageDir         string
	dbMapPath          string
	includeArchived    bool
	includePermissions bool
	conflictStrategy   string
	dryRun             bool
	profilePath        string
	logLevel           string
)

func main() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if !exitCodeSet {
			lastExitCode = importpkg.ExitCode(nil, err)
		}
	}
	os.Exit(lastExitCode)
}

var (
	lastExitCode int
	exitCodeSet  bool
)

var rootCmd = &cobra.Command{
	Use:   "mbmigrate-import",
	Short: "Reinstall an exported package onto a target analytics-platform instance",
	RunE:  runImport,
}

func init() {
	rootCmd.Flags().StringVar(&targetURL, "target-url", "", "target instance base URL")
	rootCmd.Flags().StringVar(&targetUsername, "target-username", "", "target instance username (password mode only)")
	rootCmd.Flags().StringVar(&packageDir, "export-dir", "", "directory containing the exported package to import")
	rootCmd.Flags().StringVar(&dbMapPath, "db-map", "", "path to db_map.json")
	rootCmd.Flags().BoolVar(&includeArchived, "include-archived", false, "install archived cards and dashboards")
	rootCmd.Flags().BoolVar(&includePermissions, "include-permissions", false, "install permission groups and graphs (alias: --apply-permissions)")
	rootCmd.Flags().BoolVar(&includePermissions, "apply-permissions", false, "alias for --include-permissions")
	rootCmd.Flags().StringVar(&conflictStrategy, "conflict-strategy", "skip", "one of skip, overwrite, rename")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "tally what would happen without writing to the target")
	rootCmd.Flags().StringVar(&profilePath, "profile", "", "optional YAML file pre-setting the flags above")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	viper.SetEnvPrefix("MBMIGRATE")
	viper.AutomaticEnv()
}

func runImport(cmd *cobra.Command, args []string) error {
	if profilePath != "" {
		profile, err := cliconfig.LoadProfile(profilePath)
		if err != nil {
			return err
		}
		applyImportProfile(cmd, profile)
	}

	if targetURL == "" {
		return fmt.Errorf("%w: --target-url is required", model.ErrConfig)
	}
	if packageDir == "" {
		return fmt.Errorf("%w: --export-dir is required", model.ErrConfig)
	}
	if dbMapPath == "" {
		return fmt.Errorf("%w: --db-map is required", model.ErrConfig)
	}
	if err := cliconfig.ValidateConflictStrategy(conflictStrategy); err != nil {
		return fmt.Errorf("%w: %v", model.ErrConfig, err)
	}

	creds := cliconfig.CredentialsFromEnv(targetUsername, "TARGET")
	client, err := mbclient.NewHTTPClient(targetURL, creds)
	if err != nil {
		return fmt.Errorf("%w: configure target client: %v", model.ErrConfig, err)
	}

	result, runErr := importpkg.Run(context.Background(), importpkg.Options{
		PackageDir:         packageDir,
		DBMapPath:          dbMapPath,
		TargetClient:       client,
		IncludeArchived:    includeArchived,
		IncludePermissions: includePermissions,
		ConflictStrategy:   model.ConflictStrategy(conflictStrategy),
		DryRun:             dryRun,
	})

	if result != nil && result.Report != nil {
		printSummary(result)
	}

	lastExitCode = importpkg.ExitCode(result, runErr)
	exitCodeSet = true
	return runErr
}

func printSummary(result *importpkg.RunResult) {
	counts := result.Report.Counts()
	fmt.Println("Import summary:")
	for _, kind := range []string{"collection", "card", "dataset", "dashboard", "permissions_graph", "collection_permissions_graph"} {
		c, ok := counts[kind]
		if !ok {
			continue
		}
		fmt.Printf("  %s: created=%d updated=%d skipped=%d failed=%d\n",
			kind, c[model.StatusCreated], c[model.StatusUpdated], c[model.StatusSkipped], c[model.StatusFailed])
	}
	if result.ReportPath != "" {
		fmt.Printf("Report written to %s\n", result.ReportPath)
	}
}

func applyImportProfile(cmd *cobra.Command, p *cliconfig.Profile) {
	if !cmd.Flags().Changed("target-url") && p.TargetURL != "" {
		targetURL = p.TargetURL
	}
	if !cmd.Flags().Changed("target-username") && p.TargetUsername != "" {
		targetUsername = p.TargetUsername
	}
	if !cmd.Flags().Changed("export-dir") && p.ExportDir != "" {
		packageDir = p.ExportDir
	}
	if !cmd.Flags().Changed("db-map") && p.DBMapPath != "" {
		dbMapPath = p.DBMapPath
	}
	if !cmd.Flags().Changed("include-archived") {
		includeArchived = p.IncludeArchived
	}
	if !cmd.Flags().Changed("include-permissions") && !cmd.Flags().Changed("apply-permissions") {
		includePermissions = p.IncludePermissions
	}
	if !cmd.Flags().Changed("conflict-strategy") && p.ConflictStrategy != "" {
		conflictStrategy = p.ConflictStrategy
	}
	if !cmd.Flags().Changed("log-level") && p.LogLevel != "" {
		logLevel = p.LogLevel
	}
}
