package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/finverity/mbmigrate/internal/cliconfig"
	"github.com/finverity/mbmigrate/internal/mbclient"
)

// diagnoseMissingCmd is a read-only diagnostic: given a list of card ids
// that turned up missing from a prior export, it reports each card's home
// collection so the operator knows which --root-collection-ids to add.
var diagnoseMissingCmd = &cobra.Command{
	Use:   "diagnose-missing <card-id> [card-id...]",
	Short: "Report the home collection of one or more card ids missing from an export",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDiagnoseMissing,
}

func runDiagnoseMissing(cmd *cobra.Command, args []string) error {
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

	cardIDs := make([]int, 0, len(args))
	for _, a := range args {
		id, err := strconv.Atoi(a)
		if err != nil {
			return fmt.Errorf("invalid card id %q: %w", a, err)
		}
		cardIDs = append(cardIDs, id)
	}

	creds := cliconfig.CredentialsFromEnv(sourceUsername, "SOURCE")
	client, err := mbclient.NewHTTPClient(sourceURL, creds)
	if err != nil {
		return fmt.Errorf("configure source client: %w", err)
	}

	ctx := context.Background()
	collections := make(map[int]bool)

	for _, id := range cardIDs {
		card, err := client.GetCard(ctx, id)
		if err != nil {
			fmt.Printf("card %d: ERROR - %v\n", id, err)
			continue
		}
		name, _ := card["name"].(string)
		dbID, _ := card["database_id"].(float64)

		collID, collName := 0, "Root Collection"
		if coll, ok := card["collection"].(mbclient.Payload); ok {
			if v, ok := coll["id"].(float64); ok {
				collID = int(v)
			}
			if v, ok := coll["name"].(string); ok {
				collName = v
			}
		} else if v, ok := card["collection_id"].(float64); ok {
			collID = int(v)
			collName = ""
		}

		fmt.Printf("card %d: %q\n", id, name)
		fmt.Printf("  collection id: %d\n", collID)
		fmt.Printf("  collection name: %s\n", collName)
		fmt.Printf("  database id: %v\n\n", dbID)

		if collID != 0 {
			collections[collID] = true
		}
	}

	ids := make([]int, 0, len(collections))
	for id := range collections {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	fmt.Printf("Additional collections to export: %v\n", ids)
	if len(ids) > 0 {
		csv := ""
		for i, id := range ids {
			if i > 0 {
				csv += ","
			}
			csv += strconv.Itoa(id)
		}
		fmt.Printf("Re-run export with: --root-collection-ids %q\n", csv)
	}
	return nil
}
