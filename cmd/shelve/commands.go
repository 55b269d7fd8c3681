package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/shelve/internal/indexer"
	"github.com/fyrsmithlabs/shelve/internal/monitor"
	"github.com/fyrsmithlabs/shelve/internal/organizer"
	"github.com/fyrsmithlabs/shelve/internal/placement"
)

var (
	syncPlain  bool
	syncJSON   bool
	placeDry   bool
	placeTop   int
	seedParent string
	clearYes   bool
)

func init() {
	syncCmd.Flags().BoolVar(&syncPlain, "plain", false, "print progress lines instead of the progress bar")
	syncCmd.Flags().BoolVar(&syncJSON, "json", false, "print the report as JSON")

	placeCmd.Flags().BoolVar(&placeDry, "dry-run", false, "rank destinations without moving the bookmark")
	placeCmd.Flags().IntVar(&placeTop, "top", 10, "number of ranked destinations to print")

	seedCmd.Flags().StringVar(&seedParent, "parent", "unfiled_____", "folder receiving the demo data")

	clearCmd.Flags().BoolVarP(&clearYes, "yes", "y", false, "do not ask for confirmation")
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile the embedding store with the bookmark tree",
	Long: `Delete records of removed items and embed every item without a record.

Examples:
  # Interactive progress bar
  shelve sync

  # Log-friendly output
  shelve sync --plain`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			var (
				report *indexer.Report
				err    error
			)
			switch {
			case syncPlain || syncJSON:
				report, err = a.org.Reconcile(ctx, func(processed, total int) {
					if !syncJSON {
						cmd.Printf("%d/%d\n", processed, total)
					}
				})
			default:
				report, err = monitor.Run(ctx, a.org.Reconcile, os.Stdin, cmd.OutOrStdout())
			}
			if err != nil {
				return err
			}
			if syncJSON {
				return printJSON(cmd, report)
			}
			if syncPlain {
				cmd.Print(monitor.Summary(report))
			}
			return nil
		})
	},
}

var placeCmd = &cobra.Command{
	Use:   "place <bookmark-id>",
	Short: "Move a bookmark into its best matching folder",
	Long: `Rank every folder and bookmark record against the bookmark's content
embedding and move it to the winner. The bookmark must have been synced.

Examples:
  # Preview the ranking
  shelve place --dry-run vHd8Ui3kQm2x

  # Move it
  shelve place vHd8Ui3kQm2x`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			dec, err := a.org.Place(ctx, args[0], placeDry)
			if err != nil {
				return err
			}
			printDecision(cmd, dec, placeTop)
			return nil
		})
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create demo folders and bookmarks",
	Long: `Create four demo folders with two Wikipedia bookmarks each. The items
are not embedded or moved; run "shelve sync" afterwards.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			created, err := a.org.Seed(ctx, a.tree, seedParent, organizer.DemoData)
			if err != nil {
				return err
			}
			cmd.Printf("Created %d items under %s in %s\n", len(created), seedParent, a.tree.Path())
			return nil
		})
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every embedding record",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !clearYes {
			cmd.Print("Delete all embedding records? [y/N] ")
			var answer string
			_, _ = fmt.Fscanln(cmd.InOrStdin(), &answer)
			if answer != "y" && answer != "Y" && answer != "yes" {
				cmd.Println("Aborted.")
				return nil
			}
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			n, err := a.org.Clear(ctx)
			if err != nil {
				return err
			}
			cmd.Printf("Deleted %d records\n", n)
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show how much of the tree has embedding records",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			st, err := a.org.Status(ctx)
			if err != nil {
				return err
			}
			printStatus(cmd, st)
			return nil
		})
	},
}

func printStatus(cmd *cobra.Command, st indexer.Status) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "folders\t%d/%d\n", st.Containers.Synced, st.Containers.Total)
	fmt.Fprintf(w, "bookmarks\t%d/%d\n", st.Leaves.Synced, st.Leaves.Total)
	fmt.Fprintf(w, "orphans\t%d\n", st.Orphans)
	fmt.Fprintf(w, "in sync\t%t\n", st.InSync())
	_ = w.Flush()
}

func printDecision(cmd *cobra.Command, dec *placement.Decision, top int) {
	cmd.Printf("%s: %s", dec.LeafID, dec.Outcome)
	if dec.TargetID != "" {
		cmd.Printf(" -> %s", dec.TargetID)
	}
	cmd.Println()
	if len(dec.Ranked) == 0 {
		return
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tSCORE\tKIND\tITEM\tTARGET\tTITLE")
	for i, c := range dec.Ranked {
		if i >= top {
			break
		}
		fmt.Fprintf(w, "%d\t%.4f\t%s\t%s\t%s\t%s\n", i+1, c.Score, c.Kind, c.ItemID, c.TargetID, c.Title)
	}
	_ = w.Flush()
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
