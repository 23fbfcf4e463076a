package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/netprep/internal/model"
	"github.com/sells-group/netprep/internal/prepare"
)

var prepareCmd = &cobra.Command{
	Use:   "prepare",
	Short: "Create the per-period highway and transit scenarios",
	Long:  "Loads the all-day reference scenarios, classifies area types from the zone land-use table, derives link attributes and writes one scenario per configured time period.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("prepare"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		dryRun, _ := cmd.Flags().GetBool("dry-run")
		skipTransit, _ := cmd.Flags().GetBool("skip-transit")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runner, err := prepare.New(cfg, st, newResolver(cfg.Fetch))
		if err != nil {
			return err
		}

		run, err := runner.Run(ctx, prepare.Options{DryRun: dryRun, SkipTransit: skipTransit})
		if run != nil {
			formatRunSummary(os.Stdout, run)
		}
		if err != nil {
			return eris.Wrap(err, "prepare")
		}

		zap.L().Info("prepare complete",
			zap.String("run_id", run.ID),
			zap.Bool("dry_run", dryRun),
		)
		return nil
	},
}

func init() {
	prepareCmd.Flags().Bool("dry-run", false, "run every stage but skip the final commit")
	prepareCmd.Flags().Bool("skip-transit", false, "prepare highway scenarios only")
	rootCmd.AddCommand(prepareCmd)
}

// formatRunSummary writes the outcome of a prepare run to w.
func formatRunSummary(out io.Writer, run *model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", run.ID)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", run.Status)

	res := run.Result
	if res == nil {
		_ = w.Flush()
		return
	}
	if res.Failed() {
		_, _ = fmt.Fprintf(w, "Failed stage:\t%s\n", res.FailedStage)
		_, _ = fmt.Fprintf(w, "Error kind:\t%s\n", res.FailedKind)
		if res.FailedEntity != "" {
			_, _ = fmt.Fprintf(w, "Entity:\t%s\n", res.FailedEntity)
		}
		_, _ = fmt.Fprintf(w, "Error:\t%s\n", res.Error)
	}
	_, _ = fmt.Fprintf(w, "Zones located:\t%d\n", res.ZonesLocated)
	_, _ = fmt.Fprintf(w, "Links:\t%d\n", res.Links)

	areaTypes := make([]int, 0, len(res.LinksByAreaType))
	for at := range res.LinksByAreaType {
		areaTypes = append(areaTypes, at)
	}
	sort.Ints(areaTypes)
	for _, at := range areaTypes {
		_, _ = fmt.Fprintf(w, "  Area type %d:\t%d\n", at, res.LinksByAreaType[at])
	}

	for _, ref := range res.Scenarios {
		_, _ = fmt.Fprintf(w, "Scenario:\t%s/%d\t%s\n", ref.Bank, ref.ID, ref.Title)
	}
	for _, p := range res.Phases {
		line := fmt.Sprintf("%s\t%dms", p.Status, p.Duration)
		if p.Error != "" {
			line += "\t" + p.Error
		}
		_, _ = fmt.Fprintf(w, "Phase %s:\t%s\n", p.Name, line)
	}
	_ = w.Flush()
}
