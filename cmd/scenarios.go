package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/netprep/internal/store"
)

var scenariosCmd = &cobra.Command{
	Use:   "scenarios",
	Short: "Inspect scenario banks",
}

var scenariosListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the scenarios in a bank",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("read"); err != nil {
			return err
		}
		ctx := cmd.Context()

		bank, _ := cmd.Flags().GetString("bank")
		if bank == "" {
			bank = cfg.Emme.HighwayBank
		}
		if bank == "" {
			return eris.New("--bank is required when emme.highway_bank is not set")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		infos, err := st.ListScenarios(ctx, bank)
		if err != nil {
			return eris.Wrap(err, "scenarios list")
		}
		if len(infos) == 0 {
			fmt.Fprintf(os.Stderr, "Bank %q has no scenarios.\n", bank)
			return nil
		}

		formatScenarioList(os.Stdout, infos)
		return nil
	},
}

var scenariosDeleteCmd = &cobra.Command{
	Use:   "delete <scenario-id>",
	Short: "Delete a scenario from a bank",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("read"); err != nil {
			return err
		}
		ctx := cmd.Context()

		id, err := strconv.Atoi(args[0])
		if err != nil {
			return eris.Wrapf(err, "invalid scenario id %q", args[0])
		}
		bank, _ := cmd.Flags().GetString("bank")
		if bank == "" {
			return eris.New("--bank is required")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.DeleteScenario(ctx, bank, id); err != nil {
			return eris.Wrap(err, "scenarios delete")
		}
		fmt.Fprintf(os.Stdout, "Deleted %s/%d\n", bank, id)
		return nil
	},
}

func init() {
	scenariosListCmd.Flags().String("bank", "", "bank to list (defaults to emme.highway_bank)")
	scenariosDeleteCmd.Flags().String("bank", "", "bank holding the scenario (required)")

	scenariosCmd.AddCommand(scenariosListCmd)
	scenariosCmd.AddCommand(scenariosDeleteCmd)
	rootCmd.AddCommand(scenariosCmd)
}

// formatScenarioList writes a tabular bank listing to w.
func formatScenarioList(out io.Writer, infos []store.ScenarioInfo) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTITLE\tNODES\tLINKS\tUPDATED")
	_, _ = fmt.Fprintln(w, "--\t-----\t-----\t-----\t-------")
	for _, info := range infos {
		title := info.Title
		if len(title) > 40 {
			title = title[:37] + "..."
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\n",
			info.ID,
			title,
			info.Nodes,
			info.Links,
			info.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}
