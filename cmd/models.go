package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/jamscribe/internal/engine"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List recognition models and whether they are downloaded",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "MODEL\tSIZE\tDOWNLOADED\tDESCRIPTION")
		for _, m := range engine.Catalog(cfg.Engine.ModelCache) {
			marker := "no"
			if m.Downloaded {
				marker = "yes"
			}
			if m.Name == cfg.Engine.Model {
				marker += " (default)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Name, m.SizeLabel, marker, m.Description)
		}
		return w.Flush()
	},
}

var languagesCmd = &cobra.Command{
	Use:   "languages",
	Short: "List supported language codes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, l := range engine.Languages {
			fmt.Printf("%-4s %s\n", l.Code, l.Name)
		}
		return nil
	},
}
