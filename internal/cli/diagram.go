package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/fsm"
)

var diagramFormat string

func init() {
	rootCmd.AddCommand(diagramCmd)
	diagramCmd.Flags().StringVarP(&diagramFormat, "format", "f", "mermaid", "Diagram format (mermaid|dot)")
}

var diagramCmd = &cobra.Command{
	Use:   "diagram",
	Short: "Print the agent state machine",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		t := fsm.DefaultTable()
		switch diagramFormat {
		case "mermaid":
			fmt.Fprint(cmd.OutOrStdout(), fsm.Mermaid(t))
		case "dot":
			fmt.Fprint(cmd.OutOrStdout(), fsm.DOT(t))
		default:
			return fmt.Errorf("unknown diagram format %q (want mermaid or dot)", diagramFormat)
		}
		return nil
	},
}
