package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/model"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/policy"
)

var checkFormat string

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().Bool("full-access", false, "Evaluate with full access")
	checkCmd.Flags().Bool("auto-approve", false, "Evaluate with auto-approve")
	checkCmd.Flags().StringSlice("safe-dir", nil, "Safe directory (repeatable)")
	checkCmd.Flags().StringVarP(&checkFormat, "format", "f", "text", "Output format (text|json)")
}

var checkCmd = &cobra.Command{
	Use:   "check <operation> <target>",
	Short: "Classify one action without running it",
	Long: "Evaluates an action against the policy and prints the decision.\n\n" +
		"Operations: file_read, file_write, shell, process_kill, clipboard_write,\n" +
		"network, file_list, file_search.\n\n" +
		"Exit code 0 if allowed, 3 if approval would be required, 4 if denied.",
	Args: cobra.ExactArgs(2),
	RunE: runCheck,
}

// Exit codes reported by check.
const (
	exitNeedsApproval = 3
	exitDenied        = 4
)

func runCheck(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	op, err := model.ParseOperation(args[0])
	if err != nil {
		return err
	}
	engine, err := policy.Load(e.cfg.Policy.File)
	if err != nil {
		return err
	}

	action := model.Action{Operation: op, Target: args[1]}
	d := engine.Evaluate(action, e.cfg.PolicyContext())

	out := cmd.OutOrStdout()
	if checkFormat == "json" {
		data, err := json.MarshalIndent(map[string]any{
			"action":      action,
			"decision":    d,
			"verdict":     d.Verdict(),
			"policy_hash": engine.Hash(),
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
	} else {
		fmt.Fprintf(out, "%s  risk=%s  rule=%s\n", d.Verdict(), d.Risk, d.RuleID)
		fmt.Fprintf(out, "  %s\n", d.Reason)
	}

	switch {
	case d.Allowed:
		return nil
	case d.RequiresApproval:
		return &exitError{code: exitNeedsApproval}
	default:
		return &exitError{code: exitDenied}
	}
}
