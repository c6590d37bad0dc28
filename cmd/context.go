package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	flagContextK      int
	flagContextBudget int
)

var contextCmd = &cobra.Command{
	Use:   "context <collection> <query>",
	Short: "Assemble a token-bounded context block for a query",
	Long: `Search the collection and join the best chunks, each behind a
"--- Source: ... ---" line, until the token budget is reached. The context is
written to stdout; the summary goes to stderr so the output can be piped.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runContext,
}

func init() {
	contextCmd.Flags().IntVar(&flagContextK, "k", 0, "Candidate chunks to consider (default: context.top_k)")
	contextCmd.Flags().IntVar(&flagContextBudget, "budget", 0, "Token budget (default: context.token_budget)")
	rootCmd.AddCommand(contextCmd)
}

func runContext(cmd *cobra.Command, args []string) error {
	collectionID := args[0]
	query := strings.Join(args[1:], " ")

	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	k, budget := flagContextK, flagContextBudget
	if k <= 0 {
		k = a.cfg.Context.TopK
	}
	if budget <= 0 {
		budget = a.cfg.Context.TokenBudget
	}
	res, err := a.asm.BuildContext(cmd.Context(), collectionID, query, k, budget)
	if err != nil {
		return err
	}
	if res.Context != "" {
		fmt.Fprintln(stdout, res.Context)
	}
	fmt.Fprintf(stderr, "  ~  %d chunk(s), ~%d/%d tokens\n", len(res.Used), res.Tokens, budget)
	return nil
}
