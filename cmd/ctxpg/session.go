package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jayusctrojan/ctxpg/compaction"
	"github.com/jayusctrojan/ctxpg/types"
)

var statsCmd = &cobra.Command{
	Use:   "stats <session-id>",
	Short: "Show a session's context window usage",
	Args:  cobra.ExactArgs(1),
	RunE:  runStats,
}

var compactCmd = &cobra.Command{
	Use:   "compact <session-id>",
	Short: "Condense a session's conversation history",
	Args:  cobra.ExactArgs(1),
	RunE:  runCompact,
}

var historyCmd = &cobra.Command{
	Use:   "history <session-id>",
	Short: "List a session's compaction history",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(compactCmd)
	rootCmd.AddCommand(historyCmd)

	compactCmd.Flags().Bool("force", false, "Compact even below the usage threshold")
	compactCmd.Flags().String("prompt", "", "Custom summarization instructions")
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	mgr, cleanup, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	stats, err := mgr.Stats(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func runCompact(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	mgr, cleanup, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	force, _ := cmd.Flags().GetBool("force")
	prompt, _ := cmd.Flags().GetString("prompt")

	result, err := mgr.Compact(ctx, args[0], compaction.Options{
		Trigger:      types.TriggerManual,
		Force:        force,
		CustomPrompt: prompt,
	})
	if err != nil {
		return err
	}

	if result.MessagesCondensed == 0 {
		fmt.Println("nothing to compact")
		return nil
	}
	fmt.Printf("condensed %d messages: %d -> %d tokens (%.1f%% reduction)\n",
		result.MessagesCondensed, result.PreTokens, result.PostTokens, result.ReductionPercent)
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	mgr, cleanup, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	history, err := mgr.CompactionHistory(ctx, args[0])
	if err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Println("no compactions recorded")
		return nil
	}
	return printJSON(history)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
