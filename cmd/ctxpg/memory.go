package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jayusctrojan/ctxpg/types"
)

var archiveCmd = &cobra.Command{
	Use:   "archive <session-id>",
	Short: "Distill a finished session into a durable memory",
	Args:  cobra.ExactArgs(1),
	RunE:  runArchive,
}

var memoriesCmd = &cobra.Command{
	Use:   "memories <query>",
	Short: "Search archived session memories",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemories,
}

func init() {
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(memoriesCmd)

	archiveCmd.Flags().String("retention", string(types.RetentionProject),
		"Retention policy: project, org, or indefinite")

	memoriesCmd.Flags().String("project", "", "Limit results to a project")
	memoriesCmd.Flags().Int("limit", 10, "Maximum results")
}

func runArchive(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	mgr, cleanup, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	retention, _ := cmd.Flags().GetString("retention")
	policy := types.RetentionPolicy(retention)
	switch policy {
	case types.RetentionProject, types.RetentionOrg, types.RetentionIndefinite:
	default:
		return fmt.Errorf("unknown retention policy %q", retention)
	}

	id, err := mgr.ArchiveSession(ctx, args[0], policy)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func runMemories(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	mgr, cleanup, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	project, _ := cmd.Flags().GetString("project")
	limit, _ := cmd.Flags().GetInt("limit")

	memories, err := mgr.QueryMemories(ctx, args[0], project, limit)
	if err != nil {
		return err
	}
	if len(memories) == 0 {
		fmt.Println("no matching memories")
		return nil
	}
	return printJSON(memories)
}
