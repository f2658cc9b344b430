package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Manage session checkpoints",
}

var checkpointCreateCmd = &cobra.Command{
	Use:   "create <session-id>",
	Short: "Snapshot a session's current context",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointCreate,
}

var checkpointListCmd = &cobra.Command{
	Use:   "list <session-id>",
	Short: "List a session's checkpoints",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointList,
}

var checkpointRestoreCmd = &cobra.Command{
	Use:   "restore <checkpoint-id>",
	Short: "Roll a session back to a checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointRestore,
}

func init() {
	rootCmd.AddCommand(checkpointCmd)
	checkpointCmd.AddCommand(checkpointCreateCmd)
	checkpointCmd.AddCommand(checkpointListCmd)
	checkpointCmd.AddCommand(checkpointRestoreCmd)

	checkpointCreateCmd.Flags().String("label", "", "Checkpoint label (derived from content when empty)")
}

func runCheckpointCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	mgr, cleanup, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	label, _ := cmd.Flags().GetString("label")
	id, err := mgr.CreateCheckpoint(ctx, args[0], label)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func runCheckpointList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	mgr, cleanup, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	checkpoints, err := mgr.ListCheckpoints(ctx, args[0])
	if err != nil {
		return err
	}
	if len(checkpoints) == 0 {
		fmt.Println("no checkpoints")
		return nil
	}
	return printJSON(checkpoints)
}

func runCheckpointRestore(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	mgr, cleanup, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	cc, err := mgr.RestoreCheckpoint(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("restored session %s: %d messages, %d tokens\n",
		cc.SessionID, len(cc.Messages), cc.TotalTokens)
	return nil
}
