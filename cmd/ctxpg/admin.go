package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jayusctrojan/ctxpg/maintenance"
	"github.com/jayusctrojan/ctxpg/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database tables",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired checkpoints, memories, and leader leases once",
	Args:  cobra.NoArgs,
	RunE:  runSweep,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(sweepCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	pool, err := openPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, storage.Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	fmt.Println("schema applied")
	return nil
}

func runSweep(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	pool, err := openPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	sweeper := maintenance.NewSweeper(storage.NewPostgresStore(pool), nil)
	result := sweeper.RunOnce(ctx)
	for _, sweepErr := range result.Errors {
		fmt.Fprintf(cmd.ErrOrStderr(), "sweep error: %v\n", sweepErr)
	}
	fmt.Printf("removed %d checkpoints, %d memories, %d leases\n",
		result.ExpiredCheckpoints, result.ExpiredMemories, result.ExpiredLeaders)
	if len(result.Errors) > 0 {
		return fmt.Errorf("sweep finished with %d errors", len(result.Errors))
	}
	return nil
}
