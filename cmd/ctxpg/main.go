// Command ctxpg is an operational CLI for conversation context windows:
// inspecting sessions, compacting, managing checkpoints, archiving, and
// running maintenance against a shared Postgres database.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	ctxpg "github.com/jayusctrojan/ctxpg"
)

var rootCmd = &cobra.Command{
	Use:   "ctxpg",
	Short: "Manage conversation context windows stored in Postgres",
	Long: `Inspect, compact, checkpoint, and archive conversation contexts.

Configuration is read from flags, environment variables with the CTXPG_
prefix, and an optional config file (--config). The Anthropic API key is
taken from ANTHROPIC_API_KEY.

Examples:
  ctxpg stats my-session
  ctxpg compact my-session --force
  ctxpg checkpoint create my-session --label "before refactor"
  ctxpg archive my-session --retention project
  ctxpg memories "how do we cache sessions" --project proj-1`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file path")
	rootCmd.PersistentFlags().String("database-url", "", "Postgres connection string")
	rootCmd.PersistentFlags().String("model", "claude-sonnet-4-5", "Model the sessions target")

	_ = viper.BindPFlag("database_url", rootCmd.PersistentFlags().Lookup("database-url"))
	_ = viper.BindPFlag("model", rootCmd.PersistentFlags().Lookup("model"))

	viper.SetEnvPrefix("CTXPG")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	cobra.OnInitialize(loadConfigFile)
}

func loadConfigFile() {
	path, _ := rootCmd.PersistentFlags().GetString("config")
	if path == "" {
		return
	}
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not read config %s: %v\n", path, err)
	}
}

// openPool connects using the configured database URL.
func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	dsn := viper.GetString("database_url")
	if dsn == "" {
		return nil, fmt.Errorf("database URL is required (--database-url or CTXPG_DATABASE_URL)")
	}
	return pgxpool.New(ctx, dsn)
}

// openManager builds a Manager from the CLI configuration. The returned
// cleanup func closes the pool.
func openManager(ctx context.Context) (*ctxpg.Manager, func(), error) {
	pool, err := openPool(ctx)
	if err != nil {
		return nil, nil, err
	}

	client := anthropic.NewClient(option.WithAPIKey(os.Getenv("ANTHROPIC_API_KEY")))
	mgr, err := ctxpg.New(ctxpg.Config{
		DB:     pool,
		Client: &client,
		Model:  viper.GetString("model"),
	},
		ctxpg.WithAutoCompaction(false),
		ctxpg.WithEventNotifications(false),
	)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return mgr, pool.Close, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
