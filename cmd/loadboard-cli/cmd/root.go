package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/scrollDynasty/softforlogic-sub000/lib/configutil"
	"github.com/scrollDynasty/softforlogic-sub000/lib/profit"
	"github.com/scrollDynasty/softforlogic-sub000/lib/sqliteutil"
	"github.com/scrollDynasty/softforlogic-sub000/services/loadboard"
	"github.com/scrollDynasty/softforlogic-sub000/services/sentstore"

	"github.com/spf13/cobra"
)

var configPath string

type storeConfig struct {
	Driver   string `json:"driver"`
	Database string `json:"database"`
}

type config struct {
	Board  loadboard.Config `json:"board"`
	Profit profit.Config    `json:"profit"`
	Store  storeConfig      `json:"store"`
}

var rootCmd = &cobra.Command{
	Use:   "loadboard-cli",
	Short: "loadboard-cli inspects and exercises the load scanning service offline.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&configPath, "config", "scand.json5",
		"Path to the scanner daemon config.",
	)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func readConfig() (config, error) {
	return configutil.ReadConfig[config](configPath)
}

func openStore(ctx context.Context) (sentstore.Store, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}
	switch cfg.Store.Driver {
	case "", "sqlite":
		db, err := sqliteutil.OpenDB(sentstore.Schema, cfg.Store.Database)
		if err != nil {
			return nil, err
		}
		return sentstore.NewSqlite(db), nil
	case "postgres":
		return sentstore.NewPostgres(ctx, cfg.Store.Database)
	}
	return nil, fmt.Errorf("unknown store driver '%s'", cfg.Store.Driver)
}
