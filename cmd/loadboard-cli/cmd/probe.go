package cmd

import (
	"fmt"
	"log"

	"github.com/scrollDynasty/softforlogic-sub000/services/loadboard"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(probeCmd)
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Logs into the board and runs a one-row search to verify the session.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := readConfig()
		if err != nil {
			log.Fatal(err)
		}
		client, err := loadboard.NewClient(cfg.Board)
		if err != nil {
			log.Fatal(err)
		}
		err = client.Authenticate(cmd.Context())
		if err != nil {
			log.Fatal(err)
		}
		err = client.Probe(cmd.Context())
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println("session ok")
	},
}
