package cmd

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/scrollDynasty/softforlogic-sub000/lib/loads"

	"github.com/antzucaro/matchr"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var sentCmd = &cobra.Command{
	Use:   "sent",
	Short: "Inspects the sent-load dedup store.",
}

var sentListLimit int
var sentPurgeOlderThan time.Duration

func init() {
	sentListCmd.Flags().IntVar(&sentListLimit, "limit", 25, "Maximum rows to print.")
	sentPurgeCmd.Flags().DurationVar(
		&sentPurgeOlderThan, "older-than", time.Hour*24*30,
		"Delete records older than this.",
	)
	sentCmd.AddCommand(sentListCmd)
	sentCmd.AddCommand(sentFindCmd)
	sentCmd.AddCommand(sentPurgeCmd)
	rootCmd.AddCommand(sentCmd)
}

func renderRecords(records []loads.SentRecord) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Sent at", "Id", "Pickup", "Delivery", "Rate", "Miles", "Priority"})
	for _, r := range records {
		t.AppendRow(table.Row{
			r.SentAt.Format(time.DateTime),
			r.ExternalID,
			r.Pickup,
			r.Delivery,
			fmt.Sprintf("$%.2f", r.Rate),
			fmt.Sprintf("%.0f", r.Miles),
			r.Priority,
		})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}

var sentListCmd = &cobra.Command{
	Use:   "list",
	Short: "Prints the most recently sent loads.",
	Run: func(cmd *cobra.Command, args []string) {
		store, err := openStore(cmd.Context())
		if err != nil {
			log.Fatal(err)
		}
		records, err := store.Recent(cmd.Context(), sentListLimit)
		if err != nil {
			log.Fatal(err)
		}
		renderRecords(records)
	},
}

var sentFindCmd = &cobra.Command{
	Use:   "find <query>",
	Short: "Fuzzy-searches recent sent loads by pickup or delivery city.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		store, err := openStore(cmd.Context())
		if err != nil {
			log.Fatal(err)
		}
		records, err := store.Recent(cmd.Context(), 500)
		if err != nil {
			log.Fatal(err)
		}

		query := strings.ToLower(args[0])
		type match struct {
			record     loads.SentRecord
			similarity float64
		}
		var matches []match
		for _, r := range records {
			pickup := matchr.JaroWinkler(query, strings.ToLower(r.Pickup), false)
			delivery := matchr.JaroWinkler(query, strings.ToLower(r.Delivery), false)
			similarity := max(pickup, delivery)
			if similarity < 0.8 {
				continue
			}
			matches = append(matches, match{record: r, similarity: similarity})
		}
		sort.SliceStable(matches, func(i, j int) bool {
			return matches[i].similarity > matches[j].similarity
		})

		results := make([]loads.SentRecord, len(matches))
		for i, m := range matches {
			results[i] = m.record
		}
		renderRecords(results)
	},
}

var sentPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Deletes sent records older than the retention window.",
	Run: func(cmd *cobra.Command, args []string) {
		store, err := openStore(cmd.Context())
		if err != nil {
			log.Fatal(err)
		}
		purged, err := store.Purge(cmd.Context(), time.Now().Add(-sentPurgeOlderThan))
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("purged %d records\n", purged)
	},
}
