package cmd

import (
	"fmt"
	"os"

	"github.com/scrollDynasty/softforlogic-sub000/lib/loads"
	"github.com/scrollDynasty/softforlogic-sub000/lib/profit"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var evalLoad loads.RawLoad

func init() {
	evaluateCmd.Flags().Float64Var(&evalLoad.Miles, "miles", 0, "Loaded miles.")
	evaluateCmd.Flags().Float64Var(&evalLoad.Deadhead, "deadhead", 0, "Empty miles to the pickup.")
	evaluateCmd.Flags().Float64Var(&evalLoad.Rate, "rate", 0, "Quoted rate in dollars, 0 if unquoted.")
	evaluateCmd.Flags().StringVar(&evalLoad.Equipment, "equipment", "", "Equipment type code.")
	evaluateCmd.Flags().StringVar(&evalLoad.PickupDate, "pickup-date", "", "Pickup date as the board formats it.")
	rootCmd.AddCommand(evaluateCmd)
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Scores a hypothetical load with the profitability estimator.",
	Run: func(cmd *cobra.Command, args []string) {
		// a missing config file just means stock estimator parameters
		profitCfg := profit.DefaultConfig()
		if cfg, err := readConfig(); err == nil {
			profitCfg = cfg.Profit
		}

		analysis := profit.NewEstimator(profitCfg).Evaluate(evalLoad)

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendRows([]table.Row{
			{"Total miles", fmt.Sprintf("%.1f", analysis.TotalMiles)},
			{"Rate per mile", fmt.Sprintf("$%.2f", analysis.RatePerMile)},
			{"Deadhead ratio", fmt.Sprintf("%.2f", analysis.DeadheadRatio)},
			{"Fuel cost", fmt.Sprintf("$%.2f", analysis.FuelCost)},
			{"Gross profit", fmt.Sprintf("$%.2f", analysis.GrossProfit)},
			{"Quality score", fmt.Sprint(analysis.QualityScore)},
			{"Priority", string(analysis.Priority)},
			{"Score", fmt.Sprintf("%.2f", analysis.Score)},
			{"Profitable", fmt.Sprint(analysis.Profitable)},
		})
		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}
