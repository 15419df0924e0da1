package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/kseo/api"
	"github.com/hazyhaar/kseo/kseosafe"
)

var analyzeFlags api.AnalyzeRequest

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze content read from stdin and print analysis and recommendations",
	Example: `  curl -s https://example.com/post | kseo analyze --seed "garden hose" --title "Garden hoses"`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		data, err := kseosafe.LimitedReadAll(cmd.InOrStdin(), kseosafe.MaxResponseBody)
		if err != nil {
			return err
		}
		req := analyzeFlags
		req.Content = string(data)
		resp, err := (&api.Service{}).Analyze(req)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeFlags.Seed, "seed", "", "seed keyword (defaults to title)")
	analyzeCmd.Flags().StringVar(&analyzeFlags.Title, "title", "", "content title")
	analyzeCmd.Flags().StringVar(&analyzeFlags.Locale, "locale", "en", "content locale")
	rootCmd.AddCommand(analyzeCmd)
}
