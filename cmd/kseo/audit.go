package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/kseo/audit"
)

var auditFilter audit.Filter

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "List recent audited actions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, _, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		l := audit.New(db, 1, audit.WithLogger(logger))
		defer l.Close()

		entries, err := l.Query(cmd.Context(), auditFilter)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tACTOR\tACTION\tTRANSPORT\tSTATUS\tPARAMETERS")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				time.UnixMilli(e.Timestamp).UTC().Format(time.RFC3339),
				e.Actor, e.Action, e.Transport, e.Status, e.Parameters)
		}
		return w.Flush()
	},
}

func init() {
	auditCmd.Flags().StringVar(&auditFilter.Actor, "actor", "", "filter by actor (key:..., user:..., ip:..., cli:...)")
	auditCmd.Flags().StringVar(&auditFilter.Action, "action", "", "filter by action")
	auditCmd.Flags().IntVar(&auditFilter.Limit, "limit", 50, "max entries")
	rootCmd.AddCommand(auditCmd)
}
