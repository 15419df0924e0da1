package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/kseo/shield"
)

var maintenanceMessage string

var maintenanceCmd = &cobra.Command{
	Use:       "maintenance on|off",
	Short:     "Toggle API maintenance mode (503 on every route except /healthz)",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		on := args[0] == "on"
		err = shield.SetMaintenance(cmd.Context(), db, on, maintenanceMessage)
		auditCLI(cmd.Context(), db, "maintenance_"+args[0], map[string]string{"message": maintenanceMessage}, err)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "maintenance %s (running servers pick it up within 5s)\n", args[0])
		return nil
	},
}

func init() {
	maintenanceCmd.Flags().StringVar(&maintenanceMessage, "message", "", "message returned with the 503")
	rootCmd.AddCommand(maintenanceCmd)
}
