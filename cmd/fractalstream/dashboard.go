package main

import (
	"github.com/spf13/cobra"

	"fractalstream/internal/dashboard"
	"fractalstream/internal/logging"
)

var (
	dashboardOutput string
	dashboardTitle  string
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Render Grafana dashboards for the GreptimeDB dispatch table",
	Long:  "dashboard renders the embedded Grafana templates. GREPTIMEDB_DATASOURCE_UID must be set.",
	RunE: func(cmd *cobra.Command, args []string) error {
		data := dashboard.DefaultData()
		if dashboardTitle != "" {
			data.Title = dashboardTitle
		}
		written, err := dashboard.Render(dashboardOutput, data)
		if err != nil {
			return err
		}
		log := logging.FromContext(cmd.Context())
		for _, p := range written {
			log.Info("dashboard written", "path", p, "table", data.Table)
		}
		return nil
	},
}

func init() {
	dashboardCmd.Flags().StringVar(&dashboardOutput, "output", "build", "Directory receiving rendered dashboards")
	dashboardCmd.Flags().StringVar(&dashboardTitle, "title", "", "Dashboard title")
}
