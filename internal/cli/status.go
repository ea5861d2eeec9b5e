package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/soyeahso/lucai/internal/config"
	"github.com/soyeahso/lucai/internal/consumer"
	"github.com/soyeahso/lucai/internal/llm"
	"github.com/soyeahso/lucai/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show LucAI status and configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "LucAI %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(out, "Config:  %s\n", paths.Config)
			fmt.Fprintf(out, "Data:    %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:    %s\n", paths.Logs)
			fmt.Fprintln(out)

			if _, err := os.Stat(paths.Config); os.IsNotExist(err) {
				fmt.Fprintln(out, "Config:  not found (using defaults)")
			}
			cfg, err := loadConfig()
			if err != nil {
				fmt.Fprintf(out, "Config:  error loading: %v\n", err)
				return nil
			}

			printSummary(out, cfg)

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s\n", issue)
				}
			}

			if offline {
				return nil
			}
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			client := consumer.NewClient(gatewayURL(cfg.Gateway), cfg.Gateway.Auth.Token, log)
			health, err := client.Health(ctx)
			fmt.Fprintln(out)
			if err != nil {
				fmt.Fprintf(out, "Server:  not reachable at %s (%v)\n", client.BaseURL(), err)
				return nil
			}
			fmt.Fprintf(out, "Server:  %s version=%s uptime=%ds wsClients=%d\n",
				health.Status, health.Version, health.UptimeSecs, health.WSClients)
			return nil
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "skip the running server health check")
	return cmd
}

func printSummary(out io.Writer, cfg config.Config) {
	auth := "none"
	if cfg.Gateway.Auth.Token != "" {
		auth = "token"
	}
	fmt.Fprintf(out, "Gateway: port=%d bind=%s auth=%s tls=%v\n",
		cfg.Gateway.Port, cfg.Gateway.Bind, auth, cfg.Gateway.TLS.Enabled)

	registry := llm.NewRegistryFromConfig(cfg.Models, log)
	if providers := registry.List(); len(providers) > 0 {
		fmt.Fprintf(out, "Models:  primary=%s available=%s\n", cfg.Models.Primary, strings.Join(providers, ", "))
	} else {
		fmt.Fprintln(out, "Models:  (none configured)")
	}
	if len(cfg.Models.Fallbacks) > 0 {
		fmt.Fprintf(out, "         fallbacks=%s\n", strings.Join(cfg.Models.Fallbacks, ", "))
	}

	storePath := cfg.Store.Path
	if storePath == "" && cfg.Store.Driver == "sqlite" {
		storePath = paths.DatabasePath()
	}
	fmt.Fprintf(out, "Store:   driver=%s path=%s\n", cfg.Store.Driver, storePath)

	snapshots := "off"
	if cfg.Finance.SnapshotsEnabled() {
		snapshots = cfg.Finance.SnapshotSchedule
	}
	fmt.Fprintf(out, "Finance: currency=%s recentDays=%d snapshots=%s\n",
		cfg.Finance.Currency, cfg.Finance.RecentDays, snapshots)
	fmt.Fprintf(out, "History: timezone=%s\n", cfg.History.Location())
}
