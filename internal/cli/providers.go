package cli

import (
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/csvmailer/internal/core"
)

func newProvidersCmd(a *app) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List the configured SMTP accounts",
		Long: `List every account key with its server settings.

Settings come from the built-in presets, EMAIL_PROVIDERS_FILE and the
<ACCOUNT>_SMTP_* variables. Passwords are never printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			providers := core.NewAccountResolver(a.cfg.Providers).Providers()
			if jsonOut {
				return writeJSON(a.out, providers)
			}

			tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ACCOUNT\tSERVER\tSECURITY\tCREDENTIALS")
			for _, p := range providers {
				fmt.Fprintf(tw, "%s\t%s:%d\t%s\t%s\n", p.Key, p.Host, p.Port, security(p), yesNo(p.HasCredentials))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print as JSON")
	return cmd
}

func security(p core.ProviderInfo) string {
	switch {
	case p.UseSSL:
		return "ssl"
	case p.UseTLS:
		return "starttls"
	default:
		return "none"
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit   int
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent batches",
		Long:  `Show the most recent batches recorded in the DATABASE_URL database.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.cfg.Database.Enabled() {
				return errors.New("history is disabled: set DATABASE_URL")
			}

			svc, closeHistory, err := a.newService(cmd.Context())
			if err != nil {
				return err
			}
			defer closeHistory()

			batches, err := svc.RecentBatches(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOut {
				if batches == nil {
					batches = []core.BatchSummary{}
				}
				return writeJSON(a.out, batches)
			}

			tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tACCOUNT\tFILE\tSENT\tFAILED\tDURATION")
			for _, b := range batches {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
					b.StartedAt.Local().Format(time.DateTime), b.Account, b.FileName,
					strconv.Itoa(b.Sent)+"/"+strconv.Itoa(b.Total), b.Failed, b.Duration)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of batches to show")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print as JSON")
	return cmd
}
