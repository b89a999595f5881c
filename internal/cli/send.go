package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/csvmailer/internal/core"
)

type sendOptions struct {
	account     string
	user        string
	password    string
	subject     string
	subjectFile string
	body        string
	bodyFile    string
	dryRun      bool
	jsonOut     bool
}

func newSendCmd(a *app) *cobra.Command {
	var opts sendOptions

	cmd := &cobra.Command{
		Use:   "send <file.csv>",
		Short: "Send one message per CSV row",
		Long: `Send one message per CSV row from the chosen account.

The CSV needs an "email" column; a "name" column fills $name. A non-empty
"body" column is sent instead of the body template, and a "subject" column
is used when no subject template is given.

Credentials default to <ACCOUNT>_SMTP_USER and <ACCOUNT>_SMTP_PASSWORD.
The command exits non-zero when any recipient fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := opts.request(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, closeHistory, err := a.newService(ctx)
			if err != nil {
				return err
			}
			defer closeHistory()

			if opts.dryRun {
				account, msgs, err := svc.Prepare(req)
				if err != nil {
					return fmt.Errorf("%s: %w", core.FormatUserError(err), err)
				}
				return printPreview(a.out, account, msgs, opts.jsonOut)
			}

			report, err := svc.Send(ctx, req)
			if err != nil {
				return fmt.Errorf("%s: %w", core.FormatUserError(err), err)
			}
			if err := printReport(a.out, report, opts.jsonOut); err != nil {
				return err
			}
			if report.HasFailures() {
				return fmt.Errorf("%d of %d messages failed", len(report.Failed), report.Total)
			}
			log.Info("all messages sent", "count", report.Total)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.account, "account", "a", "", "account key, e.g. gmail or feishu")
	f.StringVarP(&opts.user, "user", "u", "", "SMTP login (default from <ACCOUNT>_SMTP_USER)")
	f.StringVarP(&opts.password, "password", "p", "", "SMTP password (default from <ACCOUNT>_SMTP_PASSWORD)")
	f.StringVarP(&opts.subject, "subject", "s", "", "subject template")
	f.StringVar(&opts.subjectFile, "subject-file", "", "read the subject template from a file")
	f.StringVarP(&opts.body, "body", "b", "", "body template")
	f.StringVar(&opts.bodyFile, "body-file", "", "read the body template from a file")
	f.BoolVar(&opts.dryRun, "dry-run", false, "build the messages and print them without sending")
	f.BoolVar(&opts.jsonOut, "json", false, "print the result as JSON")
	_ = cmd.MarkFlagRequired("account")
	cmd.MarkFlagsMutuallyExclusive("subject", "subject-file")
	cmd.MarkFlagsMutuallyExclusive("body", "body-file")

	return cmd
}

// request reads the CSV and template files into a SendRequest.
func (o sendOptions) request(path string) (core.SendRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return core.SendRequest{}, fmt.Errorf("read csv: %w", err)
	}

	subject, err := valueOrFile(o.subject, o.subjectFile)
	if err != nil {
		return core.SendRequest{}, err
	}
	body, err := valueOrFile(o.body, o.bodyFile)
	if err != nil {
		return core.SendRequest{}, err
	}

	return core.SendRequest{
		Account:         o.account,
		User:            o.user,
		Password:        o.password,
		SubjectTemplate: subject,
		BodyTemplate:    body,
		FileName:        filepath.Base(path),
		File:            data,
	}, nil
}

func valueOrFile(value, file string) (string, error) {
	if file == "" {
		return value, nil
	}
	b, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("read template: %w", err)
	}
	return string(b), nil
}

func printReport(w io.Writer, report *core.Report, asJSON bool) error {
	if asJSON {
		return writeJSON(w, report)
	}

	fmt.Fprintf(w, "Batch %s via %s: %d sent, %d failed (%d total) in %s\n",
		report.BatchID, report.Account, len(report.Success), len(report.Failed),
		report.Total, report.Duration.Round(time.Second))

	if len(report.Failed) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "EMAIL\tNAME\tERROR")
	for _, f := range report.Failed {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", f.ToEmail, f.ToName, f.Error)
	}
	return tw.Flush()
}

func printPreview(w io.Writer, account core.Account, msgs []core.Message, asJSON bool) error {
	if asJSON {
		return writeJSON(w, map[string]any{
			"account":  account.Name,
			"from":     core.FormatFrom(account),
			"total":    len(msgs),
			"messages": msgs,
		})
	}

	fmt.Fprintf(w, "Would send %d messages from %s via %s\n\n", len(msgs), core.FormatFrom(account), account.Addr())
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TO\tNAME\tSUBJECT")
	for _, m := range msgs {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", m.ToEmail, m.ToName, m.Subject)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
