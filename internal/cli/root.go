/*
Package cli provides the csvmail command line interface.
*/
package cli

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/csvmailer/internal/config"
	"github.com/JonMunkholm/csvmailer/internal/core"
	"github.com/JonMunkholm/csvmailer/internal/logging"
)

// app carries what the commands share. Tests fill cfg and dialer up front
// so nothing is read from the environment and no socket is opened.
type app struct {
	cfg     *config.Config
	dialer  core.Dialer
	out     io.Writer
	history func(ctx context.Context, cfg config.DatabaseConfig) (core.History, func(), error)

	envFile   string
	logLevel  string
	logFormat string
}

// Execute runs the csvmail command and returns its error, already logged.
func Execute() error {
	cmd := newRootCmd(&app{out: os.Stdout})
	err := cmd.Execute()
	if err != nil {
		log.Error(err)
	}
	return err
}

func newRootCmd(a *app) *cobra.Command {
	if a.history == nil {
		a.history = connectHistory
	}

	root := &cobra.Command{
		Use:   "csvmail",
		Short: "Send personalized mail to every row of a CSV",
		Long: `csvmail sends one plain-text email per CSV row through an SMTP account.

Templates use $column or ${column} placeholders filled from each row;
$$ is a literal dollar sign and unknown placeholders are left as written.
Quote templates with single quotes so the shell leaves $ alone.

Example:
  csvmail providers
  csvmail send list.csv -a gmail -s 'Hi $name' --body-file welcome.txt
  csvmail send list.csv -a gmail -s 'Hi $name' -b 'Hello $name' --dry-run`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file to load if present")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error (default from LOG_LEVEL)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "console", "log format: console, text or json")

	root.AddCommand(newSendCmd(a))
	root.AddCommand(newProvidersCmd(a))
	root.AddCommand(newHistoryCmd(a))
	return root
}

// init loads the environment and configuration once per run.
func (a *app) init() error {
	if a.cfg == nil {
		// Load, not Overload: variables already exported by the shell win.
		if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		a.cfg = cfg
	}
	if a.dialer == nil {
		a.dialer = core.SMTPDialer{Timeout: a.cfg.Mail.Timeout}
	}

	level := a.logLevel
	if level == "" {
		level = a.cfg.Logging.Level
	}
	logging.Setup(level, a.logFormat)
	if lvl, err := log.ParseLevel(level); err == nil {
		log.SetLevel(lvl)
	}
	return nil
}

// newService builds a Service, with history when a database is configured.
// The returned func releases the history connection.
func (a *app) newService(ctx context.Context) (*core.Service, func(), error) {
	var opts []core.Option
	closeFn := func() {}
	if a.cfg.Database.Enabled() {
		h, closeHistory, err := a.history(ctx, a.cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, core.WithHistory(h))
		closeFn = closeHistory
	}

	svc, err := core.NewService(a.cfg, a.dialer, opts...)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return svc, closeFn, nil
}

func connectHistory(ctx context.Context, cfg config.DatabaseConfig) (core.History, func(), error) {
	h, err := core.ConnectHistory(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return h, h.Close, nil
}
