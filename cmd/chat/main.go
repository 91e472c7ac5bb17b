package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"devchat/client/internal/app"
	"devchat/client/internal/config"
	"devchat/client/internal/localization"
	"devchat/client/internal/logging"
	"devchat/client/internal/tui"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cobra.CheckErr(newRootCmd().ExecuteContext(ctx))
}

type rootOptions struct {
	configPath string
	logFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "devchat",
		Short:         "Terminal client for one-to-one developer chat",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "directory holding config.yaml")
	root.PersistentFlags().StringVar(&opts.logFile, "log-file", "devchat.log", "where the chat view writes its logs")

	root.AddCommand(newChatCmd(opts), newConnectionsCmd(opts), newSessionsCmd(opts))
	return root
}

// start loads the configuration, routes logs to w and builds the app.
func start(ctx context.Context, opts *rootOptions, w io.Writer) (*app.App, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	logging.Init(cfg.Log, w)
	return app.New(ctx, cfg, logging.L())
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <counterpart-id>",
		Short: "Open a conversation with a connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// The terminal belongs to the view, so logs go to a file.
			logFile, err := os.OpenFile(opts.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
			if err != nil {
				return errors.Wrap(err, "open log file")
			}
			defer logFile.Close()

			a, err := start(cmd.Context(), opts, logFile)
			if err != nil {
				return err
			}
			defer a.Close()

			view, err := a.Factory.Open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer view.Close()

			labels := localization.Default().For(a.Config.Locale)
			p := tea.NewProgram(tui.New(view, a.Local, labels), tea.WithAltScreen())
			if _, err := p.Run(); err != nil {
				return errors.Wrap(err, "run chat view")
			}
			return nil
		},
	}
}

func newConnectionsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "connections",
		Short: "List the users you can chat with",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := start(cmd.Context(), opts, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			connections, err := a.Client.FetchConnections(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME")
			for _, c := range connections {
				fmt.Fprintf(tw, "%s\t%s\n", c.UserID, c.FullName())
			}
			return tw.Flush()
		},
	}
}

func newSessionsCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Show recently opened conversation views",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := start(cmd.Context(), opts, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.Store == nil {
				return errors.New("database.dsn is not configured")
			}

			records, err := a.Store.RecentSessions(cmd.Context(), a.Local.ID, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "OPENED\tCOUNTERPART\tHISTORY\tLIVE\tFAILURES")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\n",
					r.OpenedAt.Local().Format(time.DateTime), r.CounterpartUserID,
					r.HistorySize, r.LiveMessages, len(r.Failures))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "how many views to show")
	return cmd
}
