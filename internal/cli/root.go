// Package cli implements the jobfeed command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/jobfeed-client/internal/app"
	"github.com/Sternrassler/jobfeed-client/internal/config"
	"github.com/Sternrassler/jobfeed-client/pkg/logging"
)

// Version information, set at build time with ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// runtime is shared by all subcommands of one invocation.
type runtime struct {
	configFile string
	cfg        *config.Config
	logger     zerolog.Logger

	// appOptions are passed to app.New.
	appOptions []app.Option
}

// Execute runs the root command with args.
func Execute(ctx context.Context, args []string) error {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// NewRootCommand builds the command tree.
func NewRootCommand(opts ...app.Option) *cobra.Command {
	rt := &runtime{appOptions: opts}

	root := &cobra.Command{
		Use:   "jobfeed",
		Short: "Budget-aware job search cache",
		Long: `jobfeed serves job searches from a shared cache, calling the paid
upstream provider only when an answer is stale and the monthly call budget
allows it. It can also prewarm popular searches and inspect or purge the cache.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			cfg, err := config.Load(rt.configFile)
			if err != nil {
				return err
			}
			rt.cfg = cfg
			lc := cfg.LoggingConfig()
			lc.Output = cmd.ErrOrStderr()
			rt.logger = logging.Setup(lc)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&rt.configFile, "config", "c", "", "config file (default: config.yaml in /etc/jobfeed, $HOME/.jobfeed or .)")

	root.AddCommand(
		newServeCommand(rt),
		newPrewarmCommand(rt),
		newUsageCommand(rt),
		newCacheCommand(rt),
		newListingsCommand(rt),
		newVersionCommand(),
	)
	return root
}

// open wires the components for a command. The caller closes the App.
func (rt *runtime) open(ctx context.Context) (*app.App, error) {
	return app.New(ctx, rt.cfg, rt.logger, rt.appOptions...)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "jobfeed version %s\n", Version)
			fmt.Fprintf(out, "Git commit: %s\n", GitCommit)
			fmt.Fprintf(out, "Build date: %s\n", BuildDate)
		},
	}
}
