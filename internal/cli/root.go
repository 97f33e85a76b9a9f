// Package cli is the newsctl command tree: storage inspection and
// maintenance, plus one-shot broadcast passes and feed polls.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"newsbot/internal/app"
	"newsbot/internal/config"
	logx "newsbot/pkg/logx"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Config  string
	Format  string // "text" | "json"
	Verbose bool

	// build constructs the engine; tests swap it.
	build func(cfg *config.Config, opts app.BuildOptions, log logx.Logger) (*app.Engine, error)
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{build: app.Build})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	if opts.build == nil {
		opts.build = app.Build
	}
	cmd := &cobra.Command{
		Use:   "newsctl",
		Short: "Inspect and maintain a newsbot deployment",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "./config.json", "path to config (json or yaml)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log engine activity to stderr")

	cmd.AddCommand(
		NewStatusCommand(opts),
		NewTruncateCommand(opts),
		NewPassCommand(opts),
		NewIngestCommand(opts),
		NewSubscribersCommand(opts),
	)
	return cmd
}

func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.NewConfigManager(o.Config).Load()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load config", err)
	}
	return cfg, nil
}

func (o *RootOptions) logger(cmd *cobra.Command) logx.Logger {
	if !o.Verbose {
		return logx.Nop()
	}
	return logx.NewWriter(cmd.ErrOrStderr(), "debug", false)
}

// engine loads config and builds an engine. The caller closes it.
func (o *RootOptions) engine(cmd *cobra.Command, withGateway bool) (*app.Engine, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	eng, err := o.build(cfg, app.BuildOptions{WithGateway: withGateway, Offline: true}, o.logger(cmd))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open engine", err)
	}
	return eng, nil
}
