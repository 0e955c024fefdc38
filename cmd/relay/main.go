package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"relay/internal/config"
	"relay/internal/gateway"
	"relay/internal/llm"
	"relay/internal/logging"
	"relay/internal/server"
)

type globalFlags struct {
	configPath string
	provider   string
	model      string
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "relay",
		Short:         "Streaming, tool-aware chat orchestration across LLM providers",
		Version:       gateway.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "config file (default ./relay.yaml or ~/.relay/relay.yaml)")
	pf.StringVar(&flags.provider, "provider", "", "override the configured provider")
	pf.StringVarP(&flags.model, "model", "m", "", "override the configured model")
	pf.StringVar(&flags.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newChatCmd(flags),
		newRunCmd(flags),
		newServeCmd(flags),
		newProvidersCmd(),
	)
	return root
}

// setup loads configuration and builds the gateway. The caller closes it.
func setup(ctx context.Context, flags *globalFlags, mutate func(*config.Config)) (*gateway.Gateway, *config.Config, *zap.Logger, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if flags.provider != "" {
		cfg.Provider = flags.provider
	}
	if flags.model != "" {
		cfg.Model = flags.model
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if mutate != nil {
		mutate(cfg)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, nil, nil, err
	}
	gw, err := gateway.New(ctx, cfg, gateway.WithLogger(logger))
	if err != nil {
		_ = logger.Sync()
		return nil, nil, nil, err
	}
	return gw, cfg, logger, nil
}

func newChatCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			gw, _, _, err := setup(cmd.Context(), flags, nil)
			if err != nil {
				return err
			}
			defer gw.Close()
			return gw.Run(cmd.Context(), os.Stdin, cmd.OutOrStdout())
		},
	}
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run a single prompt and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, _, _, err := setup(cmd.Context(), flags, nil)
			if err != nil {
				return err
			}
			defer gw.Close()
			return gw.Execute(cmd.Context(), strings.Join(args, " "), cmd.OutOrStdout())
		},
	}
}

func newServeCmd(flags *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			gw, cfg, logger, err := setup(cmd.Context(), flags, func(c *config.Config) {
				if addr != "" {
					c.Server.Addr = addr
				}
			})
			if err != nil {
				return err
			}
			defer gw.Close()
			return server.New(gw, cfg.Server.Addr, logger.Named("http")).Start(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func newProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List supported providers and their capabilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tTOOLS\tFORMAT\tSTREAMING\tVISION\tSYSTEM\tMAX NAME")
			for _, p := range llm.Providers() {
				caps, err := llm.CapabilitiesFor(p, nil)
				if err != nil {
					return err
				}
				maxName := "-"
				if caps.MaxToolNameLength > 0 {
					maxName = fmt.Sprint(caps.MaxToolNameLength)
				}
				fmt.Fprintf(w, "%s\t%t\t%s\t%t\t%t\t%t\t%s\n", p,
					caps.SupportsTools, caps.ToolCallFormat, caps.SupportsStreaming,
					caps.SupportsVision, caps.SupportsSystemMessages, maxName)
			}
			return w.Flush()
		},
	}
}
