package main

import (
	"context"

	"github.com/edupath/authsync"
	"github.com/edupath/authsync/gateway"
	"github.com/edupath/authsync/idp/firebase"
	"github.com/edupath/authsync/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		Long: `Start the gateway and serve until interrupted.

Examples:
  authsync serve
  authsync serve --port=9090
  authsync serve -c ./deploy/authsync.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := map[string]any{}
			if host != "" {
				overrides["server.host"] = host
			}
			if port != 0 {
				overrides["server.port"] = port
			}
			if len(overrides) > 0 {
				authsync.LoadConfigDefaults(overrides)
			}
			return runServe(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&host, "host", "H", "", "Host to bind to (default from server.host)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (default from server.port)")

	return cmd
}

func runServe(ctx context.Context) error {
	logger := logging.NewLogger(authsync.ConfigString("logging.mode"))
	ctx = logging.With(ctx, logger)

	for _, w := range authsync.ValidateConfig() {
		logging.Warnw(ctx, "config: "+w.String())
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	providers := firebase.NewFactory(ctx, firebase.ConfigFromSettings())

	gw, err := gateway.New(ctx, providers, gateway.WithRegistry(reg))
	if err != nil {
		return err
	}
	return gw.ListenAndServe(ctx)
}
