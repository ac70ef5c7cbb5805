package cli

import (
	"context"
	"fmt"
	"net"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/calvinalkan/tagstore/internal/config"
	"github.com/calvinalkan/tagstore/internal/server"

	flag "github.com/spf13/pflag"
)

// serveCmd returns the serve command.
func serveCmd(a *app) *Command {
	flags := flag.NewFlagSet("serve", flag.ContinueOnError)
	flags.String("listen", "", "Listen address (default from config, \":3000\")")
	flags.String("mount", "", "Route prefix of the tag endpoints (default \"/tags\")")

	return &Command{
		Flags: flags,
		Usage: "serve [flags]",
		Short: "Serve the tag store over HTTP",
		Long: `Open the tags directory, watch it for external changes and serve it over HTTP
until interrupted. Shuts down gracefully on SIGINT or SIGTERM.`,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			listen, _ := flags.GetString("listen")
			mount, _ := flags.GetString("mount")

			return execServe(ctx, o, a, listen, mount)
		},
	}
}

func execServe(ctx context.Context, o *IO, a *app, listen, mount string) error {
	input := a.input
	input.ListenOverride = listen
	input.MountOverride = mount

	cfg, err := config.Load(input)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, err := a.logger(cfg, false)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	st, err := a.openStore(ctx, cfg, &log, reg)
	if err != nil {
		return err
	}

	defer func() {
		closeErr := st.Close()
		if closeErr != nil {
			log.Error().Err(closeErr).Msg("closing store")
		}
	}()

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Listen, err)
	}

	o.Printf("listening on %s%s\n", ln.Addr(), cfg.Mount)

	srv := server.New(st, server.Options{
		Mount:    cfg.Mount,
		Logger:   &log,
		Gatherer: reg,
	})

	return srv.Serve(ctx, ln)
}
