package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/calvinalkan/tagstore/internal/config"
	"github.com/calvinalkan/tagstore/internal/logging"
	"github.com/calvinalkan/tagstore/internal/store"
)

// app carries what every command needs to load config and open the store.
type app struct {
	input  config.LoadInput
	errOut io.Writer
}

func (a *app) commands() []*Command {
	return []*Command{
		serveCmd(a),
		getCmd(a),
		addCmd(a),
		lsCmd(a),
		compactCmd(a),
		shellCmd(a),
		printConfigCmd(a),
	}
}

func (a *app) loadConfig() (config.Config, error) {
	cfg, err := config.Load(a.input)
	if err != nil {
		return config.Config{}, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// logger builds the process logger on stderr. Short-lived commands only show
// warnings and errors unless debug logging is configured.
func (a *app) logger(cfg config.Config, quiet bool) (zerolog.Logger, error) {
	log, err := logging.New(a.errOut, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("logger: %w", err)
	}

	if quiet && log.GetLevel() == zerolog.InfoLevel {
		log = log.Level(zerolog.WarnLevel)
	}

	return log, nil
}

// openStore opens the store in cfg.TagsDirAbs and waits until the initial
// scan finished.
func (a *app) openStore(ctx context.Context, cfg config.Config, log *zerolog.Logger, reg prometheus.Registerer) (*store.Store, error) {
	st, err := store.Open(cfg.TagsDirAbs, store.Options{
		Logger:         log,
		Lock:           cfg.LockOptions(),
		Debounce:       cfg.Debounce.Std(),
		ResyncInterval: cfg.ResyncInterval.Std(),
		Registerer:     reg,
	})
	if err != nil {
		return nil, err
	}

	err = st.WaitReady(ctx)
	if err != nil {
		_ = st.Close()

		return nil, fmt.Errorf("waiting for initial scan: %w", err)
	}

	return st, nil
}

// withStore loads config, opens the store for a short-lived command and
// closes it when fn returns.
func (a *app) withStore(ctx context.Context, fn func(st *store.Store) error) (err error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	log, err := a.logger(cfg, true)
	if err != nil {
		return err
	}

	st, err := a.openStore(ctx, cfg, &log, nil)
	if err != nil {
		return err
	}

	defer func() {
		closeErr := st.Close()
		if err == nil && closeErr != nil {
			err = fmt.Errorf("closing store: %w", closeErr)
		}
	}()

	return fn(st)
}
