package cli

import (
	"context"
	"strconv"
	"strings"

	"github.com/calvinalkan/tagstore/internal/config"

	flag "github.com/spf13/pflag"
)

func printConfigCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("print-config", flag.ContinueOnError),
		Usage: "print-config",
		Short: "Show resolved configuration",
		Long:  "Display the effective configuration and which files and environment variables it was loaded from.",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}

			execPrintConfig(o, cfg)

			return nil
		},
	}
}

func execPrintConfig(o *IO, cfg config.Config) {
	o.Println("effective_cwd=" + cfg.EffectiveCwd)
	o.Println("tags_dir=" + cfg.TagsDirAbs)
	o.Println("listen=" + cfg.Listen)
	o.Println("mount=" + cfg.Mount)
	o.Println("log_level=" + cfg.LogLevel)
	o.Println("log_format=" + cfg.LogFormat)
	o.Println("debounce=" + cfg.Debounce.String())
	o.Println("resync_interval=" + cfg.ResyncInterval.String())
	o.Println("lock_retries=" + strconv.Itoa(cfg.LockRetries))
	o.Println("lock_min_backoff=" + cfg.LockMinBackoff.String())
	o.Println("lock_backoff_factor=" + strconv.FormatFloat(cfg.LockBackoffFactor, 'g', -1, 64))
	o.Println("lock_stale=" + cfg.LockStale.String())
	o.Println("lock_reclaim_dead_holders=" + strconv.FormatBool(cfg.LockReclaimDeadHolders))

	o.Println("")
	o.Println("# sources")

	if cfg.Sources.Global == "" && cfg.Sources.Project == "" && len(cfg.Sources.Env) == 0 {
		o.Println("(defaults only)")

		return
	}

	if cfg.Sources.Global != "" {
		o.Println("global_config=" + cfg.Sources.Global)
	}

	if cfg.Sources.Project != "" {
		o.Println("project_config=" + cfg.Sources.Project)
	}

	if len(cfg.Sources.Env) > 0 {
		o.Println("env=" + strings.Join(cfg.Sources.Env, ","))
	}
}
