package cli

import (
	"context"

	"github.com/calvinalkan/tagstore/internal/store"

	flag "github.com/spf13/pflag"
)

func lsCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("ls", flag.ContinueOnError),
		Usage: "ls",
		Short: "List groups with their tag count",
		Long:  "List all groups, sorted by id, as \"<group>\\t<count>\" lines.",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			return a.withStore(ctx, func(st *store.Store) error {
				return execLs(o, st)
			})
		},
	}
}

func execLs(o *IO, st *store.Store) error {
	groups, err := st.Groups()
	if err != nil {
		return err
	}

	for _, id := range groups {
		got, found, err := st.Get(id)
		if err != nil {
			return err
		}

		// Removed between listing and reading.
		if !found {
			continue
		}

		o.Printf("%s\t%d\n", id, len(got))
	}

	return nil
}
