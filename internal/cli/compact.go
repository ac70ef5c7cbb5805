package cli

import (
	"context"

	"github.com/calvinalkan/tagstore/internal/store"

	flag "github.com/spf13/pflag"
)

func compactCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("compact", flag.ContinueOnError),
		Usage: "compact <group>",
		Short: "Rewrite a group file without duplicates",
		Long: `Rewrite the storage file of a group with one line per unique tag.
The file is replaced atomically while holding the group lock.`,
		MinArgs: 1,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			return a.withStore(ctx, func(st *store.Store) error {
				return execCompact(ctx, o, st, args[0])
			})
		},
	}
}

func execCompact(ctx context.Context, o *IO, st *store.Store, groupID string) error {
	removed, err := st.Compact(ctx, groupID)
	if err != nil {
		return err
	}

	o.Printf("%s: removed %d duplicate lines\n", groupID, removed)

	return nil
}
