package cli

import (
	"context"
	"fmt"

	"github.com/calvinalkan/tagstore/internal/store"

	flag "github.com/spf13/pflag"
)

func getCmd(a *app) *Command {
	return &Command{
		Flags:   flag.NewFlagSet("get", flag.ContinueOnError),
		Usage:   "get <group>",
		Short:   "Print the tags of a group",
		Long:    "Print the tags of a group, sorted, one per line. Fails if the group has no storage file.",
		MinArgs: 1,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			return a.withStore(ctx, func(st *store.Store) error {
				return execGet(o, st, args[0])
			})
		},
	}
}

func execGet(o *IO, st *store.Store, groupID string) error {
	got, found, err := st.Get(groupID)
	if err != nil {
		return err
	}

	if !found {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
	}

	for _, tag := range got {
		o.Println(tag)
	}

	return nil
}
