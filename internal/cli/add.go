package cli

import (
	"context"
	"errors"
	"strings"

	"github.com/calvinalkan/tagstore/internal/fs"
	"github.com/calvinalkan/tagstore/internal/store"
	"github.com/calvinalkan/tagstore/internal/tags"

	flag "github.com/spf13/pflag"
)

func addCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("add", flag.ContinueOnError),
		Usage: "add <group> <tag>...",
		Short: "Add tags to a group",
		Long: `Add tags to a group and append the new ones to its storage file.
Tags are trimmed and compared case-insensitively. Prints the tags that were
actually new, one per line.`,
		MinArgs: 2,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			return a.withStore(ctx, func(st *store.Store) error {
				return execAdd(ctx, o, st, args[0], args[1:], "run the same add again")
			})
		},
	}
}

// execAdd adds candidates to groupID. A failed append is reported as a
// warning with retryAction, since the tags are still in memory.
func execAdd(ctx context.Context, o *IO, st *store.Store, groupID string, candidates []string, retryAction string) error {
	res, err := st.AddTags(ctx, groupID, candidates)
	if err != nil {
		if !errors.Is(err, store.ErrDurability) {
			return err
		}

		issue := "tags not written to " + tags.FileName(groupID)
		if errors.Is(err, fs.ErrLockContended) {
			issue += " (file is locked by another writer)"
		}

		o.Warn(issue+": "+strings.ReplaceAll(err.Error(), "\n", ": "), retryAction)
	}

	for _, tag := range res.AddedTags {
		o.Println(tag)
	}

	return nil
}
