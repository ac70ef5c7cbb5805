package cli

import "errors"

var (
	ErrFlagRequiresArg = errors.New("flag requires an argument")
	ErrUnknownFlag     = errors.New("unknown flag")
	ErrUnknownCommand  = errors.New("unknown command")
	ErrMissingArgs     = errors.New("missing arguments")
	ErrGroupNotFound   = errors.New("group not found")
)
