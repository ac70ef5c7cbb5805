package tags

import "errors"

// Error variables for tag operations.
var (
	ErrInvalidGroupID = errors.New("invalid group id")
	ErrInvalidTag     = errors.New("invalid tag")
)
