package store

import "errors"

// Error variables for store operations.
var (
	// ErrDurability reports that an add succeeded in memory but its append
	// to the storage file did not. It is joined with the underlying cause
	// (for example [fs.ErrLockContended]) and returned together with a valid
	// [AddResult].
	ErrDurability = errors.New("tags not durable")

	// ErrCorruptRead reports an I/O error other than not-found while reading a
	// storage file. The cached group is left unchanged.
	ErrCorruptRead = errors.New("corrupt read")

	ErrGroupNotFound = errors.New("group not found")
	ErrNotReady      = errors.New("store not ready")
	ErrClosed        = errors.New("store closed")
)
