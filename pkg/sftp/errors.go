package sftp

import (
	"errors"
	"fmt"
	"io/fs"
)

// TransferError reports a remote or local I/O failure during a transfer.
type TransferError struct {
	Transfer Transfer
	Err      error
}

func (e *TransferError) Error() string {
	t := e.Transfer
	if t.Direction == Upload {
		return fmt.Sprintf("upload %s -> %s: %v", t.LocalPath, t.RemotePath, e.Err)
	}
	return fmt.Sprintf("download %s -> %s: %v", t.RemotePath, t.LocalPath, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// NotFound reports whether the source file did not exist.
func (e *TransferError) NotFound() bool {
	return errors.Is(e.Err, fs.ErrNotExist)
}

// PermissionDenied reports whether either side refused access.
func (e *TransferError) PermissionDenied() bool {
	return errors.Is(e.Err, fs.ErrPermission)
}
