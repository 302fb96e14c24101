// Package errors defines the failure taxonomy of the database build pipeline.
//
// Every failure that can abort a database build is one of the struct types
// below. Callers classify failures with the standard library's errors.Is
// against the Err* sentinels, or errors.As against the concrete types when
// they need the offending path or database.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Each concrete error type reports its kind through Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrFormat          = errors.New("script not terminated")
	ErrMissingManifest = errors.New("missing manifest")
	ErrInvalidManifest = errors.New("invalid manifest")
	ErrQuery           = errors.New("query failed")
	ErrSchemaObject    = errors.New("schema object install failed")
	ErrReset           = errors.New("database reset failed")
	ErrLock            = errors.New("database locked")
	ErrValidation      = errors.New("invalid build specification")
	ErrRestore         = errors.New("restore incomplete")
)

// NotFoundError is returned when a script file listed in a manifest does not exist.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s does not exist", e.Path)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// FormatError is returned when a script's trimmed body does not end in a
// statement terminator.
type FormatError struct {
	Path     string
	LastChar string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s contents do not end in a semicolon", e.Path)
}

func (e *FormatError) Is(target error) bool { return target == ErrFormat }

// MissingManifestError is returned when an extension has no manifest file.
type MissingManifestError struct {
	Path string
}

func (e *MissingManifestError) Error() string {
	return fmt.Sprintf("cannot find manifest %s", e.Path)
}

func (e *MissingManifestError) Is(target error) bool { return target == ErrMissingManifest }

// InvalidManifestError is returned when a manifest is not well-formed JSON
// or lacks a usable script list.
type InvalidManifestError struct {
	Path string
	Err  error
}

func (e *InvalidManifestError) Error() string {
	return fmt.Sprintf("manifest %s is not valid: %v", e.Path, e.Err)
}

func (e *InvalidManifestError) Unwrap() error { return e.Err }

func (e *InvalidManifestError) Is(target error) bool { return target == ErrInvalidManifest }

// QueryError wraps any failure reported by the data store.
type QueryError struct {
	Database string
	Op       string
	Err      error
}

func (e *QueryError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("query on database %s failed: %v", e.Database, e.Err)
	}
	return fmt.Sprintf("%s on database %s failed: %v", e.Op, e.Database, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

func (e *QueryError) Is(target error) bool { return target == ErrQuery }

// SchemaObjectInstallError wraps a failure of the ORM installer.
type SchemaObjectInstallError struct {
	Dir string
	Err error
}

func (e *SchemaObjectInstallError) Error() string {
	return fmt.Sprintf("orm install of %s failed: %v", e.Dir, e.Err)
}

func (e *SchemaObjectInstallError) Unwrap() error { return e.Err }

func (e *SchemaObjectInstallError) Is(target error) bool { return target == ErrSchemaObject }

// RestoreWarning describes a pg_restore failure. It is logged and attached
// to the run result but never aborts the run.
type RestoreWarning struct {
	Database string
	Backup   string
	Err      error
}

func (e *RestoreWarning) Error() string {
	return fmt.Sprintf("restore of %s into %s reported errors (database may be partially restored): %v",
		e.Backup, e.Database, e.Err)
}

func (e *RestoreWarning) Unwrap() error { return e.Err }

func (e *RestoreWarning) Is(target error) bool { return target == ErrRestore }

// ResetError is fatal for the whole run: there is no database to build into.
type ResetError struct {
	Database string
	Err      error
}

func (e *ResetError) Error() string {
	return fmt.Sprintf("reset of database %s failed: %v", e.Database, e.Err)
}

func (e *ResetError) Unwrap() error { return e.Err }

func (e *ResetError) Is(target error) bool { return target == ErrReset }

// LockError is returned when another run holds the build lock of a database.
type LockError struct {
	Database string
	Err      error
}

func (e *LockError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot lock database %s: %v", e.Database, e.Err)
	}
	return fmt.Sprintf("database %s is being built by another run", e.Database)
}

func (e *LockError) Unwrap() error { return e.Err }

func (e *LockError) Is(target error) bool { return target == ErrLock }

// ValidationError reports an unusable build specification.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
