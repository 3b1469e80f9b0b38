// Package loaderr holds the error categories shared by every stage of a load run.
//
// Component errors wrap exactly one of the sentinels below (authorization failures
// while loading wrap both ErrLoad and ErrCredential), so callers classify them with
// errors.Is instead of matching messages.
package loaderr

import (
	"errors"
	"fmt"
)

var (
	ErrCredential = errors.New("credential error")
	ErrConnection = errors.New("connection error")
	ErrWriteIO    = errors.New("staging write error")
	ErrUpload     = errors.New("upload error")
	ErrSchema     = errors.New("schema error")
	ErrLoad       = errors.New("load error")
)

// categories is ordered so that the most specific category wins in Kind.
var categories = []struct {
	err  error
	name string
}{
	{ErrCredential, "CredentialError"},
	{ErrConnection, "ConnectionError"},
	{ErrWriteIO, "WriteIOError"},
	{ErrUpload, "UploadError"},
	{ErrSchema, "SchemaError"},
	{ErrLoad, "LoadError"},
}

// Kind returns the category name of err, or "UnknownError" when err carries none.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range categories {
		if errors.Is(err, c.err) {
			return c.name
		}
	}
	return "UnknownError"
}

// Wrap attaches a category and an operation description to err.
func Wrap(category error, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", category, fmt.Sprintf(format, args...), err)
}
