// Package storage holds uploaded document bytes. Objects are addressed by a key of
// the form <namespace>/<YYYY-MM-DD>/<filename>.
package storage

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates the requested key does not exist in storage
	ErrNotFound = errors.New("storage: key not found")

	// ErrInvalidKey indicates the key is empty or attempts path traversal
	ErrInvalidKey = errors.New("storage: invalid key")
)

// BlobStore stores and retrieves document bytes
type BlobStore interface {
	// Put stores data under a key derived from namespace and filename and returns that key
	Put(ctx context.Context, namespace, filename string, data []byte, contentType string) (string, error)

	// Get returns the bytes stored at key, or ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the object at key, or returns ErrNotFound
	Delete(ctx context.Context, key string) error
}

// ObjectKey builds the storage key for a file uploaded at the given time
func ObjectKey(namespace, filename string, at time.Time) string {
	return namespace + "/" + at.UTC().Format("2006-01-02") + "/" + filename
}

var (
	whitespace  = regexp.MustCompile(`\s+`)
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9.-]`)
)

// UniqueFilename prefixes the original name with a fresh uuid and strips it down to
// lowercase letters, digits, dots and dashes
func UniqueFilename(original string) string {
	name := uuid.New().String() + "-" + original
	name = whitespace.ReplaceAllString(name, "-")
	name = unsafeChars.ReplaceAllString(name, "")
	return strings.ToLower(name)
}
