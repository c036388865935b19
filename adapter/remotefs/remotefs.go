// Package remotefs holds the file transfer logic shared by the FTP and SFTP
// adapters. A protocol package supplies a Dialer; remotefs picks files,
// acknowledges them, writes outbound files and reconnects with retry when a
// session drops.
package remotefs

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
)

// Entry is one remote directory entry
type Entry struct {
	Name    string
	Size    int64
	ModTime time.Time
	Dir     bool
}

// FS is a connected remote file system session
type FS interface {
	List(ctx context.Context, dir string) ([]Entry, error)
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte, appendMode bool) error
	Remove(ctx context.Context, path string) error
	Rename(ctx context.Context, from, to string) error
	Ping(ctx context.Context) error
	Close() error
}

// Dialer opens a new session
type Dialer func(ctx context.Context) (FS, error)

// Post-processing of consumed files
const (
	PostDelete  = "delete"
	PostArchive = "archive"
	PostKeep    = "keep"
)

// Write modes
const (
	WriteCreate    = "create"
	WriteOverwrite = "overwrite"
	WriteAppend    = "append"
)

// SenderOptions select and post-process inbound files
type SenderOptions struct {
	Directory        string `json:"directory"`
	Pattern          string `json:"file_pattern,omitempty"`
	PostProcessing   string `json:"post_processing,omitempty"`
	ArchiveDirectory string `json:"archive_directory,omitempty"`
}

// Validate checks the options
func (o SenderOptions) Validate() error {
	if strings.TrimSpace(o.Directory) == "" {
		return fmt.Errorf("%w: directory is required", errors.ErrMissingConfig)
	}
	if _, err := path.Match(o.pattern(), ""); err != nil {
		return fmt.Errorf("%w: file_pattern: %v", errors.ErrInvalidConfig, err)
	}
	switch o.post() {
	case PostDelete, PostKeep:
	case PostArchive:
		if o.ArchiveDirectory == "" {
			return fmt.Errorf("%w: archive_directory is required for post_processing archive", errors.ErrMissingConfig)
		}
	default:
		return fmt.Errorf("%w: post_processing %q", errors.ErrInvalidConfig, o.PostProcessing)
	}
	return nil
}

func (o SenderOptions) pattern() string {
	if o.Pattern == "" {
		return "*"
	}
	return o.Pattern
}

func (o SenderOptions) post() string {
	if o.PostProcessing == "" {
		return PostDelete
	}
	return strings.ToLower(o.PostProcessing)
}

// ReceiverOptions control how outbound files are written
type ReceiverOptions struct {
	Directory  string `json:"directory"`
	FileName   string `json:"file_name_pattern,omitempty"`
	WriteMode  string `json:"write_mode,omitempty"`
	TempSuffix string `json:"temporary_extension,omitempty"`
}

// Validate checks the options
func (o ReceiverOptions) Validate() error {
	if strings.TrimSpace(o.Directory) == "" {
		return fmt.Errorf("%w: directory is required", errors.ErrMissingConfig)
	}
	if strings.ContainsAny(o.FileName, `/\`) {
		return fmt.Errorf("%w: file_name_pattern cannot contain a path", errors.ErrInvalidConfig)
	}
	switch o.mode() {
	case WriteCreate, WriteOverwrite:
	case WriteAppend:
		if o.TempSuffix != "" {
			return fmt.Errorf("%w: temporary_extension cannot be used with append", errors.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: write_mode %q", errors.ErrInvalidConfig, o.WriteMode)
	}
	return nil
}

func (o ReceiverOptions) mode() string {
	if o.WriteMode == "" {
		return WriteCreate
	}
	return strings.ToLower(o.WriteMode)
}
