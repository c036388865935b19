package file

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/config"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
)

// Post-processing applied to a consumed file
const (
	PostArchive = "archive"
	PostDelete  = "delete"
	PostKeep    = "keep"
)

// Write modes for the receiver
const (
	WriteCreate    = "create"
	WriteOverwrite = "overwrite"
	WriteAppend    = "append"
)

// SenderConfig configures the inbound FILE adapter
type SenderConfig struct {
	adapter.Conversion
	Directory        string          `json:"directory"`
	Pattern          string          `json:"file_pattern,omitempty"`
	Exclude          string          `json:"exclusion_mask,omitempty"`
	MinAge           config.Duration `json:"min_file_age,omitempty"`
	PostProcessing   string          `json:"post_processing,omitempty"`
	ArchiveDirectory string          `json:"archive_directory,omitempty"`
}

// Validate checks the sender configuration
func (c *SenderConfig) Validate() error {
	if strings.TrimSpace(c.Directory) == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "file", "Validate", "directory is required")
	}
	if c.Pattern != "" {
		if _, err := filepath.Match(c.Pattern, ""); err != nil {
			return errors.WrapInvalid(err, "file", "Validate", "file_pattern")
		}
	}
	if c.Exclude != "" {
		if _, err := filepath.Match(c.Exclude, ""); err != nil {
			return errors.WrapInvalid(err, "file", "Validate", "exclusion_mask")
		}
	}
	switch c.post() {
	case PostDelete, PostKeep:
	case PostArchive:
		if c.ArchiveDirectory == "" {
			return errors.WrapInvalid(errors.ErrMissingConfig, "file", "Validate",
				"archive_directory is required for post_processing archive")
		}
	default:
		return errors.WrapInvalid(fmt.Errorf("%w: post_processing %q", errors.ErrInvalidConfig, c.PostProcessing),
			"file", "Validate", "post_processing")
	}
	return c.Conversion.Validate()
}

func (c *SenderConfig) pattern() string {
	if c.Pattern == "" {
		return "*"
	}
	return c.Pattern
}

func (c *SenderConfig) post() string {
	if c.PostProcessing == "" {
		return PostDelete
	}
	return strings.ToLower(c.PostProcessing)
}

// ReceiverConfig configures the outbound FILE adapter
type ReceiverConfig struct {
	adapter.Conversion
	Directory   string `json:"directory"`
	FileName    string `json:"file_name_pattern,omitempty"`
	WriteMode   string `json:"write_mode,omitempty"`
	TempSuffix  string `json:"temporary_extension,omitempty"`
	Permissions uint32 `json:"file_permissions,omitempty"`
}

// Validate checks the receiver configuration
func (c *ReceiverConfig) Validate() error {
	if strings.TrimSpace(c.Directory) == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "file", "Validate", "directory is required")
	}
	switch c.mode() {
	case WriteCreate, WriteOverwrite, WriteAppend:
	default:
		return errors.WrapInvalid(fmt.Errorf("%w: write_mode %q", errors.ErrInvalidConfig, c.WriteMode),
			"file", "Validate", "write_mode")
	}
	if strings.ContainsAny(c.FileName, `/\`) {
		return errors.WrapInvalid(fmt.Errorf("%w: file_name_pattern cannot contain a path", errors.ErrInvalidConfig),
			"file", "Validate", "file_name_pattern")
	}
	if c.mode() == WriteAppend && c.TempSuffix != "" {
		return errors.WrapInvalid(fmt.Errorf("%w: temporary_extension cannot be used with append", errors.ErrInvalidConfig),
			"file", "Validate", "temporary_extension")
	}
	return c.Conversion.Validate()
}

func (c *ReceiverConfig) mode() string {
	if c.WriteMode == "" {
		return WriteCreate
	}
	return strings.ToLower(c.WriteMode)
}
