package fstore

import (
	"fmt"
	"path"
	"path/filepath"

	"github.com/google/uuid"
)

// ShardKey returns the slash-separated relative location of a blob:
//
//	<id[0:2]>/<id[2:4]>/<id>
//
// It depends on nothing but id.
func ShardKey(id string) (string, error) {
	if len(id) < 4 {
		return "", fmt.Errorf("identifier too short to shard: %q", id)
	}
	return path.Join(id[0:2], id[2:4], id), nil
}

// StorageLocation is ShardKey rooted at base using OS separators.
func StorageLocation(base, id string) (string, error) {
	key, err := ShardKey(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, filepath.FromSlash(key)), nil
}

// ParseFileID validates a caller-supplied identifier and returns its
// canonical form.
func ParseFileID(raw string) (string, error) {
	u, err := uuid.Parse(raw)
	if err != nil {
		return "", newValidationError(CodeInvalidFileID, "Invalid file ID format: %s", raw)
	}
	return u.String(), nil
}
