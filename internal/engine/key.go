package engine

import (
	"fmt"
	"path/filepath"
)

// ObjectKey identifies a single (item_id, version) stream.
type ObjectKey struct {
	ItemID  string
	Version uint64
}

func (k ObjectKey) String() string {
	return fmt.Sprintf("%s@%d", k.ItemID, k.Version)
}

func metadataPath(root, itemID string) string {
	return filepath.Join(root, fmt.Sprintf("%s_metadata.xml", itemID))
}

func dataPath(root, itemID string, version uint64) string {
	return filepath.Join(root, fmt.Sprintf("%s_%d.xml", itemID, version))
}
