package attachment

import (
	"fmt"

	"github.com/google/uuid"
)

// BuildStorageKey shards objects two levels deep by id prefix so no single
// directory accumulates every attachment. The filename must already be
// sanitized.
func BuildStorageKey(id uuid.UUID, filename string) string {
	s := id.String()
	return fmt.Sprintf("attachments/%s/%s/%s/%s", s[0:2], s[2:4], s, filename)
}

// ChunkKey returns the temporary object key holding one encrypted chunk
// until reassembly deletes it.
func ChunkKey(storageKey string, index int) string {
	return fmt.Sprintf("%s.chunk_%06d", storageKey, index)
}
