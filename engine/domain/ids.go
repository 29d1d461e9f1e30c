package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// DocumentID derives a deterministic UUID from a source URL. Re-ingesting
// the same URL yields the same document ID, so old chunks can be replaced
// instead of accumulating.
func DocumentID(sourceURL string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(sourceURL)).String()
}

// ChunkUUID derives a deterministic UUID for a chunk from its parent
// document ID and position.
func ChunkUUID(documentID string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s-%d", documentID, index))).String()
}
