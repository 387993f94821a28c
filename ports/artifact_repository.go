package ports

import "context"

// ArtifactStore persists whole-run documents: the run manifest and the
// rendered reports. Keys are file names relative to the store's root.
type ArtifactStore interface {
	SaveArtifact(ctx context.Context, key string, data []byte) (location string, err error)
}
