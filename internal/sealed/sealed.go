// Package sealed is the boundary to the external encryption service.
// credstore implements no cryptography of its own: credential field maps
// are handed to the service for encryption and come back as opaque
// blobs, which are all the store ever persists.
package sealed

import "context"

// Sealer encrypts and decrypts credential field maps. Implementations
// must never log plaintext fields.
type Sealer interface {
	// Seal encrypts a field map into an opaque blob.
	Seal(ctx context.Context, fields map[string]string) ([]byte, error)

	// Unseal decrypts a blob produced by Seal back into a field map.
	Unseal(ctx context.Context, blob []byte) (map[string]string, error)
}
