package sealed

import (
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrBufferDestroyed is returned by Open after Destroy.
var ErrBufferDestroyed = errors.New("sealed: buffer destroyed")

// Buffer holds sensitive bytes in a memguard enclave: encrypted at rest
// in memory, mlocked against swapping where the platform allows it.
// The encryption service token and decrypted payloads in flight through
// Reveal live in Buffers rather than plain byte slices.
type Buffer struct {
	enclave *memguard.Enclave
	mu      sync.RWMutex
	// destroyed allows idempotent Destroy and prevents use-after-destroy
	destroyed bool
}

// NewBuffer copies data into a protected memory region. The caller's
// copy is untouched; zero it after the call.
func NewBuffer(data []byte) (*Buffer, error) {
	return &Buffer{enclave: memguard.NewEnclave(data)}, nil
}

// Open decrypts the enclave and returns a locked buffer. The caller
// MUST call Destroy on the returned buffer to wipe the plaintext.
func (b *Buffer) Open() (*memguard.LockedBuffer, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.destroyed {
		return nil, ErrBufferDestroyed
	}
	return b.enclave.Open()
}

// Destroy marks the buffer unusable. Idempotent; after Destroy, Open
// returns an empty buffer. For full cleanup of all protected memory at
// process exit, main defers memguard.Purge().
func (b *Buffer) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed {
		return
	}
	b.enclave = nil
	b.destroyed = true
}
