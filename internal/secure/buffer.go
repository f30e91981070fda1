// Package secure keeps secret values in protected memory between the moment
// they enter the process (flag, stdin, dotenv file) and the moment they are
// written to the vault.
package secure

import (
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrDestroyed is returned when a value is opened after Destroy.
var ErrDestroyed = errors.New("secure: value has been destroyed")

// Value wraps a secret string in a memguard enclave: encrypted at rest in
// memory, mlocked against swapping where the platform allows it. Empty
// values carry no enclave; memguard rejects zero-length buffers.
type Value struct {
	enclave   *memguard.Enclave
	mu        sync.RWMutex
	destroyed bool
}

// NewValue seals a secret into protected memory. The caller should not keep
// other copies of data around.
func NewValue(data []byte) *Value {
	if len(data) == 0 {
		return &Value{}
	}
	return &Value{enclave: memguard.NewEnclave(data)}
}

// NewValueFromString seals a string secret.
func NewValueFromString(s string) *Value {
	return NewValue([]byte(s))
}

// Open decrypts the value into a locked buffer. The caller must Destroy the
// returned buffer when done to wipe the plaintext. Empty values return a
// nil buffer.
func (v *Value) Open() (*memguard.LockedBuffer, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.destroyed {
		return nil, ErrDestroyed
	}
	if v.enclave == nil {
		return nil, nil
	}
	return v.enclave.Open()
}

// String decrypts and copies the value out. Use only at the API boundary
// where the SDK needs a plain string.
func (v *Value) String() (string, error) {
	locked, err := v.Open()
	if err != nil {
		return "", err
	}
	if locked == nil {
		return "", nil
	}
	defer locked.Destroy()
	// string(Bytes()) copies; the locked buffer is wiped on Destroy.
	return string(locked.Bytes()), nil
}

// Destroy marks the value unusable. Idempotent.
func (v *Value) Destroy() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.destroyed = true
	v.enclave = nil
}

// Purge wipes all memguard-managed memory. Called once at process exit.
func Purge() {
	memguard.Purge()
}
