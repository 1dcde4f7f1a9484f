package testutil

import (
	"fstore-go/internal/encryption"
	"fstore-go/internal/fstore"
)

// NewTestEncryptor creates a reversible, keyless encryptor for tests.
func NewTestEncryptor() fstore.Encryptor {
	return encryption.NewTestEncryptor()
}
