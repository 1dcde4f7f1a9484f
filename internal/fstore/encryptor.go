package fstore

import "io"

// Encryptor seals blob content at rest. Sealing needs only the public key;
// opening requires unlocking the private key with a passphrase.
type Encryptor interface {
	// Setup generates a key pair and seals the private key with passphrase.
	Setup(passphrase string) error

	// EncryptWriter returns a writer that encrypts into w. Closing it
	// flushes the final chunk but does not close w.
	EncryptWriter(w io.Writer) (io.WriteCloser, error)

	// Unlock opens the private key for the rest of the session.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured reports whether both key files exist.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory only.
type DecryptionContext interface {
	DecryptReader(r io.Reader) (io.Reader, error)
}
