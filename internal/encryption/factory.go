package encryption

import (
	"fmt"

	"fstore-go/internal/config"
	"fstore-go/internal/fstore"
)

// NewEncryptorFromConfig returns the configured Encryptor, or nil when
// content is stored unencrypted.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (fstore.Encryptor, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "age":
		if cfg.PublicKeyPath == "" || cfg.PrivateKeyPath == "" {
			return nil, fmt.Errorf("age encryption requires public_key_path and private_key_path")
		}
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
