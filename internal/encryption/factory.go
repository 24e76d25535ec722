package encryption

import (
	"fmt"

	"budget-go/internal/budget"
	"budget-go/internal/config"
)

// Cipher both seals and opens export files.
type Cipher interface {
	budget.Encryptor
	budget.Decryptor
}

// NewCipherFromConfig creates the export cipher named in cfg.
func NewCipherFromConfig(cfg config.ExportConfig, passphrase string) (Cipher, error) {
	switch cfg.Encryption {
	case "age", "":
		return NewPassphraseCipher(passphrase)
	case "test":
		return TestCipher{}, nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Encryption)
	}
}
