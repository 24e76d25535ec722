package encryption

import (
	"errors"
	"fmt"
	"io"

	"filippo.io/age"

	"budget-go/internal/budget"
)

// ErrEmptyPassphrase is returned when a cipher is built without a passphrase.
var ErrEmptyPassphrase = errors.New("passphrase must not be empty")

// PassphraseCipher seals export files with age's scrypt passphrase
// encryption, so a file can be opened on any machine that knows the
// passphrase. No key files are involved.
type PassphraseCipher struct {
	passphrase string
	workFactor int
}

var (
	_ budget.Encryptor = (*PassphraseCipher)(nil)
	_ budget.Decryptor = (*PassphraseCipher)(nil)
)

// NewPassphraseCipher creates a cipher for passphrase.
func NewPassphraseCipher(passphrase string) (*PassphraseCipher, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	return &PassphraseCipher{passphrase: passphrase}, nil
}

// Encrypt reads plaintext from r and writes age ciphertext to w.
func (c *PassphraseCipher) Encrypt(r io.Reader, w io.Writer) error {
	recipient, err := age.NewScryptRecipient(c.passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}
	if c.workFactor > 0 {
		recipient.SetWorkFactor(c.workFactor)
	}

	encWriter, err := age.Encrypt(w, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.Copy(encWriter, r); err != nil {
		return fmt.Errorf("encrypting data: %w", err)
	}
	if err := encWriter.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}
	return nil
}

// Decrypt reads age ciphertext from r and writes plaintext to w.
// A wrong passphrase is reported as an error.
func (c *PassphraseCipher) Decrypt(r io.Reader, w io.Writer) error {
	identity, err := age.NewScryptIdentity(c.passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt identity: %w", err)
	}

	decReader, err := age.Decrypt(r, identity)
	if err != nil {
		return fmt.Errorf("creating decrypted reader: %w", err)
	}
	if _, err := io.Copy(w, decReader); err != nil {
		return fmt.Errorf("decrypting data: %w", err)
	}
	return nil
}
