package encryption

import (
	"bytes"
	"fmt"
	"io"

	"budget-go/internal/budget"
)

// testHeader marks data sealed by TestCipher.
var testHeader = []byte("BUDGETENC\x00")

// TestCipher is a deterministic stand-in for PassphraseCipher. It prepends a
// fixed header on Encrypt and checks and strips it on Decrypt.
type TestCipher struct{}

var (
	_ budget.Encryptor = TestCipher{}
	_ budget.Decryptor = TestCipher{}
)

func (TestCipher) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testHeader); err != nil {
		return fmt.Errorf("writing test header: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (TestCipher) Decrypt(r io.Reader, w io.Writer) error {
	header := make([]byte, len(testHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading test header: %w", err)
	}
	if !bytes.Equal(header, testHeader) {
		return fmt.Errorf("invalid test encryption header")
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
