//go:build !windows

package hsm

import (
	"fmt"
	"io"

	tpm2 "github.com/google/go-tpm/legacy/tpm2"
)

// openTPM opens path, or tries /dev/tpmrm0 then /dev/tpm0 when path is empty.
func openTPM(path string) (io.ReadWriteCloser, error) {
	paths := []string{"/dev/tpmrm0", "/dev/tpm0"}
	if path != "" {
		paths = []string{path}
	}

	var lastErr error
	for _, p := range paths {
		rwc, err := tpm2.OpenTPM(p)
		if err == nil {
			return rwc, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no TPM device found: %w", lastErr)
}
