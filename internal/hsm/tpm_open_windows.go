//go:build windows

package hsm

import (
	"fmt"
	"io"

	tpm2 "github.com/google/go-tpm/legacy/tpm2"
)

// openTPM on Windows talks to the TPM through TBS; path is ignored.
func openTPM(_ string) (io.ReadWriteCloser, error) {
	rwc, err := tpm2.OpenTPM()
	if err != nil {
		return nil, fmt.Errorf("OpenTPM (windows): %w", err)
	}
	return rwc, nil
}
