// Command sepctl drives a sepd daemon: it creates sealed keys, derives public
// keys and shared secrets, signs digests, and verifies raw signatures.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "sepctl:", err)
		os.Exit(1)
	}
}
