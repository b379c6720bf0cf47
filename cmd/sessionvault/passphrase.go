package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"sessionvault/internal/config"
	"sessionvault/internal/security"
)

// PassphraseEnv supplies a wallet passphrase non-interactively.
const PassphraseEnv = config.EnvPrefix + "PASSPHRASE"

const maxPassphraseFile = 4096

var errNoTerminal = errors.New("cannot prompt for passphrase: stdin is not a terminal (use --passphrase-file or " + PassphraseEnv + ")")

// passphraseSource resolves a passphrase from, in order, --passphrase-file,
// the environment, or an interactive prompt.
type passphraseSource struct {
	file string
}

func (p *passphraseSource) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.file, "passphrase-file", "", "read the wallet passphrase from a 0600 file")
}

// read returns the passphrase. With confirm set, an interactive prompt asks
// twice and rejects a mismatch.
func (p *passphraseSource) read(prompt string, confirm bool) ([]byte, error) {
	if p.file != "" {
		data, err := security.ReadSecretFile(p.file, maxPassphraseFile)
		if err != nil {
			return nil, fmt.Errorf("read passphrase file: %w", err)
		}
		return bytes.TrimRight(data, "\r\n"), nil
	}
	if v, ok := os.LookupEnv(PassphraseEnv); ok {
		return []byte(v), nil
	}

	first, err := promptPassphrase(prompt)
	if err != nil {
		return nil, err
	}
	if !confirm {
		return first, nil
	}
	second, err := promptPassphrase("Confirm passphrase: ")
	if err != nil {
		security.Wipe(first)
		return nil, err
	}
	defer security.Wipe(second)
	if !security.ConstantTimeCompare(first, second) {
		security.Wipe(first)
		return nil, errors.New("passphrases do not match")
	}
	return first, nil
}

func promptPassphrase(prompt string) ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, errNoTerminal
	}

	fmt.Fprint(os.Stderr, prompt)
	pass, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	return pass, nil
}
