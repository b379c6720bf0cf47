package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"sessionvault/internal/chunkcrypt"
	"sessionvault/internal/security"
)

// maxChunkFile bounds chunk reads from disk.
const maxChunkFile = 256 << 20

func newChunkCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chunk",
		Short: "Encrypt, decrypt and hash recorded session chunks",
	}
	cmd.AddCommand(newChunkEncryptCmd(opts), newChunkDecryptCmd(opts), newChunkHashCmd())
	return cmd
}

func newChunkEncryptCmd(opts *globalOptions) *cobra.Command {
	var (
		sessionID string
		index     uint64
		in, out   string
	)

	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Seal one chunk under its derived key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				plaintext, err := readInput(cmd, in)
				if err != nil {
					return err
				}
				defer security.Wipe(plaintext)

				c, err := a.cipher()
				if err != nil {
					return err
				}
				defer c.Close()

				sealed, err := c.Seal(sessionID, index, plaintext)
				a.metrics.RecordChunk("encrypt", len(plaintext), err)
				if err != nil {
					return err
				}

				data, err := json.Marshal(sealed)
				if err != nil {
					return err
				}
				if err := writeOutput(cmd, out, data); err != nil {
					return err
				}

				sum := sealed.Hash()
				a.log().Debug("chunk sealed", "session_id", sessionID, "index", index, "suite", sealed.Suite)
				if out != "" {
					printSuccess(cmd.ErrOrStderr(), "Sealed chunk %d of %s (%s)", index, sessionID, sealed.Suite)
					printField(cmd.ErrOrStderr(), "chunk hash", hex.EncodeToString(sum[:]))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id")
	cmd.Flags().Uint64VarP(&index, "index", "i", 0, "chunk index within the session")
	cmd.Flags().StringVar(&in, "in", "-", "plaintext chunk file (- for stdin)")
	cmd.Flags().StringVar(&out, "out", "", "sealed chunk output file (default stdout)")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func newChunkDecryptCmd(opts *globalOptions) *cobra.Command {
	var in, out string

	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Open a sealed chunk produced by chunk encrypt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				sealed, err := readSealed(cmd, in)
				if err != nil {
					return err
				}

				c, err := a.cipher()
				if err != nil {
					return err
				}
				defer c.Close()

				plaintext, err := c.Open(sealed)
				a.metrics.RecordChunk("decrypt", len(sealed.Ciphertext), err)
				if err != nil {
					return err
				}
				defer security.Wipe(plaintext)
				return writeOutput(cmd, out, plaintext)
			})
		},
	}

	cmd.Flags().StringVar(&in, "in", "-", "sealed chunk file (- for stdin)")
	cmd.Flags().StringVar(&out, "out", "", "plaintext output file (default stdout)")
	return cmd
}

func newChunkHashCmd() *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "hash [file...]",
		Short: "Print the Merkle leaf hash of sealed chunks",
		Long: `Prints the BLAKE2b-256 of each chunk's ciphertext, one hex digest per
line in argument order. The output can be passed to manifest create
--hashes-file. With --raw the files are hashed as-is.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{"-"}
			}
			for _, path := range args {
				var sum [32]byte
				if raw {
					data, err := readInput(cmd, path)
					if err != nil {
						return err
					}
					sum = chunkcrypt.HashChunk(data)
				} else {
					sealed, err := readSealed(cmd, path)
					if err != nil {
						return err
					}
					sum = sealed.Hash()
				}
				fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(sum[:]))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "hash files as raw ciphertext instead of sealed chunk JSON")
	return cmd
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	var r io.Reader
	if path == "" || path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(io.LimitReader(r, maxChunkFile+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxChunkFile {
		return nil, fmt.Errorf("%s: chunk exceeds %d bytes", path, maxChunkFile)
	}
	return data, nil
}

func writeOutput(cmd *cobra.Command, path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func readSealed(cmd *cobra.Command, path string) (*chunkcrypt.SealedChunk, error) {
	data, err := readInput(cmd, path)
	if err != nil {
		return nil, err
	}
	var sealed chunkcrypt.SealedChunk
	if err := json.Unmarshal(data, &sealed); err != nil {
		return nil, fmt.Errorf("%s: not a sealed chunk: %w", path, err)
	}
	return &sealed, nil
}
