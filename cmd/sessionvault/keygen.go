package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"sessionvault/internal/chunkcrypt"
	"sessionvault/internal/security"
)

func newKeygenCmd(opts *globalOptions) *cobra.Command {
	var (
		out   string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate the session master key used for chunk encryption",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				path := out
				if path == "" {
					if err := a.cfg.EnsureDirectories(); err != nil {
						return err
					}
					path = a.cfg.Crypto.MasterKeyPath
				}

				key, err := chunkcrypt.GenerateMasterKey()
				if err != nil {
					return err
				}
				encoded := []byte(hex.EncodeToString(key) + "\n")
				security.Wipe(key)
				defer security.Wipe(encoded)

				if err := security.WriteSecretFile(path, encoded, !force); err != nil {
					return fmt.Errorf("write master key: %w", err)
				}
				a.log().Info("master key generated", "path", path)
				printSuccess(cmd.OutOrStdout(), "Master key written to %s", uiPath.Sprint(path))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "key file path (default: crypto.master_key_path)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing key file")
	return cmd
}
