package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"sessionvault/internal/security"
	"sessionvault/internal/wallet"
)

func newWalletCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Create wallets and sign with them",
	}
	cmd.AddCommand(
		newWalletCreateCmd(opts),
		newWalletListCmd(opts),
		newWalletSignCmd(opts),
		newWalletVerifyCmd(opts),
		newWalletDeleteCmd(opts),
	)
	return cmd
}

func newWalletCreateCmd(opts *globalOptions) *cobra.Command {
	var (
		unencrypted bool
		walletType  string
		pass        passphraseSource
	)

	cmd := &cobra.Command{
		Use:   "create <wallet-id>",
		Short: "Generate a new Ed25519 signing wallet",
		Args:  requireArgs(1, "a wallet id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				typ, err := wallet.ParseType(walletType)
				if err != nil {
					return err
				}

				protection := wallet.Unencrypted()
				if !unencrypted {
					p, err := pass.read("Wallet passphrase: ", true)
					if err != nil {
						return err
					}
					defer security.Wipe(p)
					protection = wallet.Passphrase(p)
				}

				m, err := a.walletManager()
				if err != nil {
					return err
				}

				spin, cleanup := startSpinner("Generating wallet...", a.verbose)
				info, err := m.CreateWallet(cmd.Context(), args[0], protection, typ)
				if err != nil {
					cleanup()
					if errors.Is(err, wallet.ErrUnencryptedNotAllowed) {
						return fmt.Errorf("%w (set wallet.allow_unencrypted to permit this)", err)
					}
					return err
				}
				spin.FinalMSG = uiSuccess.Sprint("✓") + " Wallet " + uiInfo.Sprint(info.WalletID) + " created"
				cleanup()

				out := cmd.OutOrStdout()
				printField(out, "address", info.Address)
				printField(out, "encrypted", info.IsEncrypted)
				if !info.IsEncrypted {
					printWarning(out, "private key is stored without a passphrase")
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&unencrypted, "unencrypted", false, "store the private key without a passphrase")
	cmd.Flags().StringVar(&walletType, "type", string(wallet.TypeSoftware), "wallet type")
	pass.register(cmd)
	return cmd
}

func newWalletListCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known wallets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				m, err := a.walletManager()
				if err != nil {
					return err
				}
				infos, err := m.ListWallets(cmd.Context())
				if err != nil {
					return err
				}
				if len(infos) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), uiMuted.Sprint("no wallets"))
					return nil
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "WALLET\tADDRESS\tTYPE\tENCRYPTED\tCREATED")
				for _, info := range infos {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n",
						info.WalletID, info.Address, info.WalletType, info.IsEncrypted,
						info.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
				}
				return tw.Flush()
			})
		},
	}
}

func newWalletSignCmd(opts *globalOptions) *cobra.Command {
	var (
		in   string
		pass passphraseSource
	)

	cmd := &cobra.Command{
		Use:   "sign <wallet-id>",
		Short: "Sign a payload and print the base64 signature",
		Args:  requireArgs(1, "a wallet id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				payload, err := readInput(cmd, in)
				if err != nil {
					return err
				}
				m, err := a.walletManager()
				if err != nil {
					return err
				}
				if err := loadWallet(cmd, m, args[0], &pass); err != nil {
					return err
				}

				sig, ok := m.SignTransaction(args[0], payload)
				if !ok {
					return wallet.ErrWalletNotLoaded
				}
				fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(sig))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&in, "in", "-", "payload file (- for stdin)")
	pass.register(cmd)
	return cmd
}

func newWalletDeleteCmd(opts *globalOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <wallet-id>",
		Short: "Permanently remove a wallet and its private key",
		Args:  requireArgs(1, "a wallet id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete %s without --yes; the private key cannot be recovered", args[0])
			}
			return withApp(opts, func(a *app) error {
				m, err := a.walletManager()
				if err != nil {
					return err
				}
				if err := m.DeleteWallet(cmd.Context(), args[0]); err != nil {
					return err
				}
				printSuccess(cmd.OutOrStdout(), "Wallet %s deleted", uiInfo.Sprint(args[0]))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm permanent deletion")
	return cmd
}

func newWalletVerifyCmd(opts *globalOptions) *cobra.Command {
	var in, sigText string

	cmd := &cobra.Command{
		Use:   "verify <wallet-id>",
		Short: "Check a base64 signature against a wallet's public key",
		Args:  requireArgs(1, "a wallet id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sigText))
				if err != nil {
					return fmt.Errorf("decode signature: %w", err)
				}
				payload, err := readInput(cmd, in)
				if err != nil {
					return err
				}
				m, err := a.walletManager()
				if err != nil {
					return err
				}
				info, err := m.Info(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				ok, err := m.Verify(cmd.Context(), info.WalletID, payload, sig)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("signature does not match wallet %s", info.WalletID)
				}
				printSuccess(cmd.OutOrStdout(), "Signature valid for %s (%s)", info.WalletID, info.Address)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&in, "in", "-", "payload file (- for stdin)")
	cmd.Flags().StringVar(&sigText, "sig", "", "base64 signature")
	_ = cmd.MarkFlagRequired("sig")
	return cmd
}

// loadWallet decrypts walletID into m. Unencrypted wallets are tried
// without prompting first.
func loadWallet(cmd *cobra.Command, m *wallet.Manager, walletID string, pass *passphraseSource) error {
	info, err := m.Info(cmd.Context(), walletID)
	if err != nil {
		return err
	}
	if !info.IsEncrypted {
		return m.LoadWallet(cmd.Context(), walletID, nil)
	}

	p, err := pass.read(fmt.Sprintf("Passphrase for %s: ", walletID), false)
	if err != nil {
		return err
	}
	defer security.Wipe(p)
	return m.LoadWallet(cmd.Context(), walletID, p)
}
