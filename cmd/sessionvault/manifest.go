package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"sessionvault/internal/chunkcrypt"
	"sessionvault/internal/ledger"
	"sessionvault/internal/manifest"
	"sessionvault/internal/merkle"
	"sessionvault/internal/store"
)

func newManifestCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Create, inspect, verify and anchor session manifests",
	}
	cmd.AddCommand(
		newManifestCreateCmd(opts),
		newManifestShowCmd(opts),
		newManifestListCmd(opts),
		newManifestAnchorCmd(opts),
		newManifestVerifyCmd(opts),
		newManifestProofCmd(opts),
	)
	return cmd
}

// chunkHashes collects leaf hashes from --hash flags and --hashes-file.
type chunkHashes struct {
	hashes []string
	file   string
}

func (h *chunkHashes) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&h.hashes, "hash", nil, "chunk hash in recording order (repeatable)")
	cmd.Flags().StringVar(&h.file, "hashes-file", "", "file with one chunk hash per line (- for stdin)")
}

func (h *chunkHashes) load(cmd *cobra.Command) ([]string, error) {
	out := append([]string(nil), h.hashes...)
	if h.file == "" {
		return out, nil
	}
	data, err := readInput(cmd, h.file)
	if err != nil {
		return nil, err
	}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}

// parseCodecFlags turns key=value pairs into typed codec info. true/false
// become booleans and numeric literals become numbers.
func parseCodecFlags(pairs []string) (manifest.CodecInfo, error) {
	info := manifest.CodecInfo{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("codec entry %q: expected key=value", pair)
		}
		switch {
		case value == "true" || value == "false":
			info[key] = manifest.BoolValue(value == "true")
		default:
			if n, err := strconv.ParseFloat(value, 64); err == nil {
				info[key] = manifest.NumberValue(n)
			} else {
				info[key] = manifest.StringValue(value)
			}
		}
	}
	return info, info.Validate()
}

func newManifestCreateCmd(opts *globalOptions) *cobra.Command {
	var (
		req     manifest.CreateRequest
		hashes  chunkHashes
		codec   []string
		suite   string
		pubkeys []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Compute the Merkle root over chunk hashes and store a new manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				var err error
				if req.ChunkHashes, err = hashes.load(cmd); err != nil {
					return err
				}
				if req.CodecInfo, err = parseCodecFlags(codec); err != nil {
					return err
				}
				if suite != "" {
					s, err := chunkcrypt.ParseSuite(suite)
					if err != nil {
						return err
					}
					req.CipherSuite = s
				}
				req.ParticipantPubkeys = pubkeys

				svc, err := a.manifestService("")
				if err != nil {
					return err
				}
				m, err := svc.CreateManifest(cmd.Context(), req)
				if err != nil {
					return err
				}
				hash, err := manifest.ManifestHash(m)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				printSuccess(out, "Manifest created for %s", uiInfo.Sprint(m.SessionID))
				printField(out, "merkle root", m.MerkleRoot)
				printField(out, "chunks", m.ChunkCount)
				printField(out, "manifest hash", hash)
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.StringVarP(&req.SessionID, "session", "s", "", "session id")
	f.Int64Var(&req.TotalSize, "total-size", 0, "total plaintext size in bytes")
	f.StringArrayVar(&pubkeys, "pubkey", nil, "participant public key (repeatable)")
	f.StringArrayVar(&codec, "codec", nil, "codec attribute as key=value (repeatable)")
	f.StringVar(&req.RecorderVersion, "recorder-version", "", "recorder version")
	f.StringVar(&req.DeviceFingerprint, "device", "", "device fingerprint")
	f.StringVar(&suite, "suite", "", "cipher suite the chunks were sealed with (default: crypto.cipher_suite)")
	hashes.register(cmd)
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func newManifestShowCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a stored manifest",
		Args:  requireArgs(1, "a session id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				svc, err := a.manifestService("")
				if err != nil {
					return err
				}
				m, err := svc.GetManifest(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if asJSON {
					doc, err := manifest.Document(m)
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(out, string(doc))
					return err
				}

				hash, err := manifest.ManifestHash(m)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, uiInfo.Sprint(m.SessionID))
				printField(out, "state", m.State())
				printField(out, "merkle root", m.MerkleRoot)
				printField(out, "manifest hash", hash)
				printField(out, "chunks", m.ChunkCount)
				printField(out, "total size", m.TotalSize)
				printField(out, "cipher suite", m.CipherSuite)
				printField(out, "participants", len(m.ParticipantPubkeys))
				for _, k := range m.CodecInfo.Keys() {
					printField(out, "codec."+k, m.CodecInfo[k])
				}
				printField(out, "recorder version", m.RecorderVersion)
				printField(out, "device", m.DeviceFingerprint)
				printField(out, "created", manifest.FormatTime(m.CreatedAt))
				if m.State() == manifest.StateAnchored {
					printField(out, "anchored", manifest.FormatTime(*m.AnchoredAt))
					printField(out, "anchor txid", m.TxID())
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the schema-checked manifest document")
	return cmd
}

func newManifestListCmd(opts *globalOptions) *cobra.Command {
	var (
		state string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored manifests in creation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lo := manifest.ListOptions{State: manifest.State(state), Limit: limit}
			switch lo.State {
			case "", manifest.StateCreated, manifest.StateAnchored:
			default:
				return fmt.Errorf("unknown state %q", state)
			}

			return withApp(opts, func(a *app) error {
				svc, err := a.manifestService("")
				if err != nil {
					return err
				}
				ms, err := svc.ListManifests(cmd.Context(), lo)
				if err != nil {
					return err
				}
				if len(ms) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), uiMuted.Sprint("no manifests"))
					return nil
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SESSION\tSTATE\tCHUNKS\tROOT\tTXID")
				for _, m := range ms {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
						m.SessionID, m.State(), m.ChunkCount, m.MerkleRoot[:16], m.TxID())
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "filter by state (created or anchored)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of manifests")
	return cmd
}

func newManifestAnchorCmd(opts *globalOptions) *cobra.Command {
	var (
		walletID string
		pass     passphraseSource
	)

	cmd := &cobra.Command{
		Use:   "anchor <session-id>",
		Short: "Sign a manifest and submit it to the configured ledger",
		Args:  requireArgs(1, "a session id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				if walletID == "" {
					walletID = a.cfg.Wallet.SignerWallet
				}
				if walletID == "" {
					return errors.New("no signing wallet: pass --wallet or set wallet.signer_wallet")
				}

				svc, err := a.manifestService(walletID)
				if err != nil {
					return err
				}
				m, err := svc.GetManifest(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if m.State() == manifest.StateAnchored {
					printWarning(out, "%s is already anchored in %s", m.SessionID, m.TxID())
					return nil
				}

				if err := loadWallet(cmd, a.wallets, walletID, &pass); err != nil {
					return err
				}
				client, err := a.ledger()
				if err != nil {
					return err
				}
				defer client.Close()

				spin, cleanup := startSpinner("Anchoring "+m.SessionID+"...", a.verbose)
				txid, err := svc.AnchorManifest(cmd.Context(), m, client)
				switch {
				case errors.Is(err, manifest.ErrAlreadyAnchored):
					cleanup()
					printWarning(out, "%s is already anchored in %s", m.SessionID, txid)
					return nil
				case err != nil:
					cleanup()
					if ledger.IsRetryable(err) {
						return fmt.Errorf("%w (transient, safe to retry)", err)
					}
					return err
				}
				spin.FinalMSG = uiSuccess.Sprint("✓") + " Anchored " + uiInfo.Sprint(m.SessionID)
				cleanup()
				printField(out, "txid", txid)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&walletID, "wallet", "w", "", "signing wallet (default: wallet.signer_wallet)")
	pass.register(cmd)
	return cmd
}

func newManifestVerifyCmd(opts *globalOptions) *cobra.Command {
	var (
		hashes chunkHashes
		all    bool
	)

	cmd := &cobra.Command{
		Use:   "verify [session-id]",
		Short: "Check chunk hashes against a manifest root, or validate every stored manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) || len(args) > 1 {
				return errors.New("pass exactly one of a session id or --all")
			}

			return withApp(opts, func(a *app) error {
				out := cmd.OutOrStdout()
				if all {
					b, err := a.store()
					if err != nil {
						return err
					}
					bad, err := store.VerifyManifests(cmd.Context(), b)
					if err != nil {
						return err
					}
					for _, c := range bad {
						fmt.Fprintf(out, "%s %s: %v\n", uiError.Sprint("✗"), c.SessionID, c.Err)
					}
					if len(bad) > 0 {
						return fmt.Errorf("%d corrupt manifest(s)", len(bad))
					}
					printSuccess(out, "All stored manifests are valid")
					return nil
				}

				hs, err := hashes.load(cmd)
				if err != nil {
					return err
				}
				svc, err := a.manifestService("")
				if err != nil {
					return err
				}
				if err := svc.CheckIntegrity(cmd.Context(), args[0], hs); err != nil {
					return err
				}
				printSuccess(out, "%d chunk hashes reproduce the root of %s", len(hs), args[0])
				return nil
			})
		},
	}

	hashes.register(cmd)
	cmd.Flags().BoolVar(&all, "all", false, "validate every stored manifest document")
	return cmd
}

func newManifestProofCmd(opts *globalOptions) *cobra.Command {
	var (
		hashes chunkHashes
		index  int
	)

	cmd := &cobra.Command{
		Use:   "proof <session-id>",
		Short: "Print the Merkle inclusion proof for one chunk",
		Args:  requireArgs(1, "a session id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				hs, err := hashes.load(cmd)
				if err != nil {
					return err
				}
				svc, err := a.manifestService("")
				if err != nil {
					return err
				}
				proof, err := svc.ChunkProof(cmd.Context(), args[0], hs, index)
				if err != nil {
					return err
				}
				m, err := svc.GetManifest(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				root, err := merkle.ParseLeaf(m.MerkleRoot)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				printField(out, "index", proof.Index)
				printField(out, "leaf", proof.Leaf)
				printField(out, "root", m.MerkleRoot)
				for i, step := range proof.HexSteps() {
					printField(out, fmt.Sprintf("step %d", i), step)
				}
				if !proof.Verify(root) {
					return fmt.Errorf("proof for chunk %d does not verify", index)
				}
				printSuccess(out, "Proof verifies against the manifest root")
				return nil
			})
		},
	}

	hashes.register(cmd)
	cmd.Flags().IntVarP(&index, "index", "i", 0, "chunk index")
	return cmd
}
