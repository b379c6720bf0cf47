package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"sessionvault/internal/chunkcrypt"
	"sessionvault/internal/config"
	"sessionvault/internal/ledger"
	"sessionvault/internal/logging"
	"sessionvault/internal/manifest"
	"sessionvault/internal/metrics"
	"sessionvault/internal/store"
	"sessionvault/internal/wallet"
)

// app wires the configured components for one command invocation.
// Components are opened on first use and released by Close.
type app struct {
	cfg     *config.Config
	loader  *config.Loader
	verbose bool

	logger  *logging.Logger
	audit   *logging.AuditLogger
	metrics *metrics.Metrics

	backend   store.Backend
	wallets   *wallet.Manager
	manifests *manifest.Service
}

func newApp(opts *globalOptions) (*app, error) {
	loader := config.NewLoader(opts.configPath)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", loader.Path(), err)
	}

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	if opts.verbose {
		logCfg.Level = logging.LevelDebug
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}

	a := &app{cfg: cfg, loader: loader, verbose: opts.verbose, logger: logger}

	if cfg.Logging.AuditPath != "" {
		rot := logging.DefaultRotationConfig()
		rot.FilePath = cfg.Logging.AuditPath
		a.audit, err = logging.NewAuditLogger(&logging.AuditLoggerConfig{Rotation: rot})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("audit log: %w", err)
		}
	}
	if cfg.Metrics.Enabled {
		a.metrics = metrics.New(cfg.Metrics.Namespace)
	}
	return a, nil
}

// withApp runs fn with a freshly wired app and closes it afterwards.
func withApp(opts *globalOptions, fn func(a *app) error) error {
	a, err := newApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func (a *app) log() *slog.Logger {
	return a.logger.Logger
}

func (a *app) store() (store.Backend, error) {
	if a.backend != nil {
		return a.backend, nil
	}
	if err := a.cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	b, err := store.Open(a.cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.backend = b
	return b, nil
}

func (a *app) walletManager() (*wallet.Manager, error) {
	if a.wallets != nil {
		return a.wallets, nil
	}
	b, err := a.store()
	if err != nil {
		return nil, err
	}
	m, err := wallet.NewManager(wallet.ManagerConfig{
		Dir:              a.cfg.Wallet.Dir,
		AllowUnencrypted: a.cfg.Wallet.AllowUnencrypted,
		MaxFileSize:      a.cfg.Wallet.MaxFileSize,
		Records:          b,
		Logger:           a.log(),
		Audit:            a.audit,
		Metrics:          a.metrics,
	})
	if err != nil {
		return nil, err
	}
	a.wallets = m
	return m, nil
}

// manifestService builds the manifest service. signerWallet may be empty
// for commands that never anchor.
func (a *app) manifestService(signerWallet string) (*manifest.Service, error) {
	if a.manifests != nil {
		return a.manifests, nil
	}
	b, err := a.store()
	if err != nil {
		return nil, err
	}
	w, err := a.walletManager()
	if err != nil {
		return nil, err
	}
	svc, err := manifest.NewService(manifest.ServiceConfig{
		Store:         b,
		Signer:        w,
		SignerWallet:  signerWallet,
		CipherSuite:   chunkcrypt.Suite(a.cfg.Crypto.CipherSuite),
		AnchorTimeout: a.cfg.Ledger.Timeout(),
		Logger:        a.log(),
		Audit:         a.audit,
		Metrics:       a.metrics,
	})
	if err != nil {
		return nil, err
	}
	a.manifests = svc
	return svc, nil
}

func (a *app) ledger() (ledger.Client, error) {
	return ledger.Open(a.cfg.Ledger, a.metrics)
}

// cipher opens the chunk cipher over the configured master key.
func (a *app) cipher() (*chunkcrypt.Cipher, error) {
	key, err := chunkcrypt.LoadMasterKey(a.cfg.Crypto.MasterKeyPath)
	if err != nil {
		return nil, fmt.Errorf("%w (run %s first)", err, uiCode.Sprint("sessionvault keygen"))
	}
	suite, err := chunkcrypt.ParseSuite(a.cfg.Crypto.CipherSuite)
	if err != nil {
		return nil, err
	}
	return chunkcrypt.NewCipher(key, suite)
}

func (a *app) Close() {
	if a.wallets != nil {
		_ = a.wallets.Close()
	}
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			a.log().Warn("close store", "error", err)
		}
	}
	_ = a.loader.Close()
	_ = a.audit.Close()
	_ = a.logger.Close()
}

// requireArgs is cobra.ExactArgs with a friendlier message.
func requireArgs(n int, names string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return fmt.Errorf("%s requires %s", cmd.CommandPath(), names)
		}
		return nil
	}
}
