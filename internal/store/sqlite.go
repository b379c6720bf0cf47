package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"sessionvault/internal/chunkcrypt"
	"sessionvault/internal/manifest"
	"sessionvault/internal/wallet"
)

// SQLiteOptions tunes the SQLite connection pool.
type SQLiteOptions struct {
	MaxConnections int
	BusyTimeout    time.Duration
}

// SQLite stores manifests and wallet records in a SQLite database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path and runs migrations.
func OpenSQLite(path string, opts SQLiteOptions) (*SQLite, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d", path, busy.Milliseconds())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if opts.MaxConnections > 0 {
		db.SetMaxOpenConns(opts.MaxConnections)
	}

	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	if err := ValidateSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := os.Chmod(path, 0600); err != nil && !os.IsNotExist(err) {
		db.Close()
		return nil, fmt.Errorf("set database permissions: %w", err)
	}

	return &SQLite{db: db}, nil
}

// DB exposes the underlying handle for migration tooling.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func isConstraintViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrConstraint
	}
	return false
}

// =============================================================================
// Manifests
// =============================================================================

const manifestColumns = `session_id, merkle_root, chunk_count, total_size, participant_pubkeys,
		codec_info, recorder_version, device_fingerprint, cipher_suite, created_at, anchored_at, anchor_txid`

// Insert stores a new manifest.
func (s *SQLite) Insert(ctx context.Context, m *manifest.SessionManifest) error {
	pubkeys, err := json.Marshal(nonNil(m.ParticipantPubkeys))
	if err != nil {
		return fmt.Errorf("encode participant pubkeys: %w", err)
	}
	codec := m.CodecInfo
	if codec == nil {
		codec = manifest.CodecInfo{}
	}
	codecJSON, err := json.Marshal(codec)
	if err != nil {
		return fmt.Errorf("encode codec info: %w", err)
	}

	var anchoredAt sql.NullString
	if m.AnchoredAt != nil {
		anchoredAt = sql.NullString{String: manifest.FormatTime(*m.AnchoredAt), Valid: true}
	}
	var txid sql.NullString
	if m.AnchorTxID != nil {
		txid = sql.NullString{String: *m.AnchorTxID, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO manifests (session_id, merkle_root, chunk_count, total_size, participant_pubkeys,
			codec_info, recorder_version, device_fingerprint, cipher_suite, created_at, created_at_ns,
			anchored_at, anchor_txid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.SessionID, m.MerkleRoot, m.ChunkCount, m.TotalSize, string(pubkeys),
		string(codecJSON), m.RecorderVersion, m.DeviceFingerprint, string(m.CipherSuite),
		manifest.FormatTime(m.CreatedAt), m.CreatedAt.UnixNano(), anchoredAt, txid,
	)
	if err != nil {
		if isConstraintViolation(err) && s.exists(ctx, "manifests", "session_id", m.SessionID) {
			return manifest.ErrManifestExists
		}
		return fmt.Errorf("insert manifest: %w", err)
	}
	return nil
}

func (s *SQLite) exists(ctx context.Context, table, column, value string) bool {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+table+" WHERE "+column+" = ?", value).Scan(&n)
	return err == nil && n > 0
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanManifest(row rowScanner) (*manifest.SessionManifest, error) {
	var (
		m                manifest.SessionManifest
		pubkeys, codec   string
		suite, createdAt string
		anchoredAt, txid sql.NullString
	)
	if err := row.Scan(&m.SessionID, &m.MerkleRoot, &m.ChunkCount, &m.TotalSize, &pubkeys,
		&codec, &m.RecorderVersion, &m.DeviceFingerprint, &suite, &createdAt, &anchoredAt, &txid); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(pubkeys), &m.ParticipantPubkeys); err != nil {
		return nil, fmt.Errorf("decode participant pubkeys for %s: %w", m.SessionID, err)
	}
	if err := json.Unmarshal([]byte(codec), &m.CodecInfo); err != nil {
		return nil, fmt.Errorf("decode codec info for %s: %w", m.SessionID, err)
	}
	m.CipherSuite = chunkcrypt.Suite(suite)

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at for %s: %w", m.SessionID, err)
	}
	m.CreatedAt = t

	if anchoredAt.Valid {
		at, err := time.Parse(time.RFC3339Nano, anchoredAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse anchored_at for %s: %w", m.SessionID, err)
		}
		m.AnchoredAt = &at
	}
	if txid.Valid {
		v := txid.String
		m.AnchorTxID = &v
	}
	return &m, nil
}

// Get retrieves a manifest by session id.
func (s *SQLite) Get(ctx context.Context, sessionID string) (*manifest.SessionManifest, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+manifestColumns+" FROM manifests WHERE session_id = ?", sessionID)
	m, err := scanManifest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, manifest.ErrManifestNotFound
		}
		return nil, fmt.Errorf("get manifest: %w", err)
	}
	return m, nil
}

// MarkAnchored sets the anchor fields only while anchor_txid is NULL.
func (s *SQLite) MarkAnchored(ctx context.Context, sessionID, txid string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE manifests SET anchor_txid = ?, anchored_at = ?
		WHERE session_id = ? AND anchor_txid IS NULL`,
		txid, manifest.FormatTime(at), sessionID,
	)
	if err != nil {
		return fmt.Errorf("mark anchored: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	if !s.exists(ctx, "manifests", "session_id", sessionID) {
		return manifest.ErrManifestNotFound
	}
	return manifest.ErrAlreadyAnchored
}

// List returns manifests ordered by creation time.
func (s *SQLite) List(ctx context.Context, opts manifest.ListOptions) ([]*manifest.SessionManifest, error) {
	var (
		where []string
		args  []any
	)
	switch opts.State {
	case manifest.StateCreated:
		where = append(where, "anchor_txid IS NULL")
	case manifest.StateAnchored:
		where = append(where, "anchor_txid IS NOT NULL")
	case "":
	default:
		return nil, fmt.Errorf("list manifests: unknown state %q", opts.State)
	}

	query := "SELECT " + manifestColumns + " FROM manifests"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at_ns ASC, session_id ASC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}
	defer rows.Close()

	var out []*manifest.SessionManifest
	for rows.Next() {
		m, err := scanManifest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan manifest: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate manifests: %w", err)
	}
	return out, nil
}

// =============================================================================
// Wallet records
// =============================================================================

// InsertWallet stores a wallet record.
func (s *SQLite) InsertWallet(ctx context.Context, info *wallet.Info) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallets (wallet_id, address, public_key, wallet_type, is_encrypted, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		info.WalletID, info.Address, info.PublicKey, string(info.WalletType),
		info.IsEncrypted, manifest.FormatTime(info.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) && s.exists(ctx, "wallets", "wallet_id", info.WalletID) {
			return wallet.ErrWalletExists
		}
		return fmt.Errorf("insert wallet: %w", err)
	}
	return nil
}

func scanWallet(row rowScanner) (*wallet.Info, error) {
	var (
		info      wallet.Info
		typ       string
		createdAt string
	)
	if err := row.Scan(&info.WalletID, &info.Address, &info.PublicKey, &typ, &info.IsEncrypted, &createdAt); err != nil {
		return nil, err
	}
	info.WalletType = wallet.Type(typ)
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at for wallet %s: %w", info.WalletID, err)
	}
	info.CreatedAt = t
	return &info, nil
}

// GetWallet retrieves a wallet record.
func (s *SQLite) GetWallet(ctx context.Context, walletID string) (*wallet.Info, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT wallet_id, address, public_key, wallet_type, is_encrypted, created_at
		FROM wallets WHERE wallet_id = ?`, walletID)
	info, err := scanWallet(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, wallet.ErrWalletNotFound
		}
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return info, nil
}

// ListWallets returns all wallet records ordered by id.
func (s *SQLite) ListWallets(ctx context.Context) ([]*wallet.Info, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT wallet_id, address, public_key, wallet_type, is_encrypted, created_at
		FROM wallets ORDER BY wallet_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	defer rows.Close()

	var out []*wallet.Info
	for rows.Next() {
		info, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wallets: %w", err)
	}
	return out, nil
}

// DeleteWallet removes a wallet record.
func (s *SQLite) DeleteWallet(ctx context.Context, walletID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM wallets WHERE wallet_id = ?", walletID)
	if err != nil {
		return fmt.Errorf("delete wallet: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete wallet: %w", err)
	}
	if n == 0 {
		return wallet.ErrWalletNotFound
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
