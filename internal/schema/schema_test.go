package schema

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type schemaCase struct {
	name         string
	schema       string
	instancePath string
}

func TestSchemaValidation(t *testing.T) {
	cases := []schemaCase{
		{
			name:         "wallet-file",
			schema:       WalletFileV1,
			instancePath: filepath.Join("testdata", "wallet-file-v1.json"),
		},
		{
			name:         "session-manifest",
			schema:       SessionManifestV1,
			instancePath: filepath.Join("testdata", "session-manifest-v1.json"),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := os.ReadFile(tc.instancePath)
			if err != nil {
				t.Fatalf("read instance: %v", err)
			}
			if err := Validate(tc.schema, data); err != nil {
				t.Fatalf("schema validation failed for %s: %v", filepath.Base(tc.instancePath), err)
			}
		})
	}
}

func TestNames(t *testing.T) {
	names := Names()
	if len(names) != 2 || names[0] != SessionManifestV1 || names[1] != WalletFileV1 {
		t.Errorf("Names() = %v", names)
	}
}

func TestValidateRejects(t *testing.T) {
	wallet := mustRead(t, "wallet-file-v1.json")
	manifest := mustRead(t, "session-manifest-v1.json")

	tests := []struct {
		name   string
		schema string
		doc    string
		want   string
	}{
		{
			name:   "unknown wallet type",
			schema: WalletFileV1,
			doc:    strings.Replace(wallet, `"software"`, `"paper"`, 1),
			want:   "/wallet_type",
		},
		{
			name:   "bad address",
			schema: WalletFileV1,
			doc:    strings.Replace(wallet, `"lw3f`, `"xx3f`, 1),
			want:   "/address",
		},
		{
			name:   "extra field",
			schema: WalletFileV1,
			doc:    strings.Replace(wallet, `"version": 1,`, `"version": 1, "seed": "x",`, 1),
		},
		{
			name:   "uppercase root",
			schema: SessionManifestV1,
			doc:    strings.Replace(manifest, `"0e5751c0`, `"0E5751C0`, 1),
			want:   "/merkle_root",
		},
		{
			name:   "nested codec value",
			schema: SessionManifestV1,
			doc:    strings.Replace(manifest, `"lossless": false`, `"lossless": {"a": 1}`, 1),
			want:   "/codec_info/lossless",
		},
		{
			name:   "negative size",
			schema: SessionManifestV1,
			doc:    strings.Replace(manifest, `"total_size": 300`, `"total_size": -1`, 1),
			want:   "/total_size",
		},
		{
			name:   "bad timestamp",
			schema: SessionManifestV1,
			doc:    strings.Replace(manifest, `"2026-03-01T12:05:00Z"`, `"yesterday"`, 1),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.schema, []byte(tt.doc))
			if !errors.Is(err, ErrInvalidDocument) {
				t.Fatalf("expected ErrInvalidDocument, got %v", err)
			}
			if tt.want != "" && !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %s", err, tt.want)
			}
		})
	}
}

func TestValidateUnanchoredManifest(t *testing.T) {
	doc := mustRead(t, "session-manifest-v1.json")
	doc = strings.Replace(doc, `"anchored_at": "2026-03-01T12:05:00Z"`, `"anchored_at": null`, 1)
	doc = strings.Replace(doc, `"anchor_txid": "txid-123"`, `"anchor_txid": null`, 1)
	if err := Validate(SessionManifestV1, []byte(doc)); err != nil {
		t.Errorf("unanchored manifest should validate: %v", err)
	}
}

func TestValidateErrors(t *testing.T) {
	if err := Validate("nope", []byte(`{}`)); !errors.Is(err, ErrUnknownSchema) {
		t.Errorf("expected ErrUnknownSchema, got %v", err)
	}
	err := Validate(WalletFileV1, []byte(`{not json`))
	if err == nil || errors.Is(err, ErrInvalidDocument) {
		t.Errorf("malformed JSON should be a decode error, got %v", err)
	}
}

func TestValidateValue(t *testing.T) {
	v := map[string]any{"version": 1}
	if err := ValidateValue(WalletFileV1, v); !errors.Is(err, ErrInvalidDocument) {
		t.Errorf("expected missing fields to fail, got %v", err)
	}
}

func mustRead(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return string(data)
}
