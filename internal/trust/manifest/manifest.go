// Package manifest fetches and verifies the minisign-signed manifest of
// trusted artifacts published alongside a game's hook/loader binaries.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	minisign "github.com/jedisct1/go-minisign"

	ferrors "github.com/ruminasu/fsdecrypt/internal/errors"
	"github.com/ruminasu/fsdecrypt/internal/trust/httpclient"
)

const (
	connectTimeout = 10 * time.Second
	totalTimeout   = 60 * time.Second

	// embeddedPublicKeyB64 is the minisign public key trusted to sign
	// manifest.json. Real deployments bake in the operator's actual key;
	// this one is a placeholder for this distribution.
	embeddedPublicKeyB64 = "RWQf6LRCGA9i53mlYecO4IzT51TGPpvWucNSCh1CBM0QTaLn73Y7GFO3"
)

// FileEntry is one binary listed inside an artifact.
type FileEntry struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Artifact is one deployable zip bundle named by the manifest.
type Artifact struct {
	Kind    string      `json:"kind"`
	Name    string      `json:"name"`
	R2Key   string      `json:"r2_key"`
	Size    int64       `json:"size"`
	SHA256  string      `json:"sha256"`
	Minisig string      `json:"minisig,omitempty"`
	Files   []FileEntry `json:"files"`
}

// Upstream carries release metadata the manifest was generated from.
type Upstream struct {
	ReleaseTag  string `json:"release_tag"`
	ReleaseName string `json:"release_name"`
	AssetURL    string `json:"asset_url"`
	PublishedAt string `json:"published_at"`
}

// Manifest is the parsed, signature-verified trusted-artifact manifest.
type Manifest struct {
	SchemaVersion int        `json:"schema_version"`
	GeneratedAt   string     `json:"generated_at"`
	BuildID       string     `json:"build_id"`
	Upstream      Upstream   `json:"upstream"`
	Artifacts     []Artifact `json:"artifacts"`
}

// ArtifactByName returns the first artifact matching name, case-sensitively
// (artifact names are the exact r2_key-adjacent display names published by
// the manifest; case normalization happens one layer up, in artifact
// selection by canonical game name).
func (m *Manifest) ArtifactByName(name string) (Artifact, bool) {
	for _, a := range m.Artifacts {
		if a.Name == name {
			return a, true
		}
	}
	return Artifact{}, false
}

// Config holds the compile-time constants that locate and authenticate
// the manifest transport.
type Config struct {
	BaseURL      string
	PathPrefix   string
	PublicKeyB64 string
}

// DefaultConfig returns the embedded production transport configuration.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:      baseURL,
		PathPrefix:   "trust",
		PublicKeyB64: embeddedPublicKeyB64,
	}
}

func (c Config) manifestURL() string {
	return fmt.Sprintf("%s/%s/latest/manifest.json", c.BaseURL, c.PathPrefix)
}

func (c Config) signatureURL() string {
	return c.manifestURL() + ".minisig"
}

// FetchAndVerify retrieves the manifest and its detached minisign
// signature, verifies the signature against the embedded public key, and
// parses the manifest JSON. Any verification failure is a hard error; no
// fallback to an unsigned manifest is ever attempted.
func FetchAndVerify(ctx context.Context, cfg Config) (*Manifest, error) {
	client := httpclient.New(httpclient.Config{
		ConnectTimeout: connectTimeout,
		TotalTimeout:   totalTimeout,
	})

	raw, err := httpclient.GetBytes(ctx, client, cfg.manifestURL())
	if err != nil {
		return nil, err
	}

	sigRaw, err := httpclient.GetBytes(ctx, client, cfg.signatureURL())
	if err != nil {
		return nil, err
	}

	if err := verifySignature(cfg.PublicKeyB64, raw, sigRaw); err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: manifest json: %v", ferrors.ErrParse, err)
	}
	return &m, nil
}

func verifySignature(publicKeyB64 string, raw, sigRaw []byte) error {
	pubKey, err := minisign.NewPublicKey(publicKeyB64)
	if err != nil {
		return fmt.Errorf("%w: parse embedded public key: %v", ferrors.ErrSignatureInvalid, err)
	}

	sig, err := minisign.DecodeSignature(string(sigRaw))
	if err != nil {
		return fmt.Errorf("%w: decode detached signature: %v", ferrors.ErrSignatureInvalid, err)
	}

	ok, err := pubKey.Verify(raw, sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ferrors.ErrSignatureInvalid, err)
	}
	if !ok {
		return fmt.Errorf("%w: manifest signature does not match embedded public key", ferrors.ErrSignatureInvalid)
	}
	return nil
}
