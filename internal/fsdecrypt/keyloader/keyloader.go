// Package keyloader loads per-container AES key/IV material from a local
// JSON file or a signed URL, as described by the key material source rules.
package keyloader

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	ferrors "github.com/ruminasu/fsdecrypt/internal/errors"
	"github.com/ruminasu/fsdecrypt/internal/log"
	"github.com/ruminasu/fsdecrypt/internal/trust/httpclient"
)

// DefaultKeysFilename is the well-known local key file name probed for in
// the current working directory and next to the running executable.
const DefaultKeysFilename = "fsdecrypt_keys.json"

const (
	fetchTimeout   = 30 * time.Second
	connectTimeout = 10 * time.Second
)

// GameKeys is the key/IV pair configured for one game ID. IV is nil when
// the container's file IV must be recovered from its first ciphertext page.
type GameKeys struct {
	Key [16]byte
	IV  *[16]byte
}

// Keys holds every key/IV pair loaded from one key source.
type Keys struct {
	BootIDKey [16]byte
	BootIDIV  [16]byte
	OptionKey [16]byte
	OptionIV  [16]byte

	games map[string]GameKeys
}

// GameKeysFor looks up the key material for gameID, trimmed and
// upper-cased for a case-insensitive match.
func (k *Keys) GameKeysFor(gameID string) (GameKeys, bool) {
	id := strings.ToUpper(strings.TrimSpace(gameID))
	gk, ok := k.games[id]
	return gk, ok
}

// GameCount reports how many per-game key entries were loaded.
func (k *Keys) GameCount() int {
	return len(k.games)
}

// SourceInfo describes where key material came from, for telemetry and the
// key-status probe.
type SourceInfo struct {
	Source    string
	GameCount int
}

type keyPair struct {
	Key string `json:"key"`
	IV  string `json:"iv"`
}

type gameEntry struct {
	Key string  `json:"key"`
	IV  *string `json:"iv,omitempty"`
}

type keyFile struct {
	BootID keyPair              `json:"bootid"`
	Option keyPair              `json:"option"`
	Games  map[string]gameEntry `json:"games"`
}

func decodeHex16(label, raw string) ([16]byte, error) {
	var out [16]byte
	cleaned := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	b, err := hex.DecodeString(cleaned)
	if err != nil {
		return out, ferrors.NewValidationError(label, fmt.Sprintf("invalid hex: %v", err))
	}
	if len(b) != 16 {
		return out, ferrors.NewValidationError(label, fmt.Sprintf("expected 16 bytes, got %d", len(b)))
	}
	copy(out[:], b)
	return out, nil
}

func parseKeyFile(raw []byte) (*Keys, error) {
	var parsed keyFile
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ferrors.ErrParse, err)
	}

	bootidKey, err := decodeHex16("bootid.key", parsed.BootID.Key)
	if err != nil {
		return nil, err
	}
	bootidIV, err := decodeHex16("bootid.iv", parsed.BootID.IV)
	if err != nil {
		return nil, err
	}
	optionKey, err := decodeHex16("option.key", parsed.Option.Key)
	if err != nil {
		return nil, err
	}
	optionIV, err := decodeHex16("option.iv", parsed.Option.IV)
	if err != nil {
		return nil, err
	}

	games := make(map[string]GameKeys, len(parsed.Games))
	for id, entry := range parsed.Games {
		key, err := decodeHex16(id+".key", entry.Key)
		if err != nil {
			return nil, err
		}
		var iv *[16]byte
		if entry.IV != nil {
			v, err := decodeHex16(id+".iv", *entry.IV)
			if err != nil {
				return nil, err
			}
			iv = &v
		}
		games[strings.ToUpper(strings.TrimSpace(id))] = GameKeys{Key: key, IV: iv}
	}

	return &Keys{
		BootIDKey: bootidKey,
		BootIDIV:  bootidIV,
		OptionKey: optionKey,
		OptionIV:  optionIV,
		games:     games,
	}, nil
}

func readKeysFromFile(path string) (*Keys, SourceInfo, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, SourceInfo{}, ferrors.NewFileError("read", path, err)
	}
	keys, err := parseKeyFile(content)
	if err != nil {
		return nil, SourceInfo{}, err
	}
	return keys, SourceInfo{Source: "local:" + path, GameCount: keys.GameCount()}, nil
}

func readKeysFromURL(ctx context.Context, url string) (*Keys, SourceInfo, error) {
	client := httpclient.New(httpclient.Config{
		ConnectTimeout: connectTimeout,
		TotalTimeout:   fetchTimeout,
	})

	body, err := httpclient.GetBytes(ctx, client, url)
	if err != nil {
		return nil, SourceInfo{}, fmt.Errorf("download keys json: %w", err)
	}

	keys, err := parseKeyFile(body)
	if err != nil {
		return nil, SourceInfo{}, err
	}
	return keys, SourceInfo{Source: "url:" + url, GameCount: keys.GameCount()}, nil
}

func resolveLocalKeysFile() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	local := filepath.Join(cwd, DefaultKeysFilename)
	if _, err := os.Stat(local); err == nil {
		return local, nil
	}

	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), DefaultKeysFilename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w: place %s next to the app or provide a key URL", ferrors.ErrNotFound, DefaultKeysFilename)
}

// Load resolves key material in priority order: a non-empty trimmed keyURL,
// then the well-known local filename in the current working directory, then
// next to the running executable.
func Load(ctx context.Context, keyURL string) (*Keys, SourceInfo, error) {
	if trimmed := strings.TrimSpace(keyURL); trimmed != "" {
		log.Debug("loading keys from url", log.String("url", trimmed))
		return readKeysFromURL(ctx, trimmed)
	}

	path, err := resolveLocalKeysFile()
	if err != nil {
		return nil, SourceInfo{}, err
	}
	log.Debug("loading keys from local file", log.String("path", path))
	return readKeysFromFile(path)
}

// LoadStatus loads keys the same way Load does but only reports source
// telemetry, for callers that want to display "keys configured" state
// without running a decrypt.
func LoadStatus(ctx context.Context, keyURL string) (SourceInfo, error) {
	_, info, err := Load(ctx, keyURL)
	if err != nil {
		return SourceInfo{}, err
	}
	return info, nil
}
