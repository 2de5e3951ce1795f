package store

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/talentwire/go-auth-client/token"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	saltLength  = 16
	nonceLength = 24
	keyLength   = 32
)

// FileRepo persists the token pair to a single file, encrypted at rest
// with a key derived from a caller-supplied secret. Bearer credentials on
// disk are readable by anything running as the user, hence the sealing.
type FileRepo struct {
	mu     sync.Mutex
	path   string
	secret []byte
}

// NewFileRepo creates a file-backed token store at path. secret is the
// encryption passphrase; it must be non-empty.
func NewFileRepo(path string, secret []byte) (*FileRepo, error) {
	if path == "" {
		return nil, fmt.Errorf("[NewFileRepo] path is required")
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("[NewFileRepo] secret is required")
	}
	return &FileRepo{path: path, secret: secret}, nil
}

func (r *FileRepo) AccessToken() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pair, err := r.load()
	if err != nil {
		return "", err
	}
	return pair.AccessToken, nil
}

func (r *FileRepo) RefreshToken() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pair, err := r.load()
	if err != nil {
		return "", err
	}
	return pair.RefreshToken, nil
}

func (r *FileRepo) SetPair(pair token.Pair) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.save(pair)
}

func (r *FileRepo) SetAccessToken(access string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	pair, err := r.load()
	if err != nil {
		return err
	}
	pair.AccessToken = access
	return r.save(pair)
}

func (r *FileRepo) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove token file: %w", err)
	}
	return nil
}

// load reads and decrypts the stored pair. A missing file is an empty
// pair, not an error.
func (r *FileRepo) load() (token.Pair, error) {
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return token.Pair{}, nil
	}
	if err != nil {
		return token.Pair{}, fmt.Errorf("failed to read token file: %w", err)
	}
	if len(data) < saltLength+nonceLength {
		return token.Pair{}, fmt.Errorf("token file truncated")
	}

	var salt [saltLength]byte
	copy(salt[:], data[:saltLength])
	var nonce [nonceLength]byte
	copy(nonce[:], data[saltLength:saltLength+nonceLength])

	key, err := r.deriveKey(salt[:])
	if err != nil {
		return token.Pair{}, err
	}

	plain, ok := secretbox.Open(nil, data[saltLength+nonceLength:], &nonce, key)
	if !ok {
		return token.Pair{}, fmt.Errorf("failed to decrypt token file")
	}

	var pair token.Pair
	if err := json.Unmarshal(plain, &pair); err != nil {
		return token.Pair{}, fmt.Errorf("failed to decode token file: %w", err)
	}
	return pair, nil
}

// save encrypts and writes the pair. Written to a temp file and renamed so
// a crash mid-write never leaves a half-encrypted store behind.
func (r *FileRepo) save(pair token.Pair) error {
	plain, err := json.Marshal(pair)
	if err != nil {
		return fmt.Errorf("failed to encode token pair: %w", err)
	}

	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	var nonce [nonceLength]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	key, err := r.deriveKey(salt)
	if err != nil {
		return err
	}

	data := make([]byte, 0, saltLength+nonceLength+len(plain)+secretbox.Overhead)
	data = append(data, salt...)
	data = append(data, nonce[:]...)
	data = secretbox.Seal(data, plain, &nonce, key)

	if err := os.MkdirAll(filepath.Dir(r.path), 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	return nil
}

func (r *FileRepo) deriveKey(salt []byte) (*[keyLength]byte, error) {
	derived, err := scrypt.Key(r.secret, salt, 1<<15, 8, 1, keyLength)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	var key [keyLength]byte
	copy(key[:], derived)
	return &key, nil
}
