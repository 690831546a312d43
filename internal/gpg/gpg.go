// Package gpg verifies detached OpenPGP signatures on downloaded artifacts.
package gpg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ProtonMail/gopenpgp/v2/crypto"
)

const (
	maxFileSize = 512 * 1024 * 1024 // largest artifact or signature read into memory
	keyFileMode = 0600              // Required file permissions for key files on Unix systems
)

// Sentinel errors
var (
	ErrNoKeys       = errors.New("no keys in keyring")
	ErrKeyUnusable  = errors.New("key cannot verify signatures")
	ErrFileTooLarge = errors.New("file exceeds maximum allowed size")
	ErrBadSignature = errors.New("signature verification failed")
	ErrEmptyArmor   = errors.New("armored data cannot be empty")
	ErrNilKeyRing   = errors.New("keyring cannot be nil")
	ErrNoKeyFiles   = errors.New("no .asc keys found in directory")
)

// KeyRing verifies detached signatures
type KeyRing interface {
	VerifyDetached(message []byte, signature []byte) error
}

// Key is a parsed OpenPGP public key
type Key struct {
	pgpKey *crypto.Key
}

// NewKey parses an ASCII-armored public key
func NewKey(armored string) (*Key, error) {
	if armored == "" {
		return nil, ErrEmptyArmor
	}
	pgpKey, err := crypto.NewKeyFromArmored(armored)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PGP key: %w", err)
	}
	if !pgpKey.CanVerify() {
		return nil, fmt.Errorf("%w: %s", ErrKeyUnusable, pgpKey.GetFingerprint())
	}
	return &Key{pgpKey: pgpKey}, nil
}

// Fingerprint returns the hex fingerprint of the key
func (k *Key) Fingerprint() string {
	return k.pgpKey.GetFingerprint()
}

// PGPKeyRing implements KeyRing with gopenpgp
type PGPKeyRing struct {
	keyRing *crypto.KeyRing
}

// NewKeyRing creates an empty keyring
func NewKeyRing() *PGPKeyRing {
	return &PGPKeyRing{}
}

// AddKey adds a key to the keyring
func (r *PGPKeyRing) AddKey(key *Key) error {
	if key == nil {
		return fmt.Errorf("key cannot be nil")
	}
	if r.keyRing == nil {
		kr, err := crypto.NewKeyRing(key.pgpKey)
		if err != nil {
			return fmt.Errorf("failed to create keyring: %w", err)
		}
		r.keyRing = kr
		return nil
	}
	if err := r.keyRing.AddKey(key.pgpKey); err != nil {
		return fmt.Errorf("failed to add key to keyring: %w", err)
	}
	return nil
}

// Count returns how many keys the keyring holds
func (r *PGPKeyRing) Count() int {
	if r.keyRing == nil {
		return 0
	}
	return r.keyRing.CountEntities()
}

// VerifyDetached checks signature, armored or binary, over message
func (r *PGPKeyRing) VerifyDetached(message []byte, signature []byte) error {
	if r.keyRing == nil {
		return ErrNoKeys
	}

	pgpSignature, err := crypto.NewPGPSignatureFromArmored(string(signature))
	if err != nil {
		pgpSignature = crypto.NewPGPSignature(signature)
	}

	if err := r.keyRing.VerifyDetached(crypto.NewPlainMessage(message), pgpSignature, crypto.GetUnixTime()); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return nil
}

// LoadKeyRing loads armored public keys from a single file or from every
// .asc file in a directory.
func LoadKeyRing(path string) (*PGPKeyRing, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to access keys at %s: %w", path, err)
	}

	var files []string
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read keys directory: %w", err)
		}
		for _, entry := range entries {
			if !entry.IsDir() && filepath.Ext(entry.Name()) == ".asc" {
				files = append(files, filepath.Join(path, entry.Name()))
			}
		}
		if len(files) == 0 {
			return nil, ErrNoKeyFiles
		}
	} else {
		files = []string{path}
	}

	keyRing := NewKeyRing()
	for _, file := range files {
		if err := validateKeyFile(file); err != nil {
			return nil, fmt.Errorf("invalid key file '%s': %w", filepath.Base(file), err)
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read key file: %w", err)
		}
		key, err := NewKey(string(data))
		if err != nil {
			return nil, fmt.Errorf("invalid key in file '%s': %w", filepath.Base(file), err)
		}
		if err := keyRing.AddKey(key); err != nil {
			return nil, err
		}
	}
	return keyRing, nil
}

// LoadKeyRingFromStrings builds a keyring from ASCII-armored public keys
func LoadKeyRingFromStrings(armoredKeys []string) (*PGPKeyRing, error) {
	if len(armoredKeys) == 0 {
		return nil, ErrNoKeys
	}
	keyRing := NewKeyRing()
	for i, armored := range armoredKeys {
		key, err := NewKey(armored)
		if err != nil {
			return nil, fmt.Errorf("failed to parse armored key string at index %d: %w", i, err)
		}
		if err := keyRing.AddKey(key); err != nil {
			return nil, err
		}
	}
	return keyRing, nil
}

// VerifyDetachedSignature verifies a detached signature file against the
// given data file.
func VerifyDetachedSignature(keyRing KeyRing, dataFilePath string, sigFilePath string) error {
	if keyRing == nil {
		return ErrNilKeyRing
	}

	data, err := readLimited(dataFilePath)
	if err != nil {
		return fmt.Errorf("failed to read data file: %w", err)
	}
	sig, err := readLimited(sigFilePath)
	if err != nil {
		return fmt.Errorf("failed to read signature file: %w", err)
	}

	return keyRing.VerifyDetached(data, sig)
}

func readLimited(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("%w: %s", ErrFileTooLarge, path)
	}
	return os.ReadFile(path)
}

// validateKeyFile checks if a key file has appropriate permissions and size
func validateKeyFile(filePath string) error {
	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return fmt.Errorf("failed to access key file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return ErrFileTooLarge
	}

	// Check file permissions (allow both 0600 and 0644 for compatibility)
	perm := fileInfo.Mode().Perm()
	if perm != keyFileMode && perm != 0644 {
		return fmt.Errorf("key file has incorrect permissions. Expected %o or 0644, got %o", keyFileMode, perm)
	}
	return nil
}
