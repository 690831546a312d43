package gpg

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ProtonMail/gopenpgp/v2/crypto"
)

// testSigner generates a signing key and returns its armored public key and
// a function producing armored detached signatures.
func testSigner(t *testing.T, name string) (string, func(data []byte) string) {
	t.Helper()

	key, err := crypto.GenerateKey(name, name+"@example.com", "x25519", 0)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	public, err := key.GetArmoredPublicKey()
	if err != nil {
		t.Fatalf("failed to armor public key: %v", err)
	}
	signingRing, err := crypto.NewKeyRing(key)
	if err != nil {
		t.Fatalf("failed to create signing keyring: %v", err)
	}

	sign := func(data []byte) string {
		sig, err := signingRing.SignDetached(crypto.NewPlainMessage(data))
		if err != nil {
			t.Fatalf("failed to sign: %v", err)
		}
		armored, err := sig.GetArmored()
		if err != nil {
			t.Fatalf("failed to armor signature: %v", err)
		}
		return armored
	}
	return public, sign
}

func writeFile(t *testing.T, dir, name, content string, mode os.FileMode) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), mode); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(p, mode); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestNewKey(t *testing.T) {
	public, _ := testSigner(t, "release")

	tests := []struct {
		name    string
		armored string
		wantErr error
	}{
		{name: "valid key", armored: public},
		{name: "empty", armored: "", wantErr: ErrEmptyArmor},
		{name: "garbage", armored: "-----BEGIN PGP PUBLIC KEY BLOCK-----\nnope\n-----END PGP PUBLIC KEY BLOCK-----"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := NewKey(tt.armored)
			switch {
			case tt.name == "garbage":
				if err == nil {
					t.Error("NewKey() expected parse error")
				}
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("NewKey() error = %v, want %v", err, tt.wantErr)
				}
			default:
				if err != nil {
					t.Fatalf("NewKey() error = %v", err)
				}
				if len(key.Fingerprint()) != 40 {
					t.Errorf("Fingerprint() = %q", key.Fingerprint())
				}
			}
		})
	}
}

func TestPGPKeyRing_VerifyDetached(t *testing.T) {
	public, sign := testSigner(t, "release")
	otherPublic, otherSign := testSigner(t, "other")
	data := []byte("bundle archive bytes")

	keyRing, err := LoadKeyRingFromStrings([]string{public})
	if err != nil {
		t.Fatalf("LoadKeyRingFromStrings() error = %v", err)
	}
	if keyRing.Count() != 1 {
		t.Errorf("Count() = %d, want 1", keyRing.Count())
	}

	if err := keyRing.VerifyDetached(data, []byte(sign(data))); err != nil {
		t.Errorf("VerifyDetached() valid signature error = %v", err)
	}
	if err := keyRing.VerifyDetached([]byte("tampered"), []byte(sign(data))); !errors.Is(err, ErrBadSignature) {
		t.Errorf("VerifyDetached() tampered data error = %v, want ErrBadSignature", err)
	}
	if err := keyRing.VerifyDetached(data, []byte(otherSign(data))); !errors.Is(err, ErrBadSignature) {
		t.Errorf("VerifyDetached() foreign signature error = %v, want ErrBadSignature", err)
	}

	both, err := LoadKeyRingFromStrings([]string{public, otherPublic})
	if err != nil {
		t.Fatalf("LoadKeyRingFromStrings() error = %v", err)
	}
	if err := both.VerifyDetached(data, []byte(otherSign(data))); err != nil {
		t.Errorf("VerifyDetached() with second key error = %v", err)
	}

	if err := NewKeyRing().VerifyDetached(data, []byte(sign(data))); !errors.Is(err, ErrNoKeys) {
		t.Errorf("empty keyring error = %v, want ErrNoKeys", err)
	}
	if _, err := LoadKeyRingFromStrings(nil); !errors.Is(err, ErrNoKeys) {
		t.Errorf("LoadKeyRingFromStrings(nil) error = %v", err)
	}
}

func TestLoadKeyRing(t *testing.T) {
	public, sign := testSigner(t, "release")
	data := []byte("payload")

	t.Run("single file", func(t *testing.T) {
		p := writeFile(t, t.TempDir(), "release.asc", public, 0o644)
		kr, err := LoadKeyRing(p)
		if err != nil {
			t.Fatalf("LoadKeyRing() error = %v", err)
		}
		if err := kr.VerifyDetached(data, []byte(sign(data))); err != nil {
			t.Errorf("VerifyDetached() error = %v", err)
		}
	})

	t.Run("directory", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "release.asc", public, 0o600)
		writeFile(t, dir, "README.md", "not a key", 0o644)
		kr, err := LoadKeyRing(dir)
		if err != nil {
			t.Fatalf("LoadKeyRing() error = %v", err)
		}
		if kr.Count() != 1 {
			t.Errorf("Count() = %d, want 1", kr.Count())
		}
	})

	t.Run("empty directory", func(t *testing.T) {
		if _, err := LoadKeyRing(t.TempDir()); !errors.Is(err, ErrNoKeyFiles) {
			t.Errorf("LoadKeyRing() error = %v, want ErrNoKeyFiles", err)
		}
	})

	t.Run("world writable key", func(t *testing.T) {
		p := writeFile(t, t.TempDir(), "release.asc", public, 0o666)
		if _, err := LoadKeyRing(p); err == nil {
			t.Error("LoadKeyRing() expected permission error")
		}
	})

	t.Run("missing", func(t *testing.T) {
		if _, err := LoadKeyRing(filepath.Join(t.TempDir(), "nope.asc")); err == nil {
			t.Error("LoadKeyRing() expected error")
		}
	})
}

func TestVerifyDetachedSignature(t *testing.T) {
	public, sign := testSigner(t, "release")
	kr, err := LoadKeyRingFromStrings([]string{public})
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	dataPath := writeFile(t, dir, "extensions.zip", "zip-bytes", 0o644)
	sigPath := writeFile(t, dir, "extensions.zip.sig", sign([]byte("zip-bytes")), 0o644)
	badSigPath := writeFile(t, dir, "other.sig", sign([]byte("other-bytes")), 0o644)

	if err := VerifyDetachedSignature(kr, dataPath, sigPath); err != nil {
		t.Errorf("VerifyDetachedSignature() error = %v", err)
	}
	if err := VerifyDetachedSignature(kr, dataPath, badSigPath); !errors.Is(err, ErrBadSignature) {
		t.Errorf("VerifyDetachedSignature() mismatched error = %v", err)
	}
	if err := VerifyDetachedSignature(nil, dataPath, sigPath); !errors.Is(err, ErrNilKeyRing) {
		t.Errorf("VerifyDetachedSignature(nil) error = %v", err)
	}
	if err := VerifyDetachedSignature(kr, filepath.Join(dir, "missing.zip"), sigPath); err == nil {
		t.Error("VerifyDetachedSignature() expected error for missing data file")
	}
}
