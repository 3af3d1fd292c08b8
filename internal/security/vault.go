package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/pbkdf2"

	apperrors "paper-trader/internal/errors"
	"paper-trader/pkg/utils"
)

const (
	// EncryptionKeySize is the size of the AES-256 key in bytes.
	EncryptionKeySize = 32
	// SaltSize is the size of the salt for key derivation.
	SaltSize = 16
	// NonceSize is the size of the GCM nonce.
	NonceSize = 12
	// PBKDF2Iterations is the number of iterations for key derivation.
	PBKDF2Iterations = 100000

	vaultVersion = 1
)

// StoredToken is a Kite access token with its expiry.
type StoredToken struct {
	AccessToken string    `json:"access_token"`
	UserID      string    `json:"user_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the token is past its expiry at now.
func (t StoredToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

type vaultFile struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// TokenVault keeps the Kite access token encrypted at rest.
type TokenVault struct {
	path       string
	passphrase string
	now        func() time.Time
}

// NewTokenVault opens a vault at path.
func NewTokenVault(path, passphrase string) *TokenVault {
	return &TokenVault{path: path, passphrase: passphrase, now: time.Now}
}

// Path returns the vault file location.
func (v *TokenVault) Path() string { return v.path }

// Store encrypts token and writes it with 0600 permissions. The token
// expires at 06:00 IST the next day, when Kite invalidates sessions.
func (v *TokenVault) Store(accessToken, userID string) (StoredToken, error) {
	if v.passphrase == "" {
		return StoredToken{}, apperrors.Wrap(apperrors.ErrVaultLocked, "no vault passphrase configured")
	}

	now := v.now()
	tok := StoredToken{
		AccessToken: accessToken,
		UserID:      userID,
		CreatedAt:   now,
		ExpiresAt:   utils.TokenExpiry(now),
	}
	plain, err := json.Marshal(tok)
	if err != nil {
		return StoredToken{}, fmt.Errorf("serializing token: %w", err)
	}

	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return StoredToken{}, fmt.Errorf("generating salt: %w", err)
	}
	nonce, ciphertext, err := encrypt(plain, deriveKey(v.passphrase, salt))
	if err != nil {
		return StoredToken{}, err
	}

	data, err := json.MarshalIndent(vaultFile{
		Version:    vaultVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}, "", "  ")
	if err != nil {
		return StoredToken{}, fmt.Errorf("serializing vault: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(v.path), 0700); err != nil {
		return StoredToken{}, fmt.Errorf("creating vault directory: %w", err)
	}
	tmp := v.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return StoredToken{}, fmt.Errorf("writing vault: %w", err)
	}
	if err := os.Rename(tmp, v.path); err != nil {
		return StoredToken{}, fmt.Errorf("replacing vault: %w", err)
	}
	return tok, nil
}

// Load decrypts the stored token. A missing vault returns ErrDataNotFound;
// a wrong passphrase or an expired token returns ErrVaultLocked.
func (v *TokenVault) Load() (StoredToken, error) {
	if v.passphrase == "" {
		return StoredToken{}, apperrors.Wrap(apperrors.ErrVaultLocked, "no vault passphrase configured")
	}

	data, err := os.ReadFile(v.path)
	if os.IsNotExist(err) {
		return StoredToken{}, apperrors.Wrap(apperrors.ErrDataNotFound, "no stored access token")
	}
	if err != nil {
		return StoredToken{}, fmt.Errorf("reading vault: %w", err)
	}

	var vf vaultFile
	if err := json.Unmarshal(data, &vf); err != nil {
		return StoredToken{}, fmt.Errorf("parsing vault: %w", err)
	}
	salt, err := base64.StdEncoding.DecodeString(vf.Salt)
	if err != nil {
		return StoredToken{}, fmt.Errorf("decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(vf.Nonce)
	if err != nil {
		return StoredToken{}, fmt.Errorf("decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(vf.Ciphertext)
	if err != nil {
		return StoredToken{}, fmt.Errorf("decoding ciphertext: %w", err)
	}

	plain, err := decrypt(ciphertext, deriveKey(v.passphrase, salt), nonce)
	if err != nil {
		return StoredToken{}, apperrors.Join(apperrors.ErrVaultLocked, err)
	}

	var tok StoredToken
	if err := json.Unmarshal(plain, &tok); err != nil {
		return StoredToken{}, fmt.Errorf("parsing token: %w", err)
	}
	if tok.Expired(v.now()) {
		return tok, apperrors.Wrapf(apperrors.ErrVaultLocked, "access token expired at %s", tok.ExpiresAt.Format(time.RFC3339))
	}
	return tok, nil
}

// Clear removes the vault file.
func (v *TokenVault) Clear() error {
	if err := os.Remove(v.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, PBKDF2Iterations, EncryptionKeySize, sha256.New)
}

func encrypt(plaintext, key []byte) (nonce, ciphertext []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("creating GCM: %w", err)
	}

	nonce = make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}
	return nonce, gcm.Seal(nil, nonce, plaintext, nil), nil
}

func decrypt(ciphertext, key, nonce []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	return plaintext, nil
}
