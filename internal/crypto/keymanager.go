// Package crypto holds the operator key used for chain transfers and
// settlement receipts, plus HMAC request signing for the HTTP API.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	saltLen        = 16
	aesKeyLen      = 32
	keystoreFormat = 1
)

// kdfIterations is the PBKDF2-HMAC-SHA256 work factor for new keystores.
// Each keystore records the value it was sealed with.
var kdfIterations = 480_000

// ErrWrongPassword is returned when a keystore cannot be opened.
var ErrWrongPassword = errors.New("crypto: wrong password or corrupted keystore")

type keystoreFile struct {
	Format     int    `json:"format"`
	Iterations int    `json:"iterations"`
	Address    string `json:"address"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeySource tells LoadKey where the operator key lives. PrivateKey wins
// over EncryptedKeyPath when both are set.
type KeySource struct {
	PrivateKey       string
	EncryptedKeyPath string
	Password         string
}

// Configured reports whether any key source is set.
func (s KeySource) Configured() bool {
	return s.PrivateKey != "" || s.EncryptedKeyPath != ""
}

// EncryptKey seals a hex secp256k1 key with AES-256-GCM under a
// PBKDF2-derived key. The address is stored in clear so operators can tell
// keystores apart without the password.
func EncryptKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	key, err := parseKey(privateKeyHex)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	gcm, err := newGCM(password, salt, kdfIterations)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}

	return json.MarshalIndent(keystoreFile{
		Format:     keystoreFormat,
		Iterations: kdfIterations,
		Address:    ethcrypto.PubkeyToAddress(key.PublicKey).Hex(),
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, ethcrypto.FromECDSA(key), nil)),
	}, "", "  ")
}

// DecryptKey opens a keystore produced by EncryptKey.
func DecryptKey(keystore []byte, password string) (*ecdsa.PrivateKey, error) {
	var ks keystoreFile
	if err := json.Unmarshal(keystore, &ks); err != nil {
		return nil, fmt.Errorf("crypto: parse keystore: %w", err)
	}
	if ks.Format != keystoreFormat {
		return nil, fmt.Errorf("crypto: unsupported keystore format %d", ks.Format)
	}

	var raw [3][]byte
	for i, s := range []string{ks.Salt, ks.Nonce, ks.Ciphertext} {
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("crypto: decode keystore field: %w", err)
		}
		raw[i] = b
	}

	gcm, err := newGCM(password, raw[0], ks.Iterations)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, raw[1], raw[2], nil)
	if err != nil {
		return nil, ErrWrongPassword
	}
	key, err := ethcrypto.ToECDSA(plain)
	if err != nil {
		return nil, fmt.Errorf("crypto: keystore payload: %w", err)
	}
	return key, nil
}

// LoadKey resolves the operator key from src.
func LoadKey(src KeySource) (*ecdsa.PrivateKey, error) {
	switch {
	case src.PrivateKey != "":
		return parseKey(src.PrivateKey)
	case src.EncryptedKeyPath != "":
		data, err := os.ReadFile(src.EncryptedKeyPath)
		if err != nil {
			return nil, fmt.Errorf("crypto: read keystore: %w", err)
		}
		return DecryptKey(data, src.Password)
	default:
		return nil, errors.New("crypto: no key source configured")
	}
}

func parseKey(h string) (*ecdsa.PrivateKey, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(h, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: private key is not hex: %w", err)
	}
	key, err := ethcrypto.ToECDSA(b)
	if err != nil {
		return nil, fmt.Errorf("crypto: private key: %w", err)
	}
	return key, nil
}

func newGCM(password string, salt []byte, iterations int) (cipher.AEAD, error) {
	if iterations <= 0 {
		return nil, fmt.Errorf("crypto: invalid iteration count %d", iterations)
	}
	block, err := aes.NewCipher(pbkdf2.Key([]byte(password), salt, iterations, aesKeyLen, sha256.New))
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return gcm, nil
}
