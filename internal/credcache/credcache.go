// Package credcache persists a CredentialProvider's bearer token to disk
// between process runs, encrypted at rest, so a CLI session does not force
// a fresh OAuth/Kerberos round trip on every invocation. Grounded on the
// teacher's account.Crypto: AES-256-CBC with a scrypt-derived key (one fixed
// salt for every cache) and a random IV per write.
package credcache

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/scrypt"
)

// Provider is the subset of transport.CredentialProvider this cache wraps.
// Defined locally to avoid an import of the root package from internal/.
type Provider interface {
	Valid(ctx context.Context) bool
	Token(ctx context.Context) string
	Refresh(ctx context.Context) error
}

// cachedToken is the on-disk record for one cache entry.
type cachedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Cache encrypts and persists the most recent token a Provider produced, so
// a new process can reuse it without calling Refresh immediately.
type Cache struct {
	path string
	key  []byte

	mu     sync.Mutex
	cached *cachedToken
}

// Open loads (or lazily creates) an encrypted token cache at path, deriving
// its AES-256 key from passphrase via scrypt.
func Open(path, passphrase string) (*Cache, error) {
	key, err := deriveKey(passphrase, "presto-go-client-credcache")
	if err != nil {
		return nil, err
	}
	c := &Cache{path: path, key: key}
	c.load()
	return c, nil
}

func deriveKey(passphrase, salt string) ([]byte, error) {
	key, err := scrypt.Key([]byte(passphrase), []byte(salt), 32768, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("credcache: derive key: %w", err)
	}
	return key, nil
}

func (c *Cache) load() {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		return
	}
	plaintext, err := c.decrypt(strings.TrimSpace(string(raw)))
	if err != nil {
		return
	}
	var tok cachedToken
	if err := json.Unmarshal(plaintext, &tok); err != nil {
		return
	}
	c.mu.Lock()
	c.cached = &tok
	c.mu.Unlock()
}

func (c *Cache) save(tok cachedToken) error {
	plaintext, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	encrypted, err := c.encrypt(plaintext)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("credcache: mkdir: %w", err)
	}
	return os.WriteFile(c.path, []byte(encrypted), 0o600)
}

// Wrap returns a Provider that consults the cache before delegating to
// next: Valid/Token are served from the cached entry while it is still
// valid; Refresh always delegates to next and persists the new token.
func (c *Cache) Wrap(next Provider) Provider {
	return &cachedProvider{cache: c, next: next}
}

type cachedProvider struct {
	cache *Cache
	next  Provider
}

func (p *cachedProvider) Valid(ctx context.Context) bool {
	p.cache.mu.Lock()
	tok := p.cache.cached
	p.cache.mu.Unlock()
	if tok != nil && time.Now().Before(tok.ExpiresAt) {
		return true
	}
	return p.next.Valid(ctx)
}

func (p *cachedProvider) Token(ctx context.Context) string {
	p.cache.mu.Lock()
	tok := p.cache.cached
	p.cache.mu.Unlock()
	if tok != nil && time.Now().Before(tok.ExpiresAt) {
		return tok.Token
	}
	return p.next.Token(ctx)
}

func (p *cachedProvider) Refresh(ctx context.Context) error {
	if err := p.next.Refresh(ctx); err != nil {
		return err
	}
	tok := cachedToken{
		Token:     p.next.Token(ctx),
		ExpiresAt: time.Now().Add(1 * time.Hour),
	}
	p.cache.mu.Lock()
	p.cache.cached = &tok
	p.cache.mu.Unlock()
	return p.cache.save(tok)
}

func (c *Cache) encrypt(plaintext []byte) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("credcache: aes cipher: %w", err)
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("credcache: rand iv: %w", err)
	}
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext), nil
}

func (c *Cache) decrypt(encoded string) ([]byte, error) {
	parts := strings.SplitN(encoded, ":", 2)
	if len(parts) != 2 {
		return nil, errors.New("credcache: malformed cache entry")
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != aes.BlockSize {
		return nil, errors.New("credcache: malformed iv")
	}
	ciphertext, err := hex.DecodeString(parts[1])
	if err != nil || len(ciphertext)%aes.BlockSize != 0 {
		return nil, errors.New("credcache: malformed ciphertext")
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("credcache: aes cipher: %w", err)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)
	return pkcs7Unpad(plaintext, aes.BlockSize)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	pad := make([]byte, padding)
	for i := range pad {
		pad[i] = byte(padding)
	}
	return append(data, pad...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("credcache: empty plaintext")
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize || padding > len(data) {
		return nil, fmt.Errorf("credcache: invalid padding %d", padding)
	}
	for i := len(data) - padding; i < len(data); i++ {
		if data[i] != byte(padding) {
			return nil, errors.New("credcache: invalid padding bytes")
		}
	}
	return data[:len(data)-padding], nil
}
