package meshcore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// KeyStore holds the cipher material derived from configured channel secrets.
// The single-byte channel hash carried on group-text packets is the first byte
// of the SHA-256 digest of the normalized secret; the digest itself is the
// AES-256-GCM key used to seal the group-text body. Multiple secrets may share
// a hash byte, so lookups return every candidate.
type KeyStore struct {
	byHash map[byte][]channelKey
}

type channelKey struct {
	secret string
	aead   cipher.AEAD
}

// NewKeyStore derives cipher material for each secret. Secrets that are empty
// after normalization are skipped.
func NewKeyStore(secrets []string) *KeyStore {
	ks := &KeyStore{byHash: make(map[byte][]channelKey)}

	for _, secret := range secrets {
		normalized := strings.ToLower(strings.TrimSpace(secret))
		if normalized == "" {
			continue
		}

		digest := sha256.Sum256([]byte(normalized))
		block, err := aes.NewCipher(digest[:])
		if err != nil {
			continue
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			continue
		}

		ks.byHash[digest[0]] = append(ks.byHash[digest[0]], channelKey{secret: normalized, aead: aead})
	}

	return ks
}

// HasChannelHash reports whether the hex-encoded single-byte channel hash
// corresponds to one of the configured secrets.
func (ks *KeyStore) HasChannelHash(hash string) bool {
	if ks == nil {
		return false
	}
	b, ok := parseHashByte(hash)
	if !ok {
		return false
	}
	return len(ks.byHash[b]) > 0
}

func (ks *KeyStore) openGroupText(hash byte, nonce, sealed []byte) ([]byte, bool) {
	if ks == nil {
		return nil, false
	}
	for _, key := range ks.byHash[hash] {
		if plain, err := key.aead.Open(nil, nonce, sealed, nil); err == nil {
			return plain, true
		}
	}
	return nil, false
}

// ChannelHash returns the hex-encoded single-byte channel hash for a secret.
func ChannelHash(secret string) string {
	digest := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(secret))))
	return hex.EncodeToString(digest[:1])
}

func parseHashByte(hash string) (byte, bool) {
	decoded, err := hex.DecodeString(strings.TrimSpace(hash))
	if err != nil || len(decoded) != 1 {
		return 0, false
	}
	return decoded[0], true
}
