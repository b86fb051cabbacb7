package meshcore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
)

// EncodeAdvert builds a hex-encoded advert packet. publicKey must be 32 bytes;
// loc may be nil for adverts without a position.
func EncodeAdvert(publicKey []byte, timestamp int64, name string, loc *GeoPoint, path []byte) (string, error) {
	if len(publicKey) != publicKeyLen {
		return "", fmt.Errorf("public key must be %d bytes, got %d", publicKeyLen, len(publicKey))
	}

	body := make([]byte, 0, publicKeyLen+5+8+len(name))
	body = append(body, publicKey...)
	body = appendUint32(body, uint32(timestamp))

	flags := byte(0)
	if loc != nil {
		flags |= advertHasLocBit
	}
	body = append(body, flags)
	if loc != nil {
		body = appendInt32(body, int32(math.Round(loc.Latitude*microdeg)))
		body = appendInt32(body, int32(math.Round(loc.Longitude*microdeg)))
	}
	body = append(body, name...)

	return assemble(PayloadAdvert, path, body)
}

// EncodeTextMessage builds a hex-encoded plain text-message packet.
func EncodeTextMessage(sourceHash, destinationHash byte, timestamp int64, message string, path []byte) (string, error) {
	body := make([]byte, 0, 6+len(message))
	body = append(body, sourceHash, destinationHash)
	body = appendUint32(body, uint32(timestamp))
	body = append(body, message...)

	return assemble(PayloadTextMessage, path, body)
}

// EncodeGroupText builds a hex-encoded group-text packet sealed with the key
// derived from secret.
func EncodeGroupText(secret string, timestamp int64, sender, message string, path []byte) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(secret))
	if normalized == "" {
		return "", fmt.Errorf("empty channel secret")
	}
	if len(sender) > 255 {
		return "", fmt.Errorf("sender name too long")
	}

	digest := sha256.Sum256([]byte(normalized))
	block, err := aes.NewCipher(digest[:])
	if err != nil {
		return "", fmt.Errorf("derive channel key: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("derive channel key: %w", err)
	}

	plain := make([]byte, 0, 5+len(sender)+len(message))
	plain = appendUint32(plain, uint32(timestamp))
	plain = append(plain, byte(len(sender)))
	plain = append(plain, sender...)
	plain = append(plain, message...)

	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	body := make([]byte, 0, 1+nonceLen+len(plain)+aead.Overhead())
	body = append(body, digest[0])
	body = append(body, nonce...)
	body = aead.Seal(body, nonce, plain, nil)

	return assemble(PayloadGroupText, path, body)
}

func assemble(t PayloadType, path, body []byte) (string, error) {
	if len(path) > 255 {
		return "", fmt.Errorf("path too long")
	}

	packet := make([]byte, 0, 2+len(path)+len(body))
	packet = append(packet, byte(int(t)<<2))
	packet = append(packet, byte(len(path)))
	packet = append(packet, path...)
	packet = append(packet, body...)

	return hex.EncodeToString(packet), nil
}

func appendUint32(b []byte, v uint32) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func appendInt32(b []byte, v int32) []byte {
	return appendUint32(b, uint32(v))
}
