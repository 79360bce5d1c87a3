package protocol

import (
	"crypto/aes"
	"crypto/cipher"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

// KeySize is the fixed pre-shared session key length (AES-256).
const KeySize = 32

// keyInfo labels the HKDF expansion so keys derived for this protocol never
// collide with other uses of the same secret.
const keyInfo = "gamewire session key v1"

// Cipher is the stream-cipher engine. Encryption is AES-256-CTR with a
// 16-byte IV of 15 zero bytes followed by the packet's sequence number, so
// the keystream is fully determined by the sequence number and no IV travels
// on the wire.
//
// Known weakness: the sequence counter is 8 bits, so the IV repeats every
// 256 packets under a fixed key. Sessions exceeding 256 packets reuse
// keystreams. This is the documented wire behavior; a hardened variant would
// need a wider counter or per-session key rotation.
type Cipher struct {
	block cipher.Block
}

// NewCipher creates a cipher engine from a 32-byte pre-shared key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &Cipher{block: block}, nil
}

// DeriveKey derives the 32-byte session key from a shared secret using
// HKDF-SHA3. Both peers derive the same key from the same secret.
func DeriveKey(secret []byte) ([]byte, error) {
	kdf := hkdf.New(sha3.New256, secret, nil, []byte(keyInfo))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	return key, nil
}

// iv builds the 16-byte initialization vector for a sequence number:
// 15 zero bytes followed by the sequence byte.
func (c *Cipher) iv(seq uint8) []byte {
	iv := make([]byte, aes.BlockSize)
	iv[aes.BlockSize-1] = seq
	return iv
}

// Encrypt transforms plaintext into ciphertext using the keystream for the
// given sequence number. Text payloads must already be canonicalized to
// bytes (UTF-8) by the caller.
func (c *Cipher) Encrypt(seq uint8, plaintext []byte) []byte {
	out := make([]byte, len(plaintext))
	cipher.NewCTR(c.block, c.iv(seq)).XORKeyStream(out, plaintext)
	return out
}

// Decrypt is the inverse of Encrypt. CTR mode is length-preserving, so the
// only detectable failure here is an oversized ciphertext that could not
// have been produced by Pack; anything else surfaces as a checksum mismatch
// upstream.
func (c *Cipher) Decrypt(seq uint8, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) > MaxPayloadSize {
		return nil, &CipherError{Sequence: seq, Err: &FramingError{Reason: "ciphertext too large", Got: len(ciphertext), Want: MaxPayloadSize}}
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCTR(c.block, c.iv(seq)).XORKeyStream(out, ciphertext)
	return out, nil
}
