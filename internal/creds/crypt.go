package creds

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/argon2"
)

// Box запечатывает токены и секреты перед записью в БД: AES-256-GCM,
// ключ выводится из мастер-ключа через argon2id. Nonce кладётся в
// начало шифртекста.
type Box struct{ key []byte }

func NewBox(masterKey string) *Box {
	key := argon2.IDKey([]byte(masterKey), []byte("relist-seal"), 1, 64*1024, 1, 32)
	return &Box{key: key}
}

func (b *Box) Seal(plain []byte) ([]byte, error) {
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plain, nil), nil
}

func (b *Box) Open(sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, errors.New("sealed value too short")
	}
	nonce, ct := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ct, nil)
}

func (b *Box) SealString(s string) ([]byte, error) { return b.Seal([]byte(s)) }

func (b *Box) OpenString(sealed []byte) (string, error) {
	p, err := b.Open(sealed)
	if err != nil {
		return "", err
	}
	return string(p), nil
}
