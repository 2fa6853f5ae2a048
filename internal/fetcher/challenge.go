package fetcher

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"fmt"
	"regexp"
)

// The challenge script inlines three hex strings passed through toNumbers():
// an AES key, an IV and a ciphertext. Decrypting the ciphertext with
// AES-CBC and hex-encoding the plaintext yields the session cookie value
// the server expects on the next request.
var (
	challengeHexRE    = regexp.MustCompile(`toNumbers\("([0-9a-fA-F]+)"\)`)
	challengeCookieRE = regexp.MustCompile(`document\.cookie\s*=\s*"([A-Za-z0-9_-]+)=`)
)

// Challenge is a solved anti-bot cookie.
type Challenge struct {
	Name  string
	Value string
}

// HasChallenge reports whether the body carries the inline challenge script.
func HasChallenge(html string) bool {
	return len(challengeHexRE.FindAllStringIndex(html, 3)) >= 3
}

// SolveChallenge extracts the key, IV and ciphertext from the challenge
// script and decrypts the cookie value. Callers treat any error as "no
// cookie available"; it is never fatal.
func SolveChallenge(html string) (Challenge, error) {
	matches := challengeHexRE.FindAllStringSubmatch(html, 3)
	if len(matches) < 3 {
		return Challenge{}, fmt.Errorf("challenge script not found")
	}
	key, err := hex.DecodeString(matches[0][1])
	if err != nil {
		return Challenge{}, fmt.Errorf("decode challenge key: %w", err)
	}
	iv, err := hex.DecodeString(matches[1][1])
	if err != nil {
		return Challenge{}, fmt.Errorf("decode challenge iv: %w", err)
	}
	ciphertext, err := hex.DecodeString(matches[2][1])
	if err != nil {
		return Challenge{}, fmt.Errorf("decode challenge ciphertext: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return Challenge{}, fmt.Errorf("init challenge cipher: %w", err)
	}
	if len(iv) != block.BlockSize() {
		return Challenge{}, fmt.Errorf("challenge iv is %d bytes, want %d", len(iv), block.BlockSize())
	}
	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return Challenge{}, fmt.Errorf("challenge ciphertext length %d is not a block multiple", len(ciphertext))
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	nameMatch := challengeCookieRE.FindStringSubmatch(html)
	if nameMatch == nil {
		return Challenge{}, fmt.Errorf("challenge cookie name not found")
	}

	return Challenge{
		Name:  nameMatch[1],
		Value: hex.EncodeToString(plaintext),
	}, nil
}
