package utils

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
)

const (
	DigitCharset         = "0123456789"
	UpperAlphanumCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// GenerateCode returns n random bytes hex encoded (2n characters).
func GenerateCode(n int) (string, error) {
	byt := make([]byte, n)
	if _, err := rand.Read(byt); err != nil {
		return "", err
	}
	return hex.EncodeToString(byt), nil
}

// GenerateFromCharset draws length characters uniformly from charset.
func GenerateFromCharset(length int, charset string) (string, error) {
	limit := big.NewInt(int64(len(charset)))
	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		code[i] = charset[n.Int64()]
	}
	return string(code), nil
}

func GenerateOTP(length int) (string, error) {
	return GenerateFromCharset(length, DigitCharset)
}
