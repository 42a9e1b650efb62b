package extsvc

import (
	"crypto/rand"
	"math/big"
)

const (
	alnumCharset       = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	upperAlnumCharset  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	base64LikeCharset  = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"
)

// randomString draws n characters from charset using a CSPRNG.
func randomString(n int, charset string) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(charset)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = charset[idx.Int64()]
	}
	return string(out), nil
}

// GeneratePassword creates a 16-char alphanumeric database password (§4.5).
func GeneratePassword() (string, error) {
	return randomString(16, alnumCharset)
}

// GenerateAccessKeyID creates an AWS-style AKIA + 16 uppercase alnum chars access key id (§4.5).
func GenerateAccessKeyID() (string, error) {
	suffix, err := randomString(16, upperAlnumCharset)
	if err != nil {
		return "", err
	}
	return "AKIA" + suffix, nil
}

// GenerateSecretKey creates a 40-char base64-like secret access key (§4.5).
func GenerateSecretKey() (string, error) {
	return randomString(40, base64LikeCharset)
}
