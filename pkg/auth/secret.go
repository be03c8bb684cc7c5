package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
)

const (
	OTPMin           = 10000
	OTPMax           = 99999
	ResetTokenLength = 32 // bytes, hex encoded to 64 characters
)

// GenerateOTP returns a uniformly random 5 digit code in [OTPMin, OTPMax].
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(OTPMax-OTPMin+1))
	if err != nil {
		return "", fmt.Errorf("failed to generate otp: %w", err)
	}
	return fmt.Sprintf("%d", n.Int64()+OTPMin), nil
}

// GenerateResetToken returns ResetTokenLength random bytes, hex encoded.
func GenerateResetToken() (string, error) {
	b := make([]byte, ResetTokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate reset token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashSecret is the at-rest form of an OTP or token. Lookups hash the
// presented secret and compare hashes, so plaintext never reaches the database.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
