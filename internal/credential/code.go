package credential

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"math/big"
)

const (
	pinDigits = 6
	qrBytes   = 32
)

var pinSpace = big.NewInt(1_000_000)

// generatePIN draws a uniform 6-digit code, leading zeros allowed.
func generatePIN(r io.Reader) (string, error) {
	n, err := rand.Int(r, pinSpace)
	if err != nil {
		return "", fmt.Errorf("generate pin: %w", err)
	}
	return fmt.Sprintf("%0*d", pinDigits, n.Int64()), nil
}

// generateQR draws 256 random bits encoded as unpadded base64url.
func generateQR(r io.Reader) (string, error) {
	buf := make([]byte, qrBytes)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("generate qr token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func generateCode(t CodeType, r io.Reader) (string, error) {
	if t == CodeQR {
		return generateQR(r)
	}
	return generatePIN(r)
}
