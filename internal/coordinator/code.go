package coordinator

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
)

const codeDigits = 4

var codeSpace = big.NewInt(10000)

func newCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

func codesMatch(want, got string) bool {
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
