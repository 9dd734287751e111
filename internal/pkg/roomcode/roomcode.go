package roomcode

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/rocketscienceinc/tictactoe-online/internal/apperror"
)

const (
	Length = 6

	lowest = 100000
	span   = 900000
)

// New - generates a uniformly random code in 100000..999999.
func New() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		return "", fmt.Errorf("failed to generate room code: %w", err)
	}

	return fmt.Sprintf("%d", n.Int64()+lowest), nil
}

// Validate - accepts exactly six ASCII digits.
func Validate(code string) error {
	if len(code) != Length {
		return apperror.ErrInvalidCode
	}

	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return apperror.ErrInvalidCode
		}
	}

	return nil
}
