package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/AlibekovAA/authcore/internal/common/constants"
)

// SecretGenerator produces opaque bearer secrets. Only their SHA-256 digests
// are ever persisted.
type SecretGenerator interface {
	NewSecret() (string, error)
}

type RandomSecretGenerator struct {
	size int
}

func NewRandomSecretGenerator() *RandomSecretGenerator {
	return &RandomSecretGenerator{size: constants.RefreshTokenSize}
}

func (g *RandomSecretGenerator) NewSecret() (string, error) {
	size := g.size
	if size <= 0 {
		size = constants.RefreshTokenSize
	}
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashSecret returns the lowercase hex SHA-256 of value. It is used for refresh
// secrets at rest and for blacklist keys.
func HashSecret(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
