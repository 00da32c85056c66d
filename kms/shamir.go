package kms

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/hashicorp/vault/shamir"
	"github.com/ruteri/sealed-keymaster/cryptoutils"
	"github.com/ruteri/sealed-keymaster/interfaces"
)

const (
	// SecretSize is the length of the shared symmetric secret.
	SecretSize = cryptoutils.KeySize

	// FramedSecretSize is the length of digest || secret, the value that is split.
	FramedSecretSize = cryptoutils.DigestSize + SecretSize

	// MaxShares is the largest share count the GF(2^8) engine supports.
	MaxShares = 255
)

// NewSecret generates a fresh random secret.
func NewSecret() ([]byte, error) {
	return cryptoutils.NewSymmetricKey()
}

// FrameSecret prepends the integrity digest to the secret.
func FrameSecret(secret []byte) ([]byte, error) {
	if len(secret) != SecretSize {
		return nil, fmt.Errorf("%w: secret must be %d bytes, got %d", interfaces.ErrInvalidArgument, SecretSize, len(secret))
	}
	framed := make([]byte, 0, FramedSecretSize)
	framed = append(framed, cryptoutils.Digest(secret)...)
	framed = append(framed, secret...)
	return framed, nil
}

// UnframeSecret validates the length and leading digest of a reconstructed
// buffer and returns the secret it carries.
func UnframeSecret(framed []byte) ([]byte, error) {
	if len(framed) != FramedSecretSize {
		return nil, fmt.Errorf("%w: reconstructed %d bytes, expected %d", interfaces.ErrReconstructionFailed, len(framed), FramedSecretSize)
	}
	digest, secret := framed[:cryptoutils.DigestSize], framed[cryptoutils.DigestSize:]
	if subtle.ConstantTimeCompare(digest, cryptoutils.Digest(secret)) != 1 {
		return nil, fmt.Errorf("%w: digest mismatch", interfaces.ErrReconstructionFailed)
	}
	out := make([]byte, SecretSize)
	copy(out, secret)
	return out, nil
}

// SplitSecret frames secret and splits it into n shares, any t of which
// reconstruct it.
func SplitSecret(secret []byte, n, t int) ([][]byte, error) {
	if n < 2 {
		return nil, fmt.Errorf("%w: need at least 2 shares, got %d", interfaces.ErrInvalidArgument, n)
	}
	if n > MaxShares {
		return nil, fmt.Errorf("%w: at most %d shares supported, got %d", interfaces.ErrInvalidArgument, MaxShares, n)
	}
	if t < 1 || t > n {
		return nil, fmt.Errorf("%w: threshold must be between 1 and %d, got %d", interfaces.ErrInvalidArgument, n, t)
	}

	framed, err := FrameSecret(secret)
	if err != nil {
		return nil, err
	}
	defer wipeBytes(framed)

	if t == 1 {
		return splitConstant(framed, n)
	}

	shares, err := shamir.Split(framed, n, t)
	if err != nil {
		return nil, fmt.Errorf("failed to split secret: %w", err)
	}
	return shares, nil
}

// splitConstant handles threshold 1: a degree-zero polynomial, so every share
// holds the framed secret under its own distinct x coordinate. Combine
// interpolates such shares back to the constant term.
func splitConstant(framed []byte, n int) ([][]byte, error) {
	xs := make([]byte, MaxShares)
	for i := range xs {
		xs[i] = byte(i + 1)
	}
	for i := len(xs) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return nil, fmt.Errorf("failed to generate share coordinates: %w", err)
		}
		k := int(j.Int64())
		xs[i], xs[k] = xs[k], xs[i]
	}

	shares := make([][]byte, n)
	for i := range shares {
		share := make([]byte, len(framed)+1)
		copy(share, framed)
		share[len(framed)] = xs[i]
		shares[i] = share
	}
	return shares, nil
}

// CombineShares interpolates the constant term of the shares' polynomial. It
// does not check the result; see CombineSecret.
func CombineShares(shares [][]byte) ([]byte, error) {
	if len(shares) < 2 {
		return nil, fmt.Errorf("%w: have %d, need at least 2", interfaces.ErrInsufficientShards, len(shares))
	}

	size := len(shares[0])
	seen := make(map[byte]struct{}, len(shares))
	for i, share := range shares {
		if len(share) < 2 {
			return nil, fmt.Errorf("%w: share %d is too short", interfaces.ErrDecode, i)
		}
		if len(share) != size {
			return nil, fmt.Errorf("%w: share %d has length %d, expected %d", interfaces.ErrDecode, i, len(share), size)
		}
		x := share[len(share)-1]
		if x == 0 {
			return nil, fmt.Errorf("%w: share %d has a zero coordinate", interfaces.ErrDecode, i)
		}
		if _, dup := seen[x]; dup {
			return nil, fmt.Errorf("%w: duplicate share coordinate %d", interfaces.ErrDecode, x)
		}
		seen[x] = struct{}{}
	}

	combined, err := shamir.Combine(shares)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrDecode, err)
	}
	return combined, nil
}

// CombineSecret reconstructs and verifies the secret. A wrong or short share
// set never yields a secret: it fails with ErrReconstructionFailed.
func CombineSecret(shares [][]byte) ([]byte, error) {
	framed, err := CombineShares(shares)
	if err != nil {
		return nil, err
	}
	defer wipeBytes(framed)
	return UnframeSecret(framed)
}

// EncodeShare renders a share as lowercase hex.
func EncodeShare(share []byte) string {
	return hex.EncodeToString(share)
}

// DecodeShare parses the hex form of a share.
func DecodeShare(text string) ([]byte, error) {
	share, err := hex.DecodeString(strings.TrimSpace(text))
	if err != nil {
		return nil, fmt.Errorf("%w: share is not hex: %v", interfaces.ErrDecode, err)
	}
	if len(share) < 2 {
		return nil, fmt.Errorf("%w: share is too short", interfaces.ErrDecode)
	}
	return share, nil
}

// Securely wipe data from memory
func wipeBytes(data []byte) {
	cryptoutils.WipeBytes(data)
}
