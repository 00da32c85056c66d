package kms

import (
	"bytes"
	"testing"

	"github.com/ruteri/sealed-keymaster/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// subsets returns every k-element index subset of [0, n).
func subsets(n, k int) [][]int {
	var out [][]int
	var rec func(start int, cur []int)
	rec = func(start int, cur []int) {
		if len(cur) == k {
			out = append(out, append([]int(nil), cur...))
			return
		}
		for i := start; i < n; i++ {
			rec(i+1, append(cur, i))
		}
	}
	rec(0, nil)
	return out
}

func pick(shares [][]byte, idx []int) [][]byte {
	out := make([][]byte, 0, len(idx))
	for _, i := range idx {
		out = append(out, shares[i])
	}
	return out
}

func TestSplitCombine_AnyThresholdSubset(t *testing.T) {
	secret, err := NewSecret()
	require.NoError(t, err)

	testCases := []struct {
		name string
		n, t int
	}{
		{name: "2 of 2", n: 2, t: 2},
		{name: "2 of 3", n: 3, t: 2},
		{name: "3 of 5", n: 5, t: 3},
		{name: "5 of 5", n: 5, t: 5},
		{name: "1 of 3", n: 3, t: 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			shares, err := SplitSecret(secret, tc.n, tc.t)
			require.NoError(t, err)
			require.Len(t, shares, tc.n)
			for _, share := range shares {
				require.Len(t, share, FramedSecretSize+1)
			}

			// Combining needs at least two shares even when one would do.
			k := max(tc.t, 2)
			for _, idx := range subsets(tc.n, k) {
				got, err := CombineSecret(pick(shares, idx))
				require.NoError(t, err, "subset %v", idx)
				require.Equal(t, secret, got, "subset %v", idx)
			}
		})
	}
}

func TestCombine_PermutationIndependent(t *testing.T) {
	secret, err := NewSecret()
	require.NoError(t, err)

	shares, err := SplitSecret(secret, 4, 3)
	require.NoError(t, err)

	a, err := CombineShares([][]byte{shares[0], shares[2], shares[3]})
	require.NoError(t, err)
	b, err := CombineShares([][]byte{shares[3], shares[0], shares[2]})
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestCombine_BelowThresholdNeverYieldsSecret(t *testing.T) {
	secret, err := NewSecret()
	require.NoError(t, err)

	shares, err := SplitSecret(secret, 5, 3)
	require.NoError(t, err)

	for _, idx := range subsets(5, 2) {
		got, err := CombineSecret(pick(shares, idx))
		require.ErrorIs(t, err, interfaces.ErrReconstructionFailed, "subset %v", idx)
		require.Nil(t, got)
	}
}

func TestCombine_ForeignShare(t *testing.T) {
	secret, err := NewSecret()
	require.NoError(t, err)
	other, err := NewSecret()
	require.NoError(t, err)

	shares, err := SplitSecret(secret, 3, 2)
	require.NoError(t, err)
	foreign, err := SplitSecret(other, 3, 2)
	require.NoError(t, err)

	mixed := [][]byte{shares[0], foreign[1]}
	if mixed[0][len(mixed[0])-1] == mixed[1][len(mixed[1])-1] {
		mixed[1] = foreign[2]
	}
	if mixed[0][len(mixed[0])-1] == mixed[1][len(mixed[1])-1] {
		mixed[1] = foreign[0]
	}

	_, err = CombineSecret(mixed)
	require.ErrorIs(t, err, interfaces.ErrReconstructionFailed)
}

func TestCombine_InsufficientAndMalformed(t *testing.T) {
	secret, err := NewSecret()
	require.NoError(t, err)

	shares, err := SplitSecret(secret, 3, 2)
	require.NoError(t, err)

	_, err = CombineSecret(nil)
	require.ErrorIs(t, err, interfaces.ErrInsufficientShards)

	_, err = CombineSecret(shares[:1])
	require.ErrorIs(t, err, interfaces.ErrInsufficientShards)

	_, err = CombineShares([][]byte{shares[0], shares[1][:10]})
	require.ErrorIs(t, err, interfaces.ErrDecode)

	_, err = CombineShares([][]byte{shares[0], shares[0]})
	require.ErrorIs(t, err, interfaces.ErrDecode)

	zero := bytes.Clone(shares[1])
	zero[len(zero)-1] = 0
	_, err = CombineShares([][]byte{shares[0], zero})
	require.ErrorIs(t, err, interfaces.ErrDecode)
}

func TestSplit_InvalidParameters(t *testing.T) {
	secret, err := NewSecret()
	require.NoError(t, err)

	_, err = SplitSecret(secret, 1, 1)
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument, "Should fail with fewer than 2 shares")

	_, err = SplitSecret(secret, 3, 4)
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument, "Should fail when threshold > total shares")

	_, err = SplitSecret(secret, 3, 0)
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument, "Should fail when threshold < 1")

	_, err = SplitSecret(secret, 256, 2)
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument, "Should fail with more than 255 shares")

	_, err = SplitSecret(secret[:16], 3, 2)
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument, "Should fail with a short secret")
}

func TestUnframeSecret(t *testing.T) {
	secret, err := NewSecret()
	require.NoError(t, err)

	framed, err := FrameSecret(secret)
	require.NoError(t, err)

	got, err := UnframeSecret(framed)
	require.NoError(t, err)
	require.Equal(t, secret, got)

	// Legacy layouts without the digest are rejected rather than guessed at.
	_, err = UnframeSecret(secret)
	require.ErrorIs(t, err, interfaces.ErrReconstructionFailed)
	_, err = UnframeSecret(append(make([]byte, 16), secret...))
	require.ErrorIs(t, err, interfaces.ErrReconstructionFailed)

	framed[0] ^= 1
	_, err = UnframeSecret(framed)
	require.ErrorIs(t, err, interfaces.ErrReconstructionFailed)
}

func TestShareEncoding(t *testing.T) {
	secret, err := NewSecret()
	require.NoError(t, err)
	shares, err := SplitSecret(secret, 2, 2)
	require.NoError(t, err)

	decoded, err := DecodeShare(EncodeShare(shares[0]) + "\n")
	require.NoError(t, err)
	require.Equal(t, shares[0], decoded)

	_, err = DecodeShare("zz")
	require.ErrorIs(t, err, interfaces.ErrDecode)
	_, err = DecodeShare("ab")
	require.ErrorIs(t, err, interfaces.ErrDecode)
}
