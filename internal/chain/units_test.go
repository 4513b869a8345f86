package chain

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUnits(t *testing.T) {
	oneEth, _ := new(big.Int).SetString("1000000000000000000", 10)
	tests := []struct {
		in   string
		want string
	}{
		{"1", "1000000000000000000"},
		{"0.5", "500000000000000000"},
		{".25", "250000000000000000"},
		{"10.", "10000000000000000000"},
		{"0", "0"},
		{"-2", "-2000000000000000000"},
		{" 3 ", "3000000000000000000"},
		{"1.000000000000000000000", oneEth.String()},
	}
	for _, tc := range tests {
		got, err := ParseUnits(tc.in, Decimals)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got.String(), tc.in)
	}

	for _, bad := range []string{"", ".", "abc", "1.2.3", "1e18", "0.0000000000000000001"} {
		_, err := ParseUnits(bad, Decimals)
		assert.ErrorIs(t, err, ErrInvalidAmount, bad)
	}
}

func TestFormatUnits(t *testing.T) {
	v, _ := new(big.Int).SetString("1500000000000000000", 10)
	assert.Equal(t, "1.5", FormatUnits(v, Decimals))
	assert.Equal(t, "0.000000000000000001", FormatUnits(big.NewInt(1), Decimals))
	assert.Equal(t, "0", FormatUnits(big.NewInt(0), Decimals))
	assert.Equal(t, "0", FormatUnits(nil, Decimals))
	neg := new(big.Int).Mul(big.NewInt(-2), v)
	assert.Equal(t, "-3", FormatUnits(neg, Decimals))
}

func TestParseFace(t *testing.T) {
	f, err := ParseFace("Heads")
	require.NoError(t, err)
	assert.Equal(t, Heads, f)
	f, err = ParseFace("t")
	require.NoError(t, err)
	assert.Equal(t, Tails, f)
	_, err = ParseFace("edge")
	assert.Error(t, err)
}
