package utils

import (
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSafeInt64(t *testing.T) {
	testCases := []struct {
		name   string
		value  uint64
		expErr bool
		expInt int64
	}{
		{name: "zero", value: 0, expInt: 0},
		{name: "max int64", value: uint64(math.MaxInt64), expInt: math.MaxInt64},
		{name: "overflow", value: uint64(math.MaxInt64) + 1, expErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := SafeInt64(tc.value)
			if tc.expErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expInt, got)
		})
	}
}

func TestSafeUint64(t *testing.T) {
	got, err := SafeUint64(42)
	require.NoError(t, err)
	require.Equal(t, uint64(42), got)

	_, err = SafeUint64(-1)
	require.Error(t, err)
}

func TestSafeNewIntFromBigInt(t *testing.T) {
	i, err := SafeNewIntFromBigInt(big.NewInt(100000))
	require.NoError(t, err)
	require.Equal(t, int64(100000), i.Int64())

	tooBig := new(big.Int).Lsh(big.NewInt(1), 257)
	_, err = SafeNewIntFromBigInt(tooBig)
	require.Error(t, err)
}
