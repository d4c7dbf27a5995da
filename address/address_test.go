package address_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramses-rf/ramses-go/address"
	"github.com/ramses-rf/ramses-go/ramseserr"
)

func TestParseValid(t *testing.T) {
	a, err := address.Parse("01:123456")
	require.NoError(t, err)
	assert.Equal(t, address.ClassController, a.Class())
	assert.False(t, a.IsBroadcast())
	assert.False(t, a.IsNull())
}

func TestParseSentinels(t *testing.T) {
	b, err := address.Parse(string(address.Broadcast))
	require.NoError(t, err)
	assert.True(t, b.IsBroadcast())

	n, err := address.Parse(string(address.Null))
	require.NoError(t, err)
	assert.True(t, n.IsNull())
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"01-123456",
		"01:1234567",
		"1:123456",
		"AB:123456",
	}
	for _, c := range cases {
		_, err := address.Parse(c)
		require.Error(t, err)
		kind, ok := ramseserr.Of(err)
		require.True(t, ok)
		assert.Equal(t, ramseserr.Malformed, kind)
	}
}

func TestParseRejectsOutOfRangeID(t *testing.T) {
	_, err := address.Parse("01:262143")
	require.Error(t, err)
}
