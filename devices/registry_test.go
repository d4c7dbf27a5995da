package devices_test

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramses-rf/ramses-go/address"
	"github.com/ramses-rf/ramses-go/devices"
	"github.com/ramses-rf/ramses-go/fingerprint"
)

func TestObserveThenLookup(t *testing.T) {
	reg := devices.NewRegistry()
	addr := address.MustParse("29:091138")

	b, err := hex.DecodeString("000001C8400F0166FFFFFFFFFFFF0E0207E3564D4E2D31374C4D503031000000000000000000")
	require.NoError(t, err)
	id, err := fingerprint.ParseIdentity(b)
	require.NoError(t, err)

	reg.Observe(addr, id, fingerprint.ClassREM)

	rec, ok := reg.Lookup(addr)
	require.True(t, ok)
	assert.Equal(t, fingerprint.ClassREM, rec.Class)
	assert.Equal(t, byte(0x66), rec.Identity.OEMCode)
}

func TestOEMCodeDefaultsWhenUnknown(t *testing.T) {
	reg := devices.NewRegistry()
	assert.Equal(t, fingerprint.DefaultOEMCode, reg.OEMCode(address.MustParse("32:022222")))
}

func TestRecordBindingThenLookup(t *testing.T) {
	reg := devices.NewRegistry()
	addr := address.MustParse("29:091138")
	peer := address.MustParse("32:022222")

	reg.RecordBinding(addr, peer, 0x21, nil)
	rec, ok := reg.Lookup(addr)
	require.True(t, ok)
	assert.Equal(t, peer, rec.BindingPeer)
	assert.Equal(t, byte(0x21), rec.BindingIdx)
	assert.NoError(t, rec.BindingErr)
}
