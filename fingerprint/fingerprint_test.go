package fingerprint_test

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramses-rf/ramses-go/fingerprint"
)

// vascoS1Payload is the 10E0 ratify payload from spec §8 scenario S1.
const vascoS1Payload = "000001C8400F0166FFFFFFFFFFFF0E0207E3564D4E2D31374C4D503031000000000000000000"

func TestParseIdentityVascoSample(t *testing.T) {
	b, err := hex.DecodeString(vascoS1Payload)
	require.NoError(t, err)

	id, err := fingerprint.ParseIdentity(b)
	require.NoError(t, err)

	assert.Equal(t, byte(0x66), id.OEMCode)
	assert.Equal(t, "VMN-17LMP01", id.Model)
	assert.Equal(t, 2019, id.FirmwareDate.Year())
}

func TestParseIdentityRejectsShortPayload(t *testing.T) {
	_, err := fingerprint.ParseIdentity([]byte{0x00, 0x01})
	require.Error(t, err)
}

func TestClassifyUnknownDefaultsUnknown(t *testing.T) {
	table := fingerprint.NewTable()
	class := table.Classify(fingerprint.Identity{ManufacturerID: 0xFFFF, ProductID: 0xFFFF, OEMCode: 0xFF})
	assert.Equal(t, fingerprint.ClassUnknown, class)
}

func TestClassifyVasco(t *testing.T) {
	table := fingerprint.NewTable()
	rem := table.Classify(fingerprint.Identity{ManufacturerID: 0x0000, ProductID: 0x01C8, OEMCode: 0x66})
	assert.Equal(t, fingerprint.ClassREM, rem)
}

func TestClassifyVascoSample(t *testing.T) {
	b, err := hex.DecodeString(vascoS1Payload)
	require.NoError(t, err)
	id, err := fingerprint.ParseIdentity(b)
	require.NoError(t, err)

	table := fingerprint.NewTable()
	assert.Equal(t, fingerprint.ClassREM, table.Classify(*id))
}
