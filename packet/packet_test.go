package packet_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramses-rf/ramses-go/address"
	"github.com/ramses-rf/ramses-go/frame"
	"github.com/ramses-rf/ramses-go/packet"
)

func TestHdrCtxDeterminism(t *testing.T) {
	mk := func(code string, verb frame.Verb, b0 byte) *packet.Packet {
		f := &frame.Frame{
			Verb:    verb,
			Src:     address.MustParse("01:123456"),
			Dst:     address.MustParse("--:------"),
			Code:    code,
			Length:  2,
			Payload: []byte{b0, 0x01},
		}
		return packet.New(f)
	}
	a := mk("22F1", frame.I, 0x00)
	b := mk("22F1", frame.I, 0x00)
	assert.Equal(t, a.Hdr, b.Hdr)

	c := mk("22F1", frame.I, 0x01)
	assert.NotEqual(t, a.Hdr, c.Hdr)
}

func TestCtx10E0IsFixed(t *testing.T) {
	f := &frame.Frame{
		Verb:    frame.I,
		Src:     address.MustParse("32:022222"),
		Dst:     address.Broadcast,
		Code:    "10E0",
		Length:  1,
		Payload: []byte{0x00},
	}
	p := packet.New(f)
	assert.Equal(t, "True", p.Ctx)
	assert.Equal(t, "10E0|I|True", p.Hdr)
}

func TestReplyHdrRQExpectsRP(t *testing.T) {
	cmd := packet.Command{
		Verb:    frame.RQ,
		Code:    "10E0",
		Payload: []byte{0x00},
	}
	hdr, ok := packet.ReplyHdr(cmd)
	require.True(t, ok)
	assert.Equal(t, "10E0|RP|True", hdr)
}

func TestReplyHdrIHasNoDefaultReply(t *testing.T) {
	cmd := packet.Command{Verb: frame.I, Code: "22F1", Payload: []byte{0x00}}
	_, ok := packet.ReplyHdr(cmd)
	assert.False(t, ok)
}

func TestBuildTenderMandatoryTripletAndSelfAdvertise(t *testing.T) {
	src := address.MustParse("29:091138")
	oem := byte(0x66)
	cmd, err := packet.BuildTender(src, []packet.Triplet{
		{Idx: 0x00, Code: "22F1", Addr: src},
		{Idx: 0x00, Code: "22F3", Addr: src},
	}, &oem)
	require.NoError(t, err)
	assert.Equal(t, frame.I, cmd.Verb)
	assert.Equal(t, 24, len(cmd.Payload)) // 4 triplets * 6 bytes
}

func TestBuildTenderRejectsForeignAddr(t *testing.T) {
	src := address.MustParse("29:091138")
	other := address.MustParse("29:091139")
	_, err := packet.BuildTender(src, []packet.Triplet{
		{Idx: 0x00, Code: "22F1", Addr: other},
	}, nil)
	require.Error(t, err)
}

func TestRegistryValidates1FC9(t *testing.T) {
	r := packet.NewRegistry()
	err := r.Validate(packet.Command{Code: "1FC9", Payload: []byte{0x00, 0x1F, 0xC9}})
	require.Error(t, err)

	err = r.Validate(packet.Command{Code: "1FC9", Payload: make([]byte, 6)})
	require.NoError(t, err)
}
