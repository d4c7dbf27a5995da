package dispatch_test

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramses-rf/ramses-go/address"
	"github.com/ramses-rf/ramses-go/binding"
	"github.com/ramses-rf/ramses-go/clog"
	"github.com/ramses-rf/ramses-go/devices"
	"github.com/ramses-rf/ramses-go/dispatch"
	"github.com/ramses-rf/ramses-go/fingerprint"
	"github.com/ramses-rf/ramses-go/frame"
	"github.com/ramses-rf/ramses-go/packet"
	"github.com/ramses-rf/ramses-go/protocol"
)

const vascoIdentity = "000001C8400F0166FFFFFFFFFFFF0E0207E3564D4E2D31374C4D503031000000000000000000"

func newPacket(t *testing.T, verb frame.Verb, src address.Address, code, payloadHex string) *packet.Packet {
	t.Helper()
	payload, err := hex.DecodeString(payloadHex)
	require.NoError(t, err)
	return packet.New(&frame.Frame{
		Verb: verb, Src: src, Dst: address.Broadcast, Code: code,
		Length: len(payload), Payload: payload,
	})
}

func TestDeliverObservesIdentityFrom10E0(t *testing.T) {
	reg := devices.NewRegistry()
	table := fingerprint.NewTable()
	d := dispatch.New(reg, table, clog.NewLogger("test"))

	addr := address.MustParse("29:091138")
	d.Deliver(newPacket(t, frame.I, addr, "10E0", vascoIdentity))

	rec, ok := reg.Lookup(addr)
	require.True(t, ok)
	assert.Equal(t, fingerprint.ClassREM, rec.Class)
}

func TestDeliverRoutesToRegisteredBindings(t *testing.T) {
	reg := devices.NewRegistry()
	table := fingerprint.NewTable()
	d := dispatch.New(reg, table, clog.NewLogger("test"))

	self := address.MustParse("32:022222")
	eng, err := protocol.NewEngine(protocol.DefaultConfig(), noopTransport{}, self, clog.NewLogger("eng"))
	require.NoError(t, err)
	bc := binding.NewRespondent(eng, protocol.DefaultConfig(), clog.NewLogger("bind"), binding.RespondentParams{
		Self: self, AcceptCodes: []string{"22F1"},
	})
	d.RegisterBinding(bc)

	tender := address.MustParse("29:091138")
	payload, err := hex.DecodeString("00" + "1FC9" + "7FFFFF" + "00" + "22F1" + "7C91E2")
	require.NoError(t, err)
	d.Deliver(newPacket(t, frame.I, tender, "1FC9", hex.EncodeToString(payload)))

	// Deliver is routing-only; BindContext.Run isn't running here, so the
	// push just lands in the inbox without advancing state.
	assert.Equal(t, binding.IDLE, bc.State())

	d.RemoveBinding(bc)
}

func TestDeliverFansOutToSubscribersInOrder(t *testing.T) {
	reg := devices.NewRegistry()
	table := fingerprint.NewTable()
	d := dispatch.New(reg, table, clog.NewLogger("test"))

	var order []int
	d.Subscribe(func(*packet.Packet) { order = append(order, 1) })
	d.Subscribe(func(*packet.Packet) { order = append(order, 2) })

	d.Deliver(newPacket(t, frame.I, address.MustParse("29:091138"), "2309", "0001F4"))

	assert.Equal(t, []int{1, 2}, order)
}

type noopTransport struct{}

func (noopTransport) ReadFrame(ctx context.Context) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}
func (noopTransport) WriteFrame(ctx context.Context, line string) error { return nil }
func (noopTransport) Close() error                                      { return nil }
