package protocol_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramses-rf/ramses-go/address"
	"github.com/ramses-rf/ramses-go/clog"
	"github.com/ramses-rf/ramses-go/frame"
	"github.com/ramses-rf/ramses-go/packet"
	"github.com/ramses-rf/ramses-go/protocol"
	"github.com/ramses-rf/ramses-go/ramseserr"
)

// fakeTransport is an in-memory transport.Transport double: WriteFrame loops
// the line back onto the read side (simulating the radio echo) unless a
// test disables that, and lets tests inject additional inbound lines.
type fakeTransport struct {
	mu       sync.Mutex
	inbound  chan string
	echo     bool
	writes   []string
	closed   bool
}

func newFakeTransport(echo bool) *fakeTransport {
	return &fakeTransport{inbound: make(chan string, 32), echo: echo}
}

func (f *fakeTransport) ReadFrame(ctx context.Context) (string, error) {
	select {
	case line, ok := <-f.inbound:
		if !ok {
			return "", ramseserr.New(ramseserr.TransportFault)
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (f *fakeTransport) WriteFrame(ctx context.Context, line string) error {
	f.mu.Lock()
	f.writes = append(f.writes, line)
	f.mu.Unlock()
	if f.echo {
		f.inbound <- line
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.inbound)
	}
	return nil
}

func (f *fakeTransport) inject(line string) { f.inbound <- line }

func testConfig() protocol.Config {
	cfg := protocol.Config{
		EchoTimeout:  150 * time.Millisecond,
		ReplyTimeout: 500 * time.Millisecond,
		Retries:      2,
		SendQueueMax: 8,
	}
	_ = cfg.Valid()
	return cfg
}

func mustParse(t *testing.T, s string) address.Address {
	t.Helper()
	a, err := address.Parse(s)
	require.NoError(t, err)
	return a
}

// TestSendEchoOnlyCompletesOnEcho covers an I with no expected reply: Send
// resolves as soon as the transport echoes the outgoing line.
func TestSendEchoOnlyCompletesOnEcho(t *testing.T) {
	self := mustParse(t, "18:000730")
	dst := mustParse(t, "13:012345")
	tr := newFakeTransport(true)
	eng, err := protocol.NewEngine(testConfig(), tr, self, clog.Clog{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	res, err := eng.Send(ctx, packet.Command{
		Verb: frame.I, Src: self, Dst: dst, Code: "22F1", Payload: []byte{0x00},
	})
	require.NoError(t, err)
	require.NotNil(t, res)
}

// TestSendEchoTimeoutRetriesThenExhausts covers spec §8 S-style echo-loss:
// no echo ever arrives, so the engine resends up to its retry budget and
// then fails with RETRIES_EXHAUSTED.
func TestSendEchoTimeoutRetriesThenExhausts(t *testing.T) {
	self := mustParse(t, "18:000730")
	dst := mustParse(t, "13:012345")
	tr := newFakeTransport(false) // transport swallows every write, no echo
	cfg := testConfig()
	cfg.Retries = 1
	eng, err := protocol.NewEngine(cfg, tr, self, clog.Clog{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	_, err = eng.Send(ctx, packet.Command{
		Verb: frame.I, Src: self, Dst: dst, Code: "22F1", Payload: []byte{0x00},
	})
	require.Error(t, err)
	kind, ok := ramseserr.Of(err)
	require.True(t, ok)
	assert.Equal(t, ramseserr.RetriesExhausted, kind)

	tr.mu.Lock()
	n := len(tr.writes)
	tr.mu.Unlock()
	assert.Equal(t, cfg.Retries+1, n, "expected one write per attempt")
}

// TestSendAwaitsMatchingReply covers the RQ/RP correlation path: the engine
// must ignore an unrelated spontaneous frame and only resolve on the frame
// whose hdr matches the expected reply.
func TestSendAwaitsMatchingReply(t *testing.T) {
	self := mustParse(t, "18:000730")
	dst := mustParse(t, "13:012345")
	tr := newFakeTransport(true)
	eng, err := protocol.NewEngine(testConfig(), tr, self, clog.Clog{})
	require.NoError(t, err)

	var spontaneous []*packet.Packet
	var subMu sync.Mutex
	eng.Subscribe(func(p *packet.Packet) {
		subMu.Lock()
		spontaneous = append(spontaneous, p)
		subMu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	done := make(chan struct{})
	var result *packet.Packet
	var sendErr error
	go func() {
		result, sendErr = eng.Send(ctx, packet.Command{
			Verb: frame.RQ, Src: self, Dst: dst, Code: "22F1", Payload: []byte{0x00},
		})
		close(done)
	}()

	// give the echo a moment to land and the engine to move to AWAITING_REPLY
	time.Sleep(30 * time.Millisecond)
	// an unrelated spontaneous broadcast must not be mistaken for the reply
	tr.inject(unrelatedLine(t))
	// the actual reply, from dst back to self, same ctx byte
	tr.inject(replyLine(t, dst, self))

	<-done
	require.NoError(t, sendErr)
	require.NotNil(t, result)
	assert.Equal(t, "22F1", result.Frame.Code)

	subMu.Lock()
	defer subMu.Unlock()
	assert.Len(t, spontaneous, 1, "the unrelated frame should have been published, the reply should not")
}

// TestCancelMidWaitResolvesCancelled covers cooperative cancellation of an
// in-flight Transaction awaiting its reply.
func TestCancelMidWaitResolvesCancelled(t *testing.T) {
	self := mustParse(t, "18:000730")
	dst := mustParse(t, "13:012345")
	tr := newFakeTransport(true)
	cfg := testConfig()
	cfg.ReplyTimeout = 5 * time.Second
	eng, err := protocol.NewEngine(cfg, tr, self, clog.Clog{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	sendCtx, sendCancel := context.WithCancel(context.Background())
	defer sendCancel()

	done := make(chan struct{})
	var sendErr error
	go func() {
		_, sendErr = eng.Send(sendCtx, packet.Command{
			Verb: frame.RQ, Src: self, Dst: dst, Code: "22F1", Payload: []byte{0x00},
		})
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	sendCancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Send did not return after context cancellation")
	}
	assert.ErrorIs(t, sendErr, context.Canceled)
}

// TestReadOnlyRejectsSend covers spec §6's listen-only mode.
func TestReadOnlyRejectsSend(t *testing.T) {
	self := mustParse(t, "18:000730")
	tr := newFakeTransport(true)
	cfg := testConfig()
	cfg.ReadOnly = true
	eng, err := protocol.NewEngine(cfg, tr, self, clog.Clog{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	_, err = eng.Send(ctx, packet.Command{Verb: frame.I, Src: self, Code: "22F1", Payload: []byte{0x00}})
	require.Error(t, err)
	kind, ok := ramseserr.Of(err)
	require.True(t, ok)
	assert.Equal(t, ramseserr.ReadOnly, kind)
}

func unrelatedLine(t *testing.T) string {
	t.Helper()
	line, err := frame.Encode(&frame.Frame{
		Timestamp: time.Now(),
		Verb:      frame.I,
		Src:       mustParse(t, "01:098765"),
		Dst:       address.Broadcast,
		Announce:  address.Null,
		Code:      "1F09",
		Length:    1,
		Payload:   []byte{0x00},
	})
	require.NoError(t, err)
	return line
}

func replyLine(t *testing.T, src, dst address.Address) string {
	t.Helper()
	line, err := frame.Encode(&frame.Frame{
		Timestamp: time.Now(),
		Verb:      frame.RP,
		Src:       src,
		Dst:       dst,
		Announce:  address.Null,
		Code:      "22F1",
		Length:    2,
		Payload:   []byte{0x00, 0x01},
	})
	require.NoError(t, err)
	return line
}
