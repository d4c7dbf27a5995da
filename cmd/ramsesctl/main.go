// Command ramsesctl is the minimal CLI surface spec.md §6 allows: send a
// single command, run one binding handshake, or listen and print traffic.
// It is a thin shell around protocol.Engine and binding.BindContext --
// nothing here belongs in the core.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/ramses-rf/ramses-go/address"
	"github.com/ramses-rf/ramses-go/binding"
	"github.com/ramses-rf/ramses-go/clog"
	"github.com/ramses-rf/ramses-go/devices"
	"github.com/ramses-rf/ramses-go/dispatch"
	"github.com/ramses-rf/ramses-go/fingerprint"
	"github.com/ramses-rf/ramses-go/frame"
	"github.com/ramses-rf/ramses-go/packet"
	"github.com/ramses-rf/ramses-go/protocol"
	"github.com/ramses-rf/ramses-go/ramseserr"
	"github.com/ramses-rf/ramses-go/transport"
	"github.com/ramses-rf/ramses-go/transport/mqtt"
	"github.com/ramses-rf/ramses-go/transport/replay"
	"github.com/ramses-rf/ramses-go/transport/serialport"
)

// exit codes, spec §6.
const (
	exitOK             = 0
	exitUsage          = 2
	exitTransportFault = 3
	exitBindingFailed  = 4
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitUsage)
	}

	var err error
	switch os.Args[1] {
	case "send":
		err = runSend(os.Args[2:])
	case "bind":
		err = runBind(os.Args[2:])
	case "listen":
		err = runListen(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		os.Exit(exitOK)
	default:
		fmt.Fprintf(os.Stderr, "ramsesctl: unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(exitUsage)
	}
	if err == nil {
		os.Exit(exitOK)
	}

	fmt.Fprintf(os.Stderr, "ramsesctl: %v\n", err)
	if kind, ok := ramseserr.Of(err); ok {
		switch kind {
		case ramseserr.TransportFault:
			os.Exit(exitTransportFault)
		case ramseserr.BindingFailed:
			os.Exit(exitBindingFailed)
		}
	}
	os.Exit(exitUsage)
}

func usage() {
	fmt.Fprintln(os.Stderr, "ramsesctl - a minimal RAMSES II runtime client.")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage: ramsesctl <send|bind|listen> [flags]")
	fmt.Fprintln(os.Stderr, "Run 'ramsesctl <command> -h' for flags specific to that command.")
}

// transportFlags is the set of flags every subcommand shares for choosing
// and opening a transport.
type transportFlags struct {
	device     string
	mqttBroker string
	mqttBase   string
	replayFile string
	self       string
	readOnly   bool
}

func addTransportFlags(fs *pflag.FlagSet) *transportFlags {
	tf := &transportFlags{}
	fs.StringVar(&tf.device, "device", "", "serial device path, e.g. /dev/ttyUSB0")
	fs.StringVar(&tf.mqttBroker, "mqtt-broker", "", "MQTT broker URL, e.g. tcp://localhost:1883")
	fs.StringVar(&tf.mqttBase, "mqtt-base", "ramses", "MQTT topic base (rx/tx are <base>/rx, <base>/tx)")
	fs.StringVar(&tf.replayFile, "replay", "", "packet-log file to replay instead of a live transport")
	fs.StringVar(&tf.self, "self", "18:000730", "this runtime's own device address")
	fs.BoolVar(&tf.readOnly, "read-only", false, "listen-only; overridden by RAMSES_DISABLE_SENDING=1")
	return tf
}

func (tf *transportFlags) open() (transport.Transport, error) {
	switch {
	case tf.device != "":
		tr, err := serialport.Open(tf.device)
		if err != nil {
			return nil, ramseserr.Wrap(ramseserr.TransportFault, err)
		}
		return tr, nil
	case tf.mqttBroker != "":
		tr, err := mqtt.Open(mqtt.Config{Broker: tf.mqttBroker, ClientID: "ramsesctl", Base: tf.mqttBase})
		if err != nil {
			return nil, ramseserr.Wrap(ramseserr.TransportFault, err)
		}
		return tr, nil
	case tf.replayFile != "":
		f, err := os.Open(tf.replayFile)
		if err != nil {
			return nil, ramseserr.Wrap(ramseserr.TransportFault, err)
		}
		defer f.Close()
		tr, err := replay.Load(f)
		if err != nil {
			return nil, ramseserr.Wrap(ramseserr.TransportFault, err)
		}
		return tr, nil
	default:
		return nil, fmt.Errorf("one of --device, --mqtt-broker, or --replay is required")
	}
}

func (tf *transportFlags) engineConfig() protocol.Config {
	cfg := protocol.ConfigFromEnv()
	if tf.readOnly {
		cfg.ReadOnly = true
	}
	return cfg
}

func rootContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// runSend builds one Command from flags, submits it, and prints the hdr of
// the Packet Send resolves with: the reply for RQ/W, or the echoed outgoing
// frame for an I with no expected reply.
func runSend(args []string) error {
	fs := pflag.NewFlagSet("send", pflag.ContinueOnError)
	tf := addTransportFlags(fs)
	verbStr := fs.StringP("verb", "V", "RQ", "I, RQ, RP, or W")
	dst := fs.StringP("dst", "d", "", "destination address, e.g. 01:123456")
	code := fs.StringP("code", "c", "", "four hex digit command code, e.g. 2309")
	payloadHex := fs.StringP("payload", "p", "", "hex-encoded payload")
	timeout := fs.Duration("timeout", 3*time.Second, "reply timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *code == "" {
		return fmt.Errorf("--code is required")
	}

	verb, err := parseVerb(*verbStr)
	if err != nil {
		return err
	}
	dstAddr := address.Broadcast
	if *dst != "" {
		dstAddr, err = address.Parse(*dst)
		if err != nil {
			return err
		}
	}
	payload, err := hex.DecodeString(*payloadHex)
	if err != nil {
		return fmt.Errorf("--payload: %w", err)
	}

	selfAddr, err := address.Parse(tf.self)
	if err != nil {
		return err
	}
	tr, err := tf.open()
	if err != nil {
		return err
	}
	defer tr.Close()

	log := clog.NewDefaultLogger("ramsesctl")
	eng, err := protocol.NewEngine(tf.engineConfig(), tr, selfAddr, log)
	if err != nil {
		return err
	}

	ctx, cancel := rootContext()
	defer cancel()
	go eng.Run(ctx)

	reply, err := eng.Send(ctx, packet.Command{
		Verb: verb, Dst: dstAddr, Code: strings.ToUpper(*code), Payload: payload, Timeout: *timeout,
	})
	if err != nil {
		return err
	}
	if reply != nil {
		fmt.Println(reply.Hdr)
	}
	return nil
}

// runBind runs a single binding handshake to completion, as either role.
func runBind(args []string) error {
	fs := pflag.NewFlagSet("bind", pflag.ContinueOnError)
	tf := addTransportFlags(fs)
	role := fs.StringP("role", "r", "supplicant", "supplicant or respondent")
	codes := fs.StringSliceP("codes", "c", nil, "offer/accept codes, e.g. 2309,30C9")
	oemHex := fs.String("oem", "", "hex oem_code byte to advertise (supplicant only)")
	requireRatify := fs.Bool("require-ratify", false, "respondent: wait for a RATIFY after AFFIRM")
	waitTimeout := fs.Duration("wait", 0, "override T_wait")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if len(*codes) == 0 {
		return fmt.Errorf("--codes is required")
	}

	selfAddr, err := address.Parse(tf.self)
	if err != nil {
		return err
	}
	tr, err := tf.open()
	if err != nil {
		return err
	}
	defer tr.Close()

	log := clog.NewDefaultLogger("ramsesctl")
	cfg := tf.engineConfig()
	if *waitTimeout > 0 {
		cfg.BindWaitTimeout = *waitTimeout
	}
	eng, err := protocol.NewEngine(cfg, tr, selfAddr, log)
	if err != nil {
		return err
	}

	ctx, cancel := rootContext()
	defer cancel()
	go eng.Run(ctx)

	var bc *binding.BindContext
	switch *role {
	case "supplicant":
		triplets := make([]packet.Triplet, len(*codes))
		for i, c := range *codes {
			triplets[i] = packet.Triplet{Idx: byte(i), Code: strings.ToUpper(c), Addr: selfAddr}
		}
		var oem *byte
		if *oemHex != "" {
			b, err := hex.DecodeString(*oemHex)
			if err != nil || len(b) != 1 {
				return fmt.Errorf("--oem must be a single hex byte")
			}
			oem = &b[0]
		}
		bc = binding.NewSupplicant(eng, cfg, log, binding.SupplicantParams{
			Self: selfAddr, OfferCodes: triplets, OEMCode: oem,
		})
	case "respondent":
		accept := make([]string, len(*codes))
		for i, c := range *codes {
			accept[i] = strings.ToUpper(c)
		}
		bc = binding.NewRespondent(eng, cfg, log, binding.RespondentParams{
			Self: selfAddr, AcceptCodes: accept, RequireRatify: *requireRatify,
		})
	default:
		return fmt.Errorf("--role must be supplicant or respondent, got %q", *role)
	}

	eng.Subscribe(bc.Deliver)
	outcome := bc.Run(ctx)
	if outcome.Err != nil {
		return ramseserr.Wrap(ramseserr.BindingFailed, outcome.Err)
	}
	fmt.Printf("bound: peer=%s idx=%02X\n", outcome.Peer, outcome.Idx)
	return nil
}

// runListen opens a transport and prints every Packet the dispatcher sees,
// with no outbound traffic of its own.
func runListen(args []string) error {
	fs := pflag.NewFlagSet("listen", pflag.ContinueOnError)
	tf := addTransportFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	tf.readOnly = true

	selfAddr, err := address.Parse(tf.self)
	if err != nil {
		return err
	}
	tr, err := tf.open()
	if err != nil {
		return err
	}
	defer tr.Close()

	log := clog.NewDefaultLogger("ramsesctl")
	eng, err := protocol.NewEngine(tf.engineConfig(), tr, selfAddr, log)
	if err != nil {
		return err
	}

	reg := devices.NewRegistry()
	table := fingerprint.NewTable()
	disp := dispatch.New(reg, table, log)
	disp.Subscribe(func(p *packet.Packet) {
		fmt.Printf("%s %s %s %s %x\n", p.Frame.Verb, p.Frame.Src, p.Frame.Dst, p.Frame.Code, p.Frame.Payload)
	})
	eng.Subscribe(disp.Deliver)

	ctx, cancel := rootContext()
	defer cancel()
	if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
		return ramseserr.Wrap(ramseserr.TransportFault, err)
	}
	return nil
}

func parseVerb(s string) (frame.Verb, error) {
	switch strings.ToUpper(s) {
	case "I":
		return frame.I, nil
	case "RQ":
		return frame.RQ, nil
	case "RP":
		return frame.RP, nil
	case "W":
		return frame.W, nil
	default:
		return "", fmt.Errorf("--verb must be I, RQ, RP, or W, got %q", s)
	}
}
