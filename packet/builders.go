package packet

import (
	"fmt"

	"github.com/ramses-rf/ramses-go/address"
	"github.com/ramses-rf/ramses-go/frame"
	"github.com/ramses-rf/ramses-go/ramseserr"
)

// Triplet is one idx|code|addr triplet, the unit the 1FC9 binding phases
// are built from. See spec §4.6.
type Triplet struct {
	Idx  byte
	Code string
	Addr address.Address
}

func (t Triplet) encode() ([]byte, error) {
	if len(t.Code) != 4 {
		return nil, ramseserr.WithField(ramseserr.Malformed, "triplet.code", fmt.Errorf("code must be 4 hex chars, got %q", t.Code))
	}
	var codeBytes [2]byte
	if _, err := fmt.Sscanf(t.Code, "%02X%02X", &codeBytes[0], &codeBytes[1]); err != nil {
		return nil, ramseserr.WithField(ramseserr.Malformed, "triplet.code", err)
	}
	addrBytes, err := encodeAddr(t.Addr)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 6)
	out = append(out, t.Idx, codeBytes[0], codeBytes[1])
	out = append(out, addrBytes...)
	return out, nil
}

// encodeAddr packs a "TT:NNNNNN" address into its 3-byte wire form: the
// class tag as a hex byte and the 18-bit numeric id big-endian across the
// remaining bits, matching how RAMSES addresses are carried inside 1FC9
// triplets and 10E0 identity blocks.
func encodeAddr(a address.Address) ([]byte, error) {
	if len(a) != 9 {
		return nil, ramseserr.WithField(ramseserr.Malformed, "address", fmt.Errorf("not a valid address: %q", a))
	}
	var class uint8
	var id uint32
	if _, err := fmt.Sscanf(string(a), "%02d:%06d", &class, &id); err != nil {
		return nil, ramseserr.WithField(ramseserr.Malformed, "address", err)
	}
	packed := uint32(class)<<18 | (id & 0x3FFFF)
	return []byte{byte(packed >> 16), byte(packed >> 8), byte(packed)}, nil
}

// BuildTender builds the I/1FC9 TENDER command a supplicant broadcasts to
// offer the codes it wants to publish at idx. It always prepends the
// mandatory (00, 1FC9, src) triplet and optionally appends (oemCode, 10E0,
// src) self-advertisement, per spec §4.6. Every caller-supplied triplet
// must share src with the supplicant itself -- the codec asserts this.
func BuildTender(src address.Address, offerCodes []Triplet, oemCode *byte) (Command, error) {
	payload := make([]byte, 0, 6*(len(offerCodes)+2))

	mandatory := Triplet{Idx: 0x00, Code: "1FC9", Addr: src}
	b, err := mandatory.encode()
	if err != nil {
		return Command{}, err
	}
	payload = append(payload, b...)

	for _, t := range offerCodes {
		if t.Addr != src {
			return Command{}, ramseserr.Newf(ramseserr.Malformed, "tender triplet for %s must share supplicant src %s", t.Code, src)
		}
		b, err := t.encode()
		if err != nil {
			return Command{}, err
		}
		payload = append(payload, b...)
	}

	if oemCode != nil {
		b, err := (Triplet{Idx: *oemCode, Code: "10E0", Addr: src}).encode()
		if err != nil {
			return Command{}, err
		}
		payload = append(payload, b...)
	}

	return Command{
		Verb:             frame.I,
		Src:              src,
		Dst:              address.Null,
		Code:             "1FC9",
		Payload:          payload,
		ExpectedReplyHdr: hdrOf("1FC9", string(frame.W), "00"),
	}, nil
}

// BuildAccept builds the W/1FC9 ACCEPT a respondent sends back to the
// supplicant, declaring the triplets (idx, code, resp address) it will
// consume.
func BuildAccept(respondent, supplicant address.Address, accepts []Triplet) (Command, error) {
	payload := make([]byte, 0, 6*len(accepts))
	for _, t := range accepts {
		if t.Addr != respondent {
			return Command{}, ramseserr.Newf(ramseserr.Malformed, "accept triplet for %s must share respondent addr %s", t.Code, respondent)
		}
		b, err := t.encode()
		if err != nil {
			return Command{}, err
		}
		payload = append(payload, b...)
	}
	return Command{
		Verb:    frame.W,
		Src:     respondent,
		Dst:     supplicant,
		Code:    "1FC9",
		Payload: payload,
		NoReply: true,
	}, nil
}

// BuildAffirm builds the I/1FC9 AFFIRM a supplicant sends to confirm the
// binding, carrying the single idx byte declared by the respondent's
// ACCEPT. Per spec §4.7 Open Questions, a full offer echo is also accepted
// on reception; this builder only ever emits the one-byte form.
func BuildAffirm(supplicant, respondent address.Address, idx byte) Command {
	return Command{
		Verb:    frame.I,
		Src:     supplicant,
		Dst:     respondent,
		Code:    "1FC9",
		Payload: []byte{idx},
	}
}

// BuildRatify builds the I/10E0 RATIFY broadcast a supplicant may send to
// publish its identity after AFFIRM.
func BuildRatify(src address.Address, identity []byte) Command {
	return Command{
		Verb:    frame.I,
		Src:     src,
		Dst:     address.Broadcast,
		Code:    "10E0",
		Payload: identity,
	}
}

// BuildFingerprintRequest builds an RQ/10E0 probe used to elicit a device's
// identity block when none has been observed spontaneously.
func BuildFingerprintRequest(src, dst address.Address) Command {
	return Command{
		Verb:    frame.RQ,
		Src:     src,
		Dst:     dst,
		Code:    "10E0",
		Payload: []byte{0x00},
	}
}

// DecodeTriplets splits a 1FC9 payload back into its idx|code|addr triplets.
// Used by the binding FSM to read a received TENDER or ACCEPT.
func DecodeTriplets(payload []byte) ([]Triplet, error) {
	if len(payload)%6 != 0 {
		return nil, ramseserr.Newf(ramseserr.Malformed, "1FC9 payload must be a multiple of 6 bytes, got %d", len(payload))
	}
	out := make([]Triplet, 0, len(payload)/6)
	for i := 0; i < len(payload); i += 6 {
		addr, err := decodeAddr(payload[i+3 : i+6])
		if err != nil {
			return nil, err
		}
		out = append(out, Triplet{
			Idx:  payload[i],
			Code: fmt.Sprintf("%02X%02X", payload[i+1], payload[i+2]),
			Addr: addr,
		})
	}
	return out, nil
}

// decodeAddr is encodeAddr's inverse.
func decodeAddr(b []byte) (address.Address, error) {
	if len(b) != 3 {
		return "", ramseserr.WithField(ramseserr.Malformed, "address", fmt.Errorf("address field must be 3 bytes, got %d", len(b)))
	}
	packed := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	class := packed >> 18
	id := packed & 0x3FFFF
	return address.Parse(fmt.Sprintf("%02d:%06d", class, id))
}

// Validator checks a constructed Command's payload shape for one code.
type Validator func(Command) error

// Registry is the closed registry of per-code command validators named by
// spec §4.3 ("a registry of code builders (one per supported code)").
// Builders above construct well-formed Commands directly; Registry lets
// callers that assemble a Command another way (e.g. from a CLI) validate
// it against the same rules before it reaches the Protocol FSM.
type Registry struct {
	validators map[string]Validator
}

// NewRegistry returns a Registry pre-populated with validators for every
// code this package's builders support.
func NewRegistry() *Registry {
	r := &Registry{validators: make(map[string]Validator)}
	r.Register("1FC9", validate1FC9)
	r.Register("10E0", validate10E0)
	return r
}

// Register adds or replaces the validator for code.
func (r *Registry) Register(code string, v Validator) {
	r.validators[code] = v
}

// Validate runs the registered validator for cmd.Code, if any. An
// unregistered code is not an error here -- spec §7 treats UNKNOWN_CODE as
// non-fatal at the higher layers, raw payload preserved.
func (r *Registry) Validate(cmd Command) error {
	v, ok := r.validators[cmd.Code]
	if !ok {
		return nil
	}
	return v(cmd)
}

func validate1FC9(cmd Command) error {
	if len(cmd.Payload) == 1 {
		return nil // AFFIRM: a single idx byte, as BuildAffirm emits
	}
	if len(cmd.Payload)%6 != 0 || len(cmd.Payload) == 0 {
		return ramseserr.Newf(ramseserr.Malformed, "1FC9 payload must be a non-empty multiple of 6 bytes (triplets), got %d", len(cmd.Payload))
	}
	return nil
}

func validate10E0(cmd Command) error {
	if cmd.Verb == frame.RQ {
		return nil // bare probe, no fixed shape required
	}
	if len(cmd.Payload) < 7 {
		return ramseserr.Newf(ramseserr.Malformed, "10E0 identity payload must be at least 7 bytes, got %d", len(cmd.Payload))
	}
	return nil
}
