// Package message implements the mDNS wire format per RFC 1035/6762: header,
// question and resource-record sections, name compression, and per-rrtype
// rdata codecs.
//
// PRIMARY TECHNICAL AUTHORITY: RFC 1035 §3-4 (DNS wire format), RFC 6762
// (mDNS extensions: cache-flush bit, QU bit, legacy unicast).
package message

import (
	"encoding/binary"

	"github.com/onoffswitch/beacon/internal/errors"
	"github.com/onoffswitch/beacon/internal/protocol"
)

// Header is the 12-byte DNS message header per RFC 1035 §4.1.1.
type Header struct {
	ID      uint16
	Flags   uint16
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// IsQuery reports whether the QR bit is clear.
func (h Header) IsQuery() bool { return h.Flags&protocol.FlagQR == 0 }

// IsResponse reports whether the QR bit is set.
func (h Header) IsResponse() bool { return h.Flags&protocol.FlagQR != 0 }

// RCODE extracts the response code (bits 0-3).
func (h Header) RCODE() uint8 { return uint8(h.Flags & protocol.RcodeMask) }

// OPCODE extracts the operation code (bits 11-14).
func (h Header) OPCODE() uint8 {
	return uint8((h.Flags >> protocol.OpcodeShift) & protocol.OpcodeMask)
}

func encodeHeader(buf []byte, h Header) []byte {
	var b [12]byte
	binary.BigEndian.PutUint16(b[0:2], h.ID)
	binary.BigEndian.PutUint16(b[2:4], h.Flags)
	binary.BigEndian.PutUint16(b[4:6], h.QDCount)
	binary.BigEndian.PutUint16(b[6:8], h.ANCount)
	binary.BigEndian.PutUint16(b[8:10], h.NSCount)
	binary.BigEndian.PutUint16(b[10:12], h.ARCount)
	return append(buf, b[:]...)
}

func decodeHeader(msg []byte) (Header, error) {
	if len(msg) < 12 {
		return Header{}, &errors.WireFormatError{
			Operation: "decode header",
			Offset:    0,
			Message:   "message shorter than 12-byte header",
		}
	}
	return Header{
		ID:      binary.BigEndian.Uint16(msg[0:2]),
		Flags:   binary.BigEndian.Uint16(msg[2:4]),
		QDCount: binary.BigEndian.Uint16(msg[4:6]),
		ANCount: binary.BigEndian.Uint16(msg[6:8]),
		NSCount: binary.BigEndian.Uint16(msg[8:10]),
		ARCount: binary.BigEndian.Uint16(msg[10:12]),
	}, nil
}

// Question is a DNS question-section entry per RFC 1035 §4.1.2. QClass's top
// bit doubles as the mDNS "QU" unicast-response-preferred bit per RFC 6762
// §5.4.
type Question struct {
	Name  string
	Type  protocol.RRType
	Class protocol.Class
	QU    bool
}

// RR is a wire-level resource record entry per RFC 1035 §4.1.3: a parsed
// name/type/class/ttl/rdata tuple with no domain semantics attached. The
// records package builds its ResourceRecord model on top of this.
type RR struct {
	Name        string
	Type        protocol.RRType
	Class       protocol.Class
	CacheFlush  bool
	TTL         uint32
	RData       []byte
	RDataOffset int // offset of RDATA within the source buffer, for name-aware rdata decoding
}

// Packet is a fully decoded/encodable mDNS message.
type Packet struct {
	Header      Header
	Questions   []Question
	Answers     []RR
	Authorities []RR
	Additionals []RR

	// Raw holds the source buffer when this Packet came from Decode, so
	// name-valued rdata (PTR, SRV, NSEC) can be decoded with RR.RDataOffset
	// following compression pointers back into the same message.
	Raw []byte
}

// NewQuery builds an outbound query packet. id is normally 0 for multicast
// queries per RFC 6762 §18.1.
func NewQuery(id uint16) *Packet {
	return &Packet{Header: Header{ID: id}}
}

// NewResponse builds an outbound response packet with QR=AA=1 per RFC 6762
// §18.
func NewResponse(id uint16) *Packet {
	return &Packet{Header: Header{ID: id, Flags: protocol.FlagQR | protocol.FlagAA}}
}

// AddQuestion appends a question and keeps QDCount in sync.
func (p *Packet) AddQuestion(q Question) {
	p.Questions = append(p.Questions, q)
	p.Header.QDCount = uint16(len(p.Questions))
}

// AddAnswer appends an answer record and keeps ANCount in sync.
func (p *Packet) AddAnswer(rr RR) {
	p.Answers = append(p.Answers, rr)
	p.Header.ANCount = uint16(len(p.Answers))
}

// AddAuthority appends an authority record (used during probing, RFC 6762
// §8.2) and keeps NSCount in sync.
func (p *Packet) AddAuthority(rr RR) {
	p.Authorities = append(p.Authorities, rr)
	p.Header.NSCount = uint16(len(p.Authorities))
}

// AddAdditional appends an additional record and keeps ARCount in sync.
func (p *Packet) AddAdditional(rr RR) {
	p.Additionals = append(p.Additionals, rr)
	p.Header.ARCount = uint16(len(p.Additionals))
}

// IsProbe reports whether p is a probe query: a query whose authority
// section is non-empty, per RFC 6762 §8.2.
func (p *Packet) IsProbe() bool {
	return p.Header.IsQuery() && len(p.Authorities) > 0
}

// IsAnswer reports whether p is a response carrying at least one answer
// record.
func (p *Packet) IsAnswer() bool {
	return p.Header.IsResponse() && len(p.Answers) > 0
}

// IsLegacy reports whether p should be treated as a "legacy" unicast query
// per RFC 6762 §6.7: a query whose source port is not 5353. The interface
// engine supplies srcPort from the UDP envelope since it is not part of the
// DNS payload itself.
func IsLegacy(srcPort int) bool {
	return srcPort != protocol.Port
}

// Equals reports whether two packets are wire-equivalent: same questions and
// same answer set irrespective of ordering.
func (p *Packet) Equals(other *Packet) bool {
	if len(p.Questions) != len(other.Questions) || len(p.Answers) != len(other.Answers) {
		return false
	}
	for _, q := range p.Questions {
		if !containsQuestion(other.Questions, q) {
			return false
		}
	}
	for _, a := range p.Answers {
		if !containsRR(other.Answers, a) {
			return false
		}
	}
	return true
}

func containsQuestion(qs []Question, q Question) bool {
	for _, c := range qs {
		if c.Name == q.Name && c.Type == q.Type && c.Class == q.Class {
			return true
		}
	}
	return false
}

func containsRR(rrs []RR, rr RR) bool {
	for _, c := range rrs {
		if c.Name == rr.Name && c.Type == rr.Type && string(c.RData) == string(rr.RData) {
			return true
		}
	}
	return false
}

// Split divides p's answer set into as many packets as needed, each with at
// most maxAnswers answers, for when the encoded size would otherwise exceed
// a transport's MTU (EMSGSIZE), per RFC 6762 §17 / spec §4.4. Every fragment
// but the last has the TC bit set. Questions, if any, are duplicated onto
// every fragment since each fragment must stand as a valid message on its
// own; authority and additional records are not copied.
func (p *Packet) Split(maxAnswers int) []*Packet {
	if maxAnswers <= 0 || len(p.Answers) <= maxAnswers {
		return []*Packet{p}
	}
	var out []*Packet
	for start := 0; start < len(p.Answers); start += maxAnswers {
		end := start + maxAnswers
		if end > len(p.Answers) {
			end = len(p.Answers)
		}
		frag := &Packet{Header: p.Header, Questions: p.Questions}
		frag.Answers = append([]RR(nil), p.Answers[start:end]...)
		frag.Header.ANCount = uint16(len(frag.Answers))
		frag.Header.QDCount = uint16(len(frag.Questions))
		if end < len(p.Answers) {
			frag.Header.Flags |= protocol.FlagTC
		}
		out = append(out, frag)
	}
	return out
}
