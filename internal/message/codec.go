package message

import (
	"encoding/binary"

	"github.com/onoffswitch/beacon/internal/errors"
	"github.com/onoffswitch/beacon/internal/protocol"
)

// Encode serializes p to wire format, compressing names across the whole
// message (question names, answer owner names, and any name-valued rdata
// all share one compression table, per RFC 1035 §4.1.4).
func Encode(p *Packet) ([]byte, error) {
	buf := make([]byte, 0, 512)
	buf = encodeHeader(buf, p.Header)
	c := newNameCompressor()

	var err error
	for _, q := range p.Questions {
		buf, err = c.encodeName(buf, q.Name)
		if err != nil {
			return nil, err
		}
		class := uint16(q.Class)
		if q.QU {
			class |= uint16(protocol.ClassCacheFlushBit)
		}
		buf = appendUint16(buf, uint16(q.Type))
		buf = appendUint16(buf, class)
	}

	for _, rr := range p.Answers {
		if buf, err = encodeRR(c, buf, rr); err != nil {
			return nil, err
		}
	}
	for _, rr := range p.Authorities {
		if buf, err = encodeRR(c, buf, rr); err != nil {
			return nil, err
		}
	}
	for _, rr := range p.Additionals {
		if buf, err = encodeRR(c, buf, rr); err != nil {
			return nil, err
		}
	}

	if len(buf) > protocol.MaxPacketSize {
		return nil, &errors.ValidationError{Field: "packet", Message: "encoded message exceeds maximum packet size"}
	}
	return buf, nil
}

func encodeRR(c *nameCompressor, buf []byte, rr RR) ([]byte, error) {
	var err error
	buf, err = c.encodeName(buf, rr.Name)
	if err != nil {
		return nil, err
	}
	class := uint16(rr.Class)
	if rr.CacheFlush {
		class |= uint16(protocol.ClassCacheFlushBit)
	}
	buf = appendUint16(buf, uint16(rr.Type))
	buf = appendUint16(buf, class)
	buf = appendUint32(buf, rr.TTL)

	lenPos := len(buf)
	buf = appendUint16(buf, 0) // placeholder RDLENGTH
	rdataStart := len(buf)
	buf = append(buf, rr.RData...)
	binary.BigEndian.PutUint16(buf[lenPos:lenPos+2], uint16(len(buf)-rdataStart))
	return buf, nil
}

func appendUint16(buf []byte, v uint16) []byte {
	return append(buf, byte(v>>8), byte(v))
}

func appendUint32(buf []byte, v uint32) []byte {
	return append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// Decode parses a wire-format mDNS message per RFC 1035 §4.1.
func Decode(msg []byte) (*Packet, error) {
	h, err := decodeHeader(msg)
	if err != nil {
		return nil, err
	}
	p := &Packet{Header: h, Raw: msg}
	pos := 12

	for i := 0; i < int(h.QDCount); i++ {
		var q Question
		var name string
		name, pos, err = parseName(msg, pos)
		if err != nil {
			return nil, err
		}
		if pos+4 > len(msg) {
			return nil, &errors.WireFormatError{Operation: "decode question", Offset: pos, Message: "truncated question"}
		}
		qtype := binary.BigEndian.Uint16(msg[pos : pos+2])
		qclassRaw := binary.BigEndian.Uint16(msg[pos+2 : pos+4])
		pos += 4
		q = Question{
			Name:  name,
			Type:  protocol.RRType(qtype),
			Class: protocol.Class(qclassRaw) & protocol.ClassMask,
			QU:    qclassRaw&uint16(protocol.ClassCacheFlushBit) != 0,
		}
		p.Questions = append(p.Questions, q)
	}

	decodeSection := func(n int) ([]RR, error) {
		var rrs []RR
		for i := 0; i < n; i++ {
			rr, newPos, err := decodeRR(msg, pos)
			if err != nil {
				return nil, err
			}
			pos = newPos
			rrs = append(rrs, rr)
		}
		return rrs, nil
	}

	if p.Answers, err = decodeSection(int(h.ANCount)); err != nil {
		return nil, err
	}
	if p.Authorities, err = decodeSection(int(h.NSCount)); err != nil {
		return nil, err
	}
	if p.Additionals, err = decodeSection(int(h.ARCount)); err != nil {
		return nil, err
	}
	return p, nil
}

func decodeRR(msg []byte, pos int) (RR, int, error) {
	name, next, err := parseName(msg, pos)
	if err != nil {
		return RR{}, pos, err
	}
	pos = next
	if pos+10 > len(msg) {
		return RR{}, pos, &errors.WireFormatError{Operation: "decode record", Offset: pos, Message: "truncated record header"}
	}
	rtype := binary.BigEndian.Uint16(msg[pos : pos+2])
	classRaw := binary.BigEndian.Uint16(msg[pos+2 : pos+4])
	ttl := binary.BigEndian.Uint32(msg[pos+4 : pos+8])
	rdlen := binary.BigEndian.Uint16(msg[pos+8 : pos+10])
	pos += 10
	if pos+int(rdlen) > len(msg) {
		return RR{}, pos, &errors.WireFormatError{Operation: "decode record", Offset: pos, Message: "RDLENGTH exceeds message bounds"}
	}
	rdataOffset := pos
	rdata := append([]byte(nil), msg[pos:pos+int(rdlen)]...)
	pos += int(rdlen)

	return RR{
		Name:        name,
		Type:        protocol.RRType(rtype),
		Class:       protocol.Class(classRaw) & protocol.ClassMask,
		CacheFlush:  classRaw&uint16(protocol.ClassCacheFlushBit) != 0,
		TTL:         ttl,
		RData:       rdata,
		RDataOffset: rdataOffset,
	}, pos, nil
}
