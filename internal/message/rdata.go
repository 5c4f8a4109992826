package message

import (
	"encoding/binary"
	"net"

	"github.com/onoffswitch/beacon/internal/errors"
	"github.com/onoffswitch/beacon/internal/protocol"
)

// TXTPair is one key[=value] entry of a TXT record per RFC 6763 §6.3. Three
// forms are distinguished: Present (key=value), Empty (key= with an empty
// value), and Flag (bare key, no '=' at all).
type TXTPair struct {
	Key   string
	Value string
	Flag  bool // true: bare key, no '=' separator was present on the wire
}

// EncodeA encodes an IPv4 address as A rdata per RFC 1035 §3.4.1.
func EncodeA(ip net.IP) ([]byte, error) {
	v4 := ip.To4()
	if v4 == nil {
		return nil, &errors.ValidationError{Field: "A", Value: ip.String(), Message: "not an IPv4 address"}
	}
	return append([]byte(nil), v4...), nil
}

// DecodeA decodes A rdata into a net.IP.
func DecodeA(rdata []byte) (net.IP, error) {
	if len(rdata) != 4 {
		return nil, &errors.WireFormatError{Operation: "decode A", Message: "rdata must be 4 bytes"}
	}
	return net.IP(append([]byte(nil), rdata...)), nil
}

// EncodeAAAA encodes an IPv6 address as AAAA rdata per RFC 3596 §2.2.
func EncodeAAAA(ip net.IP) ([]byte, error) {
	v6 := ip.To16()
	if v6 == nil || ip.To4() != nil {
		return nil, &errors.ValidationError{Field: "AAAA", Value: ip.String(), Message: "not an IPv6 address"}
	}
	return append([]byte(nil), v6...), nil
}

// DecodeAAAA decodes AAAA rdata into a net.IP.
func DecodeAAAA(rdata []byte) (net.IP, error) {
	if len(rdata) != 16 {
		return nil, &errors.WireFormatError{Operation: "decode AAAA", Message: "rdata must be 16 bytes"}
	}
	return net.IP(append([]byte(nil), rdata...)), nil
}

// EncodePTR encodes a PTR target name, with compression against the rest of
// the message being built.
func EncodePTR(c *nameCompressor, buf []byte, target string) ([]byte, error) {
	return c.encodeName(buf, target)
}

// DecodePTR decodes a PTR target name. offset is the absolute offset of the
// rdata within msg, needed since the target may itself use compression
// pointing elsewhere in the message.
func DecodePTR(msg []byte, offset int) (target string, err error) {
	target, _, err = parseName(msg, offset)
	return target, err
}

// SRVData is the decoded form of an SRV record's rdata per RFC 2782.
type SRVData struct {
	Priority uint16
	Weight   uint16
	Port     uint16
	Target   string
}

// EncodeSRV encodes SRV rdata. The target name is compressed against the
// message under construction like any other name.
func EncodeSRV(c *nameCompressor, buf []byte, d SRVData) ([]byte, error) {
	var hdr [6]byte
	binary.BigEndian.PutUint16(hdr[0:2], d.Priority)
	binary.BigEndian.PutUint16(hdr[2:4], d.Weight)
	binary.BigEndian.PutUint16(hdr[4:6], d.Port)
	buf = append(buf, hdr[:]...)
	return c.encodeName(buf, d.Target)
}

// DecodeSRV decodes SRV rdata. msg/offset locate the rdata so the target
// name can follow compression pointers.
func DecodeSRV(msg []byte, offset int, rdata []byte) (SRVData, error) {
	if len(rdata) < 6 {
		return SRVData{}, &errors.WireFormatError{Operation: "decode SRV", Message: "rdata shorter than 6 bytes"}
	}
	target, _, err := parseName(msg, offset+6)
	if err != nil {
		return SRVData{}, err
	}
	return SRVData{
		Priority: binary.BigEndian.Uint16(rdata[0:2]),
		Weight:   binary.BigEndian.Uint16(rdata[2:4]),
		Port:     binary.BigEndian.Uint16(rdata[4:6]),
		Target:   target,
	}, nil
}

// EncodeTXT encodes TXT rdata as a sequence of length-prefixed character
// strings per RFC 6763 §6.1. An empty pair slice encodes as a single empty
// string per RFC 6763 §6.1 ("at least one... if there is no data, ... a
// single zero byte").
func EncodeTXT(pairs []TXTPair) []byte {
	if len(pairs) == 0 {
		return []byte{0}
	}
	var out []byte
	for _, p := range pairs {
		var s string
		switch {
		case p.Flag:
			s = p.Key
		default:
			s = p.Key + "=" + p.Value
		}
		if len(s) > 255 {
			s = s[:255]
		}
		out = append(out, byte(len(s)))
		out = append(out, s...)
	}
	return out
}

// DecodeTXT decodes TXT rdata back into key/value pairs.
func DecodeTXT(rdata []byte) ([]TXTPair, error) {
	var pairs []TXTPair
	pos := 0
	for pos < len(rdata) {
		length := int(rdata[pos])
		pos++
		if pos+length > len(rdata) {
			return nil, &errors.WireFormatError{Operation: "decode TXT", Offset: pos, Message: "truncated character-string"}
		}
		s := string(rdata[pos : pos+length])
		pos += length
		if s == "" {
			continue
		}
		eq := -1
		for i, ch := range s {
			if ch == '=' {
				eq = i
				break
			}
		}
		switch {
		case eq < 0:
			pairs = append(pairs, TXTPair{Key: s, Flag: true})
		default:
			pairs = append(pairs, TXTPair{Key: s[:eq], Value: s[eq+1:]})
		}
	}
	return pairs, nil
}

// EncodeNSEC encodes an NSEC record's rdata per RFC 4034 §4.1, restricted to
// the block-0 (types 0-255) bitmap as spec'd: "types > 255" are out of
// scope. nextName is the owner name itself (mDNS uses NSEC only to assert
// "this name exists with these types", never zone-walking chains, per
// RFC 6762 §6.1).
func EncodeNSEC(c *nameCompressor, buf []byte, nextName string, types []protocol.RRType) ([]byte, error) {
	buf, err := c.encodeName(buf, nextName)
	if err != nil {
		return nil, err
	}
	var bitmap [32]byte
	maxBit := 0
	for _, t := range types {
		if t > 255 {
			continue // block > 0, out of scope
		}
		byteIdx := t / 8
		bitmap[byteIdx] |= 1 << (7 - t%8)
		if int(byteIdx) > maxBit {
			maxBit = int(byteIdx)
		}
	}
	windowLen := maxBit + 1
	buf = append(buf, 0x00, byte(windowLen))
	buf = append(buf, bitmap[:windowLen]...)
	return buf, nil
}

// DecodeNSEC decodes an NSEC record's rdata, skipping any window block other
// than block 0 or any block whose length exceeds 32 bytes, per spec.
func DecodeNSEC(msg []byte, offset int, rdata []byte) (nextName string, types []protocol.RRType, err error) {
	nextName, nameEnd, err := parseName(msg, offset)
	if err != nil {
		return "", nil, err
	}
	bitmapStart := nameEnd - offset
	pos := bitmapStart
	for pos+2 <= len(rdata) {
		block := rdata[pos]
		length := int(rdata[pos+1])
		pos += 2
		if pos+length > len(rdata) {
			return "", nil, &errors.WireFormatError{Operation: "decode NSEC", Message: "truncated type bitmap window"}
		}
		if block != 0 || length > 32 {
			pos += length
			continue
		}
		window := rdata[pos : pos+length]
		for i, b := range window {
			for bit := 0; bit < 8; bit++ {
				if b&(1<<(7-bit)) != 0 {
					types = append(types, protocol.RRType(i*8+bit))
				}
			}
		}
		pos += length
	}
	return nextName, types, nil
}
