// Package records implements the resource-record domain model: a
// type-tagged variant over the rrtypes this library understands, identity
// hashing for cache/conflict purposes, and the lexicographic ordering used
// to resolve simultaneous probes per RFC 6762 §8.2.
package records

import (
	"bytes"
	"hash/fnv"
	"net"
	"sort"

	"github.com/onoffswitch/beacon/internal/errors"
	"github.com/onoffswitch/beacon/internal/message"
	"github.com/onoffswitch/beacon/internal/protocol"
)

// Record is a domain-level resource record: a decoded, typed view over a
// wire-level message.RR. Only one of the typed fields is meaningful,
// selected by Type; records of an rrtype this library doesn't know how to
// interpret structurally are carried in Opaque (spec: "record types outside
// {A, AAAA, PTR, SRV, TXT, NSEC}" are not decoded further).
type Record struct {
	Name  string
	Type  protocol.RRType
	Class protocol.Class
	TTL   uint32
	Flush bool // cache-flush bit, RFC 6762 §10.2

	A      net.IP
	AAAA   net.IP
	PTR    string
	SRV    message.SRVData
	TXT    []message.TXTPair
	NSEC   NSECData
	Opaque []byte
}

// NSECData is the decoded form of an NSEC record this library constructs:
// NextName is always the record's own owner name (mDNS NSEC never chains,
// RFC 6762 §6.1), and Types lists the rrtypes asserted present.
type NSECData struct {
	NextName string
	Types    []protocol.RRType
}

// FromRR converts a wire-level message.RR, decoded from packet msg at
// rr.RDataOffset, into a domain Record.
func FromRR(msg []byte, rr message.RR) (Record, error) {
	r := Record{
		Name:  rr.Name,
		Type:  rr.Type,
		Class: rr.Class,
		TTL:   rr.TTL,
		Flush: rr.CacheFlush,
	}
	var err error
	switch rr.Type {
	case protocol.TypeA:
		r.A, err = message.DecodeA(rr.RData)
	case protocol.TypeAAAA:
		r.AAAA, err = message.DecodeAAAA(rr.RData)
	case protocol.TypePTR:
		r.PTR, err = message.DecodePTR(msg, rr.RDataOffset)
	case protocol.TypeSRV:
		r.SRV, err = message.DecodeSRV(msg, rr.RDataOffset, rr.RData)
	case protocol.TypeTXT:
		r.TXT, err = message.DecodeTXT(rr.RData)
	case protocol.TypeNSEC:
		r.NSEC.NextName, r.NSEC.Types, err = message.DecodeNSEC(msg, rr.RDataOffset, rr.RData)
	default:
		r.Opaque = append([]byte(nil), rr.RData...)
	}
	if err != nil {
		return Record{}, err
	}
	return r, nil
}

// rdataBytes returns a canonical byte encoding of the record's type-specific
// data, used for identity hashing and equality — independent of any
// particular message's compression table.
func (r Record) rdataBytes() []byte {
	switch r.Type {
	case protocol.TypeA:
		return []byte(r.A.To4())
	case protocol.TypeAAAA:
		return []byte(r.AAAA.To16())
	case protocol.TypePTR:
		b, _ := encodeNameNoCompression(r.PTR)
		return b
	case protocol.TypeSRV:
		var buf bytes.Buffer
		buf.WriteByte(byte(r.SRV.Priority >> 8))
		buf.WriteByte(byte(r.SRV.Priority))
		buf.WriteByte(byte(r.SRV.Weight >> 8))
		buf.WriteByte(byte(r.SRV.Weight))
		buf.WriteByte(byte(r.SRV.Port >> 8))
		buf.WriteByte(byte(r.SRV.Port))
		target, _ := encodeNameNoCompression(r.SRV.Target)
		buf.Write(target)
		return buf.Bytes()
	case protocol.TypeTXT:
		return message.EncodeTXT(r.TXT)
	case protocol.TypeNSEC:
		var buf bytes.Buffer
		next, _ := encodeNameNoCompression(r.NSEC.NextName)
		buf.Write(next)
		for _, t := range r.NSEC.Types {
			buf.WriteByte(byte(t >> 8))
			buf.WriteByte(byte(t))
		}
		return buf.Bytes()
	default:
		return r.Opaque
	}
}

// encodeNameNoCompression renders name as plain length-prefixed labels with
// no compression, used for identity hashing where wire-position-dependent
// pointers would make equal names hash differently.
func encodeNameNoCompression(name string) ([]byte, error) {
	return rawNameEncode(name), nil
}

func rawNameEncode(name string) []byte {
	var buf bytes.Buffer
	labels := splitDots(name)
	for _, l := range labels {
		buf.WriteByte(byte(len(l)))
		buf.WriteString(l)
	}
	buf.WriteByte(0)
	return buf.Bytes()
}

func splitDots(name string) []string {
	if name == "" || name == "." {
		return nil
	}
	trimmed := name
	if trimmed[len(trimmed)-1] == '.' {
		trimmed = trimmed[:len(trimmed)-1]
	}
	var labels []string
	start := 0
	for i := 0; i < len(trimmed); i++ {
		if trimmed[i] == '.' {
			labels = append(labels, trimmed[start:i])
			start = i + 1
		}
	}
	labels = append(labels, trimmed[start:])
	return labels
}

// NameHash identifies the (name, type, class) triple a record answers for,
// independent of its data — the grouping key used by the cache's
// "related" index and by conflict detection (spec §3/§4.2).
func (r Record) NameHash() uint64 {
	h := fnv.New64a()
	h.Write([]byte(normalizeName(r.Name)))
	h.Write([]byte{byte(r.Type >> 8), byte(r.Type)})
	h.Write([]byte{byte(r.Class >> 8), byte(r.Class)})
	return h.Sum64()
}

// RDataHash identifies the record's data payload alone.
func (r Record) RDataHash() uint64 {
	h := fnv.New64a()
	h.Write(r.rdataBytes())
	return h.Sum64()
}

// Hash is the full record identity: NameHash combined with RDataHash. Two
// records with the same Hash are the same record for cache/dedup purposes
// regardless of TTL (spec §3: "TTL is NOT part of the key").
func (r Record) Hash() uint64 {
	h := fnv.New64a()
	h.Write([]byte{
		byte(r.NameHash() >> 56), byte(r.NameHash() >> 48), byte(r.NameHash() >> 40), byte(r.NameHash() >> 32),
		byte(r.NameHash() >> 24), byte(r.NameHash() >> 16), byte(r.NameHash() >> 8), byte(r.NameHash()),
	})
	h.Write(r.rdataBytes())
	return h.Sum64()
}

func normalizeName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// IsUnique reports whether r's rrtype is a "unique" record (spec §3): at
// most one true answer exists at a time, and a conflicting answer from
// another host is a naming conflict rather than a second valid member of a
// set.
func (r Record) IsUnique() bool {
	return protocol.IsUnique(r.Type)
}

// ConflictsWith reports whether r and other are a naming conflict per
// RFC 6762 §9: same NameHash, both unique, but different RDataHash.
func (r Record) ConflictsWith(other Record) bool {
	if !r.IsUnique() || !other.IsUnique() {
		return false
	}
	return r.NameHash() == other.NameHash() && r.RDataHash() != other.RDataHash()
}

// Answers reports whether r is a valid answer to question q: matching name
// (case-insensitive) and class, and matching type or q asking ANY.
func (r Record) Answers(q message.Question) bool {
	if normalizeName(r.Name) != normalizeName(q.Name) {
		return false
	}
	if r.Class != q.Class && q.Class != protocol.ClassANY {
		return false
	}
	return r.Type == q.Type || q.Type == protocol.TypeANY
}

// Compare implements the lexicographic record ordering RFC 6762 §8.2 uses
// to resolve simultaneous probes: the "lexicographically later" data wins.
// It compares raw rdata bytes, then falls back to name/type/class so the
// order is total.
func (r Record) Compare(other Record) int {
	if c := bytes.Compare(r.rdataBytes(), other.rdataBytes()); c != 0 {
		return c
	}
	if c := int(r.Type) - int(other.Type); c != 0 {
		return sign(c)
	}
	if c := int(r.Class) - int(other.Class); c != 0 {
		return sign(c)
	}
	return bytes.Compare([]byte(normalizeName(r.Name)), []byte(normalizeName(other.Name)))
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// SortForTiebreak sorts records in the ascending order RFC 6762 §8.2 defines
// for probe tiebreaking: by rrtype numerically, then by rdata.
func SortForTiebreak(recs []Record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Type != recs[j].Type {
			return recs[i].Type < recs[j].Type
		}
		return bytes.Compare(recs[i].rdataBytes(), recs[j].rdataBytes()) < 0
	})
}

// ToRR converts a domain Record back into a wire-level message.RR/rdata pair
// ready for message.Encode. c is not used: names inside rdata are always
// encoded uncompressed, whatever is passed (callers pass nil).
func ToRR(r Record, buf []byte, c *compressor) (message.RR, []byte, error) {
	var rdata []byte
	var err error

	switch r.Type {
	case protocol.TypeA:
		rdata, err = message.EncodeA(r.A)
	case protocol.TypeAAAA:
		rdata, err = message.EncodeAAAA(r.AAAA)
	case protocol.TypePTR:
		rdata = rawNameEncode(r.PTR)
	case protocol.TypeSRV:
		var srvBuf []byte
		srvBuf = append(srvBuf, byte(r.SRV.Priority>>8), byte(r.SRV.Priority))
		srvBuf = append(srvBuf, byte(r.SRV.Weight>>8), byte(r.SRV.Weight))
		srvBuf = append(srvBuf, byte(r.SRV.Port>>8), byte(r.SRV.Port))
		srvBuf = append(srvBuf, rawNameEncode(r.SRV.Target)...)
		rdata = srvBuf
	case protocol.TypeTXT:
		rdata = message.EncodeTXT(r.TXT)
	case protocol.TypeNSEC:
		var nsecBuf []byte
		nsecBuf = append(nsecBuf, rawNameEncode(r.NSEC.NextName)...)
		var bitmap [32]byte
		maxByte := 0
		for _, t := range r.NSEC.Types {
			if t > 255 {
				continue
			}
			bitmap[t/8] |= 1 << (7 - t%8)
			if int(t/8) > maxByte {
				maxByte = int(t / 8)
			}
		}
		nsecBuf = append(nsecBuf, 0x00, byte(maxByte+1))
		nsecBuf = append(nsecBuf, bitmap[:maxByte+1]...)
		rdata = nsecBuf
	default:
		rdata = r.Opaque
	}
	if err != nil {
		return message.RR{}, buf, err
	}
	return message.RR{
		Name:       r.Name,
		Type:       r.Type,
		Class:      r.Class,
		CacheFlush: r.Flush,
		TTL:        r.TTL,
		RData:      rdata,
	}, buf, nil
}

// compressor is a forward declaration placeholder kept here so ToRR's
// signature stays stable if the encode path grows cross-record
// compression; the current encode path builds rdata independently per
// record and relies on message.Encode's own compressor for owner names.
type compressor struct{}

// Validate checks r against the structural constraints spec §3 requires:
// non-empty name, known class, and (for known rrtypes) a populated
// type-specific field.
func Validate(r Record) error {
	if r.Name == "" {
		return &errors.ValidationError{Field: "name", Message: "record name cannot be empty"}
	}
	if r.Class != protocol.ClassIN && r.Class != protocol.ClassANY {
		return &errors.ValidationError{Field: "class", Value: r.Class, Message: "unsupported record class"}
	}
	switch r.Type {
	case protocol.TypeA:
		if r.A == nil {
			return &errors.ValidationError{Field: "A", Message: "missing address"}
		}
	case protocol.TypeAAAA:
		if r.AAAA == nil {
			return &errors.ValidationError{Field: "AAAA", Message: "missing address"}
		}
	case protocol.TypeSRV:
		if r.SRV.Target == "" {
			return &errors.ValidationError{Field: "SRV", Message: "missing target"}
		}
	case protocol.TypePTR:
		if r.PTR == "" {
			return &errors.ValidationError{Field: "PTR", Message: "missing target"}
		}
	}
	return nil
}
