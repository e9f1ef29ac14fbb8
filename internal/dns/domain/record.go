package domain

import "net"

// ResourceRecord is the decoded view of a single answer record. Data holds
// the raw address bytes for A (4 bytes) and AAAA (16 bytes) records; other
// record types carry no materialized rdata since the proxy never needs it.
type ResourceRecord struct {
	Name  string
	Type  RRType
	Class RRClass
	TTL   uint32
	Data  []byte
}

// IPv4 returns the record's dotted-quad address when the record is a
// well-formed A record.
func (rr ResourceRecord) IPv4() (string, bool) {
	if rr.Type != RRTypeA || len(rr.Data) != net.IPv4len {
		return "", false
	}
	return net.IP(rr.Data).String(), true
}
