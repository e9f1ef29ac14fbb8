package wire

import (
	"fmt"

	"golang.org/x/net/dns/dnsmessage"

	"dnsproxy/internal/dns/domain"
)

// messageCodec implements Codec on top of golang.org/x/net/dns/dnsmessage.
type messageCodec struct{}

// NewMessageCodec returns the dnsmessage-backed Codec.
func NewMessageCodec() *messageCodec {
	return &messageCodec{}
}

// DecodeQuery parses the header and first question of a query payload.
func (c *messageCodec) DecodeQuery(data []byte) (domain.Question, error) {
	var p dnsmessage.Parser
	header, err := p.Start(data)
	if err != nil {
		return domain.Question{}, fmt.Errorf("malformed query: %w", err)
	}
	q, err := p.Question()
	if err != nil {
		return domain.Question{}, fmt.Errorf("query has no question section: %w", err)
	}
	return domain.NewQuestion(
		header.ID,
		q.Name.String(),
		domain.RRType(q.Type),
		domain.RRClass(q.Class),
	)
}

// DecodeResponse parses a reply payload into a Response view. Address bytes
// are copied out of A and AAAA records; other record types contribute to the
// answer count only.
func (c *messageCodec) DecodeResponse(data []byte) (domain.Response, error) {
	var m dnsmessage.Message
	if err := m.Unpack(data); err != nil {
		return domain.Response{}, fmt.Errorf("malformed reply: %w", err)
	}

	answers := make([]domain.ResourceRecord, 0, len(m.Answers))
	for _, a := range m.Answers {
		rr := domain.ResourceRecord{
			Name:  a.Header.Name.String(),
			Type:  domain.RRType(a.Header.Type),
			Class: domain.RRClass(a.Header.Class),
			TTL:   a.Header.TTL,
		}
		switch body := a.Body.(type) {
		case *dnsmessage.AResource:
			rr.Data = append([]byte(nil), body.A[:]...)
		case *dnsmessage.AAAAResource:
			rr.Data = append([]byte(nil), body.AAAA[:]...)
		}
		answers = append(answers, rr)
	}

	return domain.Response{
		ID:      m.ID,
		RCode:   domain.RCode(m.RCode),
		Answers: answers,
	}, nil
}

var _ Codec = (*messageCodec)(nil)
