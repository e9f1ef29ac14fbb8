package domain

// Response is the decoded view of an upstream reply. Like Question it exists
// for observability and the reply observers; the verbatim reply bytes are
// what the client receives.
type Response struct {
	ID      uint16
	RCode   RCode
	Answers []ResourceRecord
}

// AnswerCount returns the number of answer records in the reply.
func (r Response) AnswerCount() int {
	return len(r.Answers)
}

// IPv4Addresses returns the address strings of every A record in the answer
// section, in answer order. Non-A records are skipped.
func (r Response) IPv4Addresses() []string {
	var addrs []string
	for _, rr := range r.Answers {
		if ip, ok := rr.IPv4(); ok {
			addrs = append(addrs, ip)
		}
	}
	return addrs
}
