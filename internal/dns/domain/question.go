package domain

import "fmt"

// Question is the decoded view of an inbound query's question section.
// It is derived from the raw payload for observability only; the raw bytes
// are what actually travel upstream.
type Question struct {
	ID    uint16
	Name  string
	Type  RRType
	Class RRClass
}

// NewQuestion constructs a Question and validates its fields.
func NewQuestion(id uint16, name string, rrtype RRType, class RRClass) (Question, error) {
	q := Question{
		ID:    id,
		Name:  name,
		Type:  rrtype,
		Class: class,
	}
	if err := q.Validate(); err != nil {
		return Question{}, err
	}
	return q, nil
}

// Validate checks whether the Question fields are structurally valid.
func (q Question) Validate() error {
	if q.Name == "" {
		return fmt.Errorf("query name must not be empty")
	}
	return nil
}

// String renders the question for log lines, e.g. "example.com. A".
func (q Question) String() string {
	return fmt.Sprintf("%s %s", q.Name, q.Type)
}
