package domain

import "fmt"

// RRClass represents a DNS resource record class. Virtually all traffic is
// class IN; the others exist for logging fidelity.
type RRClass uint16

const (
	RRClassIN  RRClass = 1   // IN - Internet
	RRClassCH  RRClass = 3   // CH - Chaos
	RRClassHS  RRClass = 4   // HS - Hesiod
	RRClassANY RRClass = 255 // ANY - Any class (query only)
)

// String returns the textual mnemonic for the class, or "CLASS<code>".
func (c RRClass) String() string {
	switch c {
	case RRClassIN:
		return "IN"
	case RRClassCH:
		return "CH"
	case RRClassHS:
		return "HS"
	case RRClassANY:
		return "ANY"
	default:
		return fmt.Sprintf("CLASS%d", uint16(c))
	}
}
