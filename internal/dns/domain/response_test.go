package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResourceRecord_IPv4(t *testing.T) {
	tests := []struct {
		name   string
		rr     ResourceRecord
		want   string
		wantOK bool
	}{
		{
			name:   "well-formed A record",
			rr:     ResourceRecord{Name: "example.com.", Type: RRTypeA, Data: []byte{93, 184, 216, 34}},
			want:   "93.184.216.34",
			wantOK: true,
		},
		{
			name: "AAAA record is not IPv4",
			rr: ResourceRecord{Name: "example.com.", Type: RRTypeAAAA, Data: []byte{
				0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1,
			}},
		},
		{
			name: "A record with truncated rdata",
			rr:   ResourceRecord{Name: "example.com.", Type: RRTypeA, Data: []byte{93, 184}},
		},
		{
			name: "CNAME record has no address",
			rr:   ResourceRecord{Name: "example.com.", Type: RRTypeCNAME},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.rr.IPv4()
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResponse_IPv4Addresses(t *testing.T) {
	resp := Response{
		ID:    9,
		RCode: RCodeNoError,
		Answers: []ResourceRecord{
			{Name: "example.com.", Type: RRTypeCNAME},
			{Name: "example.com.", Type: RRTypeA, Data: []byte{93, 184, 216, 34}},
			{Name: "example.com.", Type: RRTypeA, Data: []byte{93, 184, 216, 35}},
		},
	}

	// Answer order is preserved; the CNAME is skipped.
	assert.Equal(t, []string{"93.184.216.34", "93.184.216.35"}, resp.IPv4Addresses())
	assert.Equal(t, 3, resp.AnswerCount())
}

func TestResponse_IPv4Addresses_NoARecords(t *testing.T) {
	resp := Response{
		Answers: []ResourceRecord{
			{Name: "example.com.", Type: RRTypeTXT},
		},
	}
	assert.Empty(t, resp.IPv4Addresses())
}
