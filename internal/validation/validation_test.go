package validation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/settlement-ledger/internal/domain"
)

type sample struct {
	Amount   int64           `json:"amount" validate:"gt=0"`
	Currency string          `json:"currency" validate:"required,iso4217"`
	Method   string          `json:"method" validate:"required,oneof=card bank wallet crypto"`
	Metadata json.RawMessage `json:"metadata" validate:"omitempty,json"`
}

func TestStruct(t *testing.T) {
	tests := []struct {
		name       string
		in         sample
		wantFields []string
	}{
		{
			name: "valid",
			in:   sample{Amount: 100, Currency: "USD", Method: "card"},
		},
		{
			name:       "zero amount",
			in:         sample{Amount: 0, Currency: "USD", Method: "card"},
			wantFields: []string{"amount"},
		},
		{
			name:       "unknown currency",
			in:         sample{Amount: 1, Currency: "ZZZ", Method: "card"},
			wantFields: []string{"currency"},
		},
		{
			name:       "bad method and missing currency",
			in:         sample{Amount: 1, Method: "cash"},
			wantFields: []string{"currency", "method"},
		},
		{
			name:       "malformed metadata",
			in:         sample{Amount: 1, Currency: "EUR", Method: "bank", Metadata: json.RawMessage(`{`)},
			wantFields: []string{"metadata"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Struct(tc.in)
			if len(tc.wantFields) == 0 {
				require.NoError(t, err)
				return
			}

			require.ErrorIs(t, err, domain.ErrValidation)
			var ve *domain.ValidationError
			require.ErrorAs(t, err, &ve)

			got := make([]string, 0, len(ve.Fields))
			for _, f := range ve.Fields {
				got = append(got, f.Field)
			}
			assert.ElementsMatch(t, tc.wantFields, got)
		})
	}
}
