package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/statement-import/internal/domain/import/profile"
)

func TestKindNames(t *testing.T) {
	reg, err := profile.Default()
	require.NoError(t, err)

	tests := map[string]string{
		"generic": "tabular,spreadsheet",
		"alipay":  "tabular",
		"cmb_pdf": "pdf_text",
	}
	for id, want := range tests {
		t.Run(id, func(t *testing.T) {
			p, ok := reg.Lookup(id)
			require.True(t, ok)
			assert.Equal(t, want, kindNames(p))
		})
	}
}
