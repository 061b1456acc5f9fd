package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskReference(t *testing.T) {
	assert.Equal(t, "TXN-****WXYZ", MaskReference("TXN-01HV3Q8ZWXYZ"))
	assert.Equal(t, "****", MaskReference("abc"))
	assert.Equal(t, "", MaskReference("  "))
}

func TestMaskMetadataOnlyTouchesSensitiveKeys(t *testing.T) {
	out := MaskMetadata(map[string]any{
		"transaction_id": "TXN-01HV3Q8ZWXYZ",
		"order_number":   "ORD-20260417-0001",
		"amount":         1000,
		"":               "dropped",
	})
	assert.Equal(t, "TXN-****WXYZ", out["transaction_id"])
	assert.Equal(t, "ORD-20260417-0001", out["order_number"])
	assert.Equal(t, 1000, out["amount"])
	assert.Len(t, out, 3)
	assert.Nil(t, MaskMetadata(nil))
}
