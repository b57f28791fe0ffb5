package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskContact(t *testing.T) {
	in := map[string]any{
		"order_id": "123",
		"amount":   int64(300),
		"contact": map[string]any{
			"email":        "ivan@example.com",
			"phone_number": "+79991234567",
			"name":         "Ivan",
		},
		" ": "dropped",
	}

	out := MaskContact(in)
	assert.Equal(t, "123", out["order_id"])
	assert.Equal(t, int64(300), out["amount"])
	assert.NotContains(t, out, " ")

	contact := out["contact"].(map[string]any)
	assert.Equal(t, "i****@example.com", contact["email"])
	assert.Equal(t, "****4567", contact["phone_number"])
	assert.Equal(t, "I****", contact["name"])

	// input untouched
	assert.Equal(t, "ivan@example.com", in["contact"].(map[string]any)["email"])
}

func TestMaskHelpers(t *testing.T) {
	assert.Equal(t, "****", MaskPhone("123"))
	assert.Equal(t, "", MaskPhone(" "))
	assert.Equal(t, "n****", MaskEmail("not-an-email"))
	assert.Equal(t, "Ж****", MaskName("Жанна"))
	assert.Nil(t, MaskContact(nil))
}
