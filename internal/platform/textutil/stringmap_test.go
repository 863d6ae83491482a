package textutil

import (
	"reflect"
	"testing"
)

func TestNormalizeStringMap(t *testing.T) {
	t.Run("trims and drops empty entries", func(t *testing.T) {
		input := map[string]string{
			" orderNumber ": " ON-20260314-0001 ",
			"subtotal":      " 108.50 ",
			"note":          "   ",
			" ":             "ignored",
			"":              "ignored",
		}

		expected := map[string]string{
			"orderNumber": "ON-20260314-0001",
			"subtotal":    "108.50",
		}

		actual := NormalizeStringMap(input)
		if !reflect.DeepEqual(actual, expected) {
			t.Fatalf("expected %#v got %#v", expected, actual)
		}
	})

	t.Run("returns nil when nothing survives", func(t *testing.T) {
		if NormalizeStringMap(nil) != nil {
			t.Fatalf("expected nil for nil input")
		}
		if NormalizeStringMap(map[string]string{}) != nil {
			t.Fatalf("expected nil for empty map")
		}
		if NormalizeStringMap(map[string]string{"blank": "  "}) != nil {
			t.Fatalf("expected nil when every value is blank")
		}
	})
}
