package invalidation

import (
	"reflect"
	"testing"
)

func TestFanOut_Patterns(t *testing.T) {
	fanout := DefaultFanOut()

	tests := []struct {
		collection string
		want       []string
	}{
		{"pieces", []string{"pieces:*", "index:*", "categories:*"}},
		{"categories", []string{"categories:*", "pieces:*"}},
		{"poets", []string{"poets:*", "pieces:*", "index:*"}},
		{"collections", []string{"collections:*", "index:*"}},
		{"profiles", []string{"profile:*", "permissions:*"}},
		{"audio", []string{"audio"}},
	}
	for _, tt := range tests {
		t.Run(tt.collection, func(t *testing.T) {
			if got := fanout.Patterns(tt.collection); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Patterns(%q) = %v, want %v", tt.collection, got, tt.want)
			}
		})
	}
}

func TestFanOut_PatternsReturnsCopy(t *testing.T) {
	fanout := DefaultFanOut()
	got := fanout.Patterns("pieces")
	got[0] = "mutated"

	if fanout["pieces"][0] != "pieces:*" {
		t.Errorf("Patterns() aliases the table: %v", fanout["pieces"])
	}
}

func TestFanOut_Collections(t *testing.T) {
	want := []string{"categories", "collections", "pieces", "poets", "profiles"}
	if got := DefaultFanOut().Collections(); !reflect.DeepEqual(got, want) {
		t.Errorf("Collections() = %v, want %v", got, want)
	}
}
