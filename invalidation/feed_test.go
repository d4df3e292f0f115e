package invalidation

import (
	"errors"
	"testing"
)

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Event
		wantErr bool
	}{
		{name: "bare collection", payload: "pieces", want: Event{Collection: "pieces"}},
		{name: "with op", payload: "poets:update", want: Event{Collection: "poets", Operation: "UPDATE"}},
		{name: "padded", payload: "  categories : DELETE ", want: Event{Collection: "categories", Operation: "DELETE"}},
		{name: "json collection", payload: `{"collection":"pieces","op":"insert"}`, want: Event{Collection: "pieces", Operation: "INSERT"}},
		{name: "json table", payload: `{"table":"profiles","eventType":"UPDATE"}`, want: Event{Collection: "profiles", Operation: "UPDATE"}},
		{name: "json type", payload: `{"table":"poets","type":"delete"}`, want: Event{Collection: "poets", Operation: "DELETE"}},
		{name: "empty", payload: "", wantErr: true},
		{name: "op only", payload: ":UPDATE", wantErr: true},
		{name: "json without collection", payload: `{"op":"UPDATE"}`, wantErr: true},
		{name: "broken json", payload: `{"collection":`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEvent(tt.payload)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidEvent) {
					t.Fatalf("ParseEvent(%q) error = %v, want ErrInvalidEvent", tt.payload, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseEvent(%q) error = %v", tt.payload, err)
			}
			if got != tt.want {
				t.Errorf("ParseEvent(%q) = %+v, want %+v", tt.payload, got, tt.want)
			}
		})
	}
}
