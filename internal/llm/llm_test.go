package llm

import (
	"errors"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "clean object",
			input: `{"tool":"ask_concept"}`,
			want:  `{"tool":"ask_concept"}`,
		},
		{
			name:  "wrapped in prose",
			input: "Claro, acá va:\n{\"valid\": true}\nEspero que sirva.",
			want:  `{"valid": true}`,
		},
		{
			name:  "code fence",
			input: "```json\n{\"confidence\": 0.9}\n```",
			want:  `{"confidence": 0.9}`,
		},
		{
			name:  "nested braces keep outermost",
			input: `x {"a": {"b": 1}} y`,
			want:  `{"a": {"b": 1}}`,
		},
		{
			name:    "no object",
			input:   "no puedo responder eso",
			wantErr: true,
		},
		{
			name:    "unmatched braces",
			input:   "} {",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrNoJSON) {
					t.Fatalf("ExtractJSON(%q) error = %v, want ErrNoJSON", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractJSON(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ExtractJSON(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
