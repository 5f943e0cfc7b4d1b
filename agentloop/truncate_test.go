package agentloop

import "testing"

func TestTailChars(t *testing.T) {
	tests := []struct {
		in    string
		limit int
		want  string
	}{
		{"hello world", 5, "world"},
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 0, ""},
		{"hello", -1, ""},
		{"héllo", 4, "éllo"},
		{"", 5, ""},
	}
	for _, tt := range tests {
		if got := TailChars(tt.in, tt.limit); got != tt.want {
			t.Errorf("TailChars(%q, %d) = %q, want %q", tt.in, tt.limit, got, tt.want)
		}
	}
}

func TestHeadChars(t *testing.T) {
	tests := []struct {
		in    string
		limit int
		want  string
	}{
		{"hello world", 5, "hello"},
		{"hello", 10, "hello"},
		{"hello", 0, ""},
		{"héllo", 2, "hé"},
		{"", 3, ""},
	}
	for _, tt := range tests {
		if got := HeadChars(tt.in, tt.limit); got != tt.want {
			t.Errorf("HeadChars(%q, %d) = %q, want %q", tt.in, tt.limit, got, tt.want)
		}
	}
}
