package archive

import "testing"

func TestPost_IsRepost(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"RT @someone: hello", true},
		{"RT @", true},
		{"RT", false},
		{"hello RT @someone", false},
		{"", false},
	}
	for _, tt := range tests {
		p := &Post{Text: tt.text}
		if got := p.IsRepost(); got != tt.want {
			t.Errorf("IsRepost(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
