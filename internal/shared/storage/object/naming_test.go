package object

import "testing"

func TestNamespaceKeyStableAndOpaque(t *testing.T) {
	id := "U0123456789abcdef0123456789abcdef"
	got := NamespaceKey(id)
	if got != NamespaceKey(id) {
		t.Fatalf("expected stable key, got %s", got)
	}
	for _, ch := range got {
		if !((ch >= 'a' && ch <= 'f') || (ch >= '0' && ch <= '9')) {
			t.Fatalf("key contains non-hex character: %c", ch)
		}
	}
	if len(got) != 64 {
		t.Fatalf("expected 64 hex characters, got %d", len(got))
	}
}

func TestCleanFileName(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "plain", in: "msg-1.mp4", want: "msg-1.mp4"},
		{name: "trimmed", in: "  clip.jpg ", want: "clip.jpg"},
		{name: "separators flattened", in: "a/b\\c.mp4", want: "a_b_c.mp4"},
		{name: "traversal rejected", in: "../etc/passwd", wantErr: true},
		{name: "empty rejected", in: "   ", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := CleanFileName(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("CleanFileName(%q) = %q, want error", tc.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("CleanFileName(%q): %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("CleanFileName(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
