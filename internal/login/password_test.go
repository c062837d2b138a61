package login

import "testing"

func TestHashPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		want     string
	}{
		{"short", "password", "$1$5f4dcc3b5aa765d61d8327deb882cf99"},
		{"empty", "", "$1$d41d8cd98f00b204e9800998ecf8427e"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HashPassword(tt.password); got != tt.want {
				t.Fatalf("HashPassword(%q) = %s, want %s", tt.password, got, tt.want)
			}
		})
	}
}

func TestHashPasswordTruncatesTo16(t *testing.T) {
	base := HashPassword("abcdefghijklmnop")
	if got := HashPassword("abcdefghijklmnopqrstuvwxyz"); got != base {
		t.Fatalf("long password hashed to %s, want %s", got, base)
	}
	if got := HashPassword("abcdefghijklmno"); got == base {
		t.Fatal("15 characters hashed like 16")
	}
}
