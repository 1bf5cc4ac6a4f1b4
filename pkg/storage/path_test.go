package storage

import (
	"testing"
	"time"
)

func TestObjectKey(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	cases := []struct {
		dest, name, ct, want string
	}{
		{"wallpapers/u1/", "beach.PNG", "image/png", "wallpapers/u1/1700000000123_tok.png"},
		{"wallpapers/u1/", "noext", "image/jpeg", "wallpapers/u1/1700000000123_tok.jpg"},
		{"wallpapers/u1/", "weird.p$g", "image/webp", "wallpapers/u1/1700000000123_tok.webp"},
		{"wallpapers/u1/", "", "", "wallpapers/u1/1700000000123_tok"},
		{"fixed/key.gif", "x.png", "image/png", "fixed/key.gif"},
		{"", "x.gif", "", "1700000000123_tok.gif"},
	}
	for _, tc := range cases {
		if got := ObjectKey(tc.dest, tc.name, tc.ct, now, "tok"); got != tc.want {
			t.Fatalf("ObjectKey(%q,%q,%q)=%q, want %q", tc.dest, tc.name, tc.ct, got, tc.want)
		}
	}
}

func TestUserDirectory(t *testing.T) {
	if got := UserDirectory("/wallpapers/", "u1"); got != "wallpapers/u1/" {
		t.Fatalf("unexpected directory %q", got)
	}
	if got := UserDirectory("", "u1"); got != "u1/" {
		t.Fatalf("unexpected directory %q", got)
	}
}
