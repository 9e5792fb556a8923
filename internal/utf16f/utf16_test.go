package utf16f

import (
	"testing"
	"unicode/utf16"
)

func TestString(t *testing.T) {
	tests := []struct {
		name string
		in   []uint16
		want string
	}{
		{"Empty", nil, ""},
		{"OnlyNul", []uint16{0, 'a'}, ""},
		{"ASCII", append(utf16.Encode([]rune(`HKLM\Software\X`)), 0), `HKLM\Software\X`},
		{"TwoByte", utf16.Encode([]rune("Größe")), "Größe"},
		{"ThreeByte", utf16.Encode([]rune("日本語")), "日本語"},
		{"SurrogatePair", utf16.Encode([]rune("a😀b")), "a😀b"},
		{"StopsAtNul", []uint16{'a', 'b', 0, 'c'}, "ab"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := String(tt.in); got != tt.want {
				t.Fatalf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUnpairedSurrogateIsWTF8(t *testing.T) {
	got := String([]uint16{'x', 0xD800, 'y'})
	want := "x\xed\xa0\x80y"
	if got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestStrings(t *testing.T) {
	buf := []uint16{'a', 0, 'b', 'c', 0, 0, 'z'}
	got := Strings(buf)
	if len(got) != 2 || got[0] != "a" || got[1] != "bc" {
		t.Fatalf("Strings() = %q", got)
	}
}
