package attrlist

import (
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	l := New(4)
	l.AddStr("t", "id")
	l.AddStr("s", "alice@REALM")
	l.AddTime("ct", time.Unix(1700000000, 0))

	buf := l.Encode()
	if len(buf) != l.EncodedLength() {
		t.Fatalf("EncodedLength() = %d, Encode() produced %d bytes", l.EncodedLength(), len(buf))
	}

	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	for _, name := range []string{"t", "s", "ct"} {
		want, _ := l.GetStr(name)
		have, ok := got.GetStr(name)
		if !ok || have != want {
			t.Errorf("attribute %q = %q, want %q", name, have, want)
		}
	}
}

func TestEscapedSemicolon(t *testing.T) {
	l := New(1)
	l.AddStr("em", "bad;password;here")

	buf := l.Encode()
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	v, ok := got.GetStr("em")
	if !ok || v != "bad;password;here" {
		t.Fatalf("got %q, want %q", v, "bad;password;here")
	}
}

func TestFindFirstMatchWins(t *testing.T) {
	l := New(2)
	l.AddStr("t", "first")
	l.AddStr("t", "second")

	v, ok := l.GetStr("t")
	if !ok || v != "first" {
		t.Fatalf("GetStr(t) = %q, want %q", v, "first")
	}
	if l.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 (duplicates kept)", l.Len())
	}
}

func TestGetTimeRoundTrip(t *testing.T) {
	l := New(1)
	want := time.Unix(1753862400, 0).UTC()
	l.AddTime("et", want)

	buf := l.Encode()
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	tm, ok := got.GetTime("et")
	if !ok || !tm.Equal(want) {
		t.Fatalf("GetTime() = %v, want %v", tm, want)
	}
}

func TestDecodeMalformedMissingTerminator(t *testing.T) {
	if _, err := Decode([]byte("t=id")); err == nil {
		t.Fatal("expected error for missing terminating ';'")
	}
}
