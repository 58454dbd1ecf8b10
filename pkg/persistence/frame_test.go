package persistence

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)
	if err := fw.WriteFrame(FlagLast, []byte("hello")); err != nil {
		t.Fatal(err)
	}

	flags, payload, n, err := ReadFrame(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if flags != FlagLast || string(payload) != "hello" || n != HeaderSize+5 {
		t.Errorf("got flags=%x payload=%q n=%d", flags, payload, n)
	}
	if _, _, _, err := ReadFrame(&buf); err != io.EOF {
		t.Errorf("expected io.EOF at end, got %v", err)
	}
}

func TestFrameCorruption(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func([]byte) []byte
		want   error
	}{
		{"bad magic", func(b []byte) []byte { b[0] = 0x00; return b }, ErrInvalidMagic},
		{"bad flags", func(b []byte) []byte { b[1] = 0x7F; return b }, ErrInvalidFlags},
		{"flipped payload", func(b []byte) []byte { b[HeaderSize] ^= 0xFF; return b }, ErrChecksumMismatch},
		{"truncated payload", func(b []byte) []byte { return b[:len(b)-2] }, ErrIncompleteFrame},
		{"truncated header", func(b []byte) []byte { return b[:4] }, ErrIncompleteFrame},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := NewFrameWriter(&buf).WriteFrame(FlagLast, []byte("payload")); err != nil {
				t.Fatal(err)
			}
			data := tc.mutate(buf.Bytes())
			_, _, _, err := ReadFrame(bytes.NewReader(data))
			if !errors.Is(err, tc.want) {
				t.Errorf("ReadFrame() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)
	want := [][]byte{{1, 2}, {}, []byte("three")}
	if err := fw.WriteMessage(want); err != nil {
		t.Fatal(err)
	}
	if err := fw.WriteMessage(nil); err != nil {
		t.Fatal(err)
	}

	got, err := ReadMessage(&buf, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || !bytes.Equal(got[0], want[0]) || len(got[1]) != 0 || string(got[2]) != "three" {
		t.Errorf("got %q, want %q", got, want)
	}

	empty, err := ReadMessage(&buf, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 1 || len(empty[0]) != 0 {
		t.Errorf("empty message decoded as %q", empty)
	}
}

func TestReadMessageFrameLimit(t *testing.T) {
	var buf bytes.Buffer
	if err := NewFrameWriter(&buf).WriteMessage([][]byte{{1}, {2}, {3}}); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadMessage(&buf, 2); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("expected ErrFrameTooLarge, got %v", err)
	}
}
