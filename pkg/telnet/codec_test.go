package telnet

import (
	"bytes"
	"testing"
)

// lines extracts just the Line items from a decode result.
func lines(items []Item) []Line {
	var out []Line
	for _, it := range items {
		if l, ok := it.(Line); ok {
			out = append(out, l)
		}
	}
	return out
}

func TestDecodeTerminators(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		// a trailing byte forces a pending CR to resolve
		want     string
		wantTerm Terminator
	}{
		{"crlf", []byte("abc\r\n"), "abc", TermCrLf},
		{"lf", []byte("abc\n"), "abc", TermLf},
		{"cr", []byte("abc\rx"), "abc", TermCr},
		{"reversed", []byte("abc\n\r"), "abc", TermLf},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Codec{}
			items, err := c.Decode(tt.input)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			got := lines(items)
			if len(got) != 1 {
				t.Fatalf("expected 1 line, got %d (%v)", len(got), items)
			}
			if string(got[0].Data) != tt.want {
				t.Errorf("line = %q, want %q", got[0].Data, tt.want)
			}
			if got[0].Term != tt.wantTerm {
				t.Errorf("terminator = %v, want %v", got[0].Term, tt.wantTerm)
			}
		})
	}
}

func TestDecodeTwoLinesInOrder(t *testing.T) {
	c := &Codec{}
	items, err := c.Decode([]byte("abc\r\ndef\r\n"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := lines(items)
	if len(got) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(got))
	}
	if string(got[0].Data) != "abc" || string(got[1].Data) != "def" {
		t.Errorf("lines = %q, %q", got[0].Data, got[1].Data)
	}
}

func TestDecodeSplitAcrossReads(t *testing.T) {
	c := &Codec{}
	var all []Item
	for _, chunk := range [][]byte{[]byte("he"), []byte("llo\r"), []byte("\nrest\r\n")} {
		items, err := c.Decode(chunk)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		all = append(all, items...)
	}
	got := lines(all)
	if len(got) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(got))
	}
	if string(got[0].Data) != "hello" || got[0].Term != TermCrLf {
		t.Errorf("first line = %q (%v)", got[0].Data, got[0].Term)
	}
	if string(got[1].Data) != "rest" {
		t.Errorf("second line = %q", got[1].Data)
	}
}

func TestDecodeEorFlushesLine(t *testing.T) {
	c := &Codec{}
	input := append([]byte("Name: "), IAC, EOR)
	items, err := c.Decode(input)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := lines(items)
	if len(got) != 1 {
		t.Fatalf("expected 1 line, got %d (%v)", len(got), items)
	}
	if string(got[0].Data) != "Name: " || got[0].Term != TermEndOfRecord {
		t.Errorf("line = %q (%v)", got[0].Data, got[0].Term)
	}
	// The raw signal is still surfaced after the flushed line.
	var sawCmd bool
	for _, it := range items {
		if cmd, ok := it.(IacCommand); ok && byte(cmd) == EOR {
			sawCmd = true
		}
	}
	if !sawCmd {
		t.Error("expected IacCommand(EOR) item")
	}
}

func TestDecodeNegotiation(t *testing.T) {
	c := &Codec{}
	items, err := c.Decode([]byte{IAC, WILL, OptEOR, IAC, DONT, OptEcho})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if n := items[0].(Negotiation); n.Verb != WILL || n.Option != OptEOR {
		t.Errorf("first = %+v", n)
	}
	if n := items[1].(Negotiation); n.Verb != DONT || n.Option != OptEcho {
		t.Errorf("second = %+v", n)
	}
}

func TestDecodeSubnegotiationEscapedIac(t *testing.T) {
	c := &Codec{}
	input := []byte{IAC, SB, OptGMCP, 1, IAC, IAC, 2, IAC, SE}
	items, err := c.Decode(input)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	sub := items[0].(Subnegotiation)
	if sub.Option != OptGMCP {
		t.Errorf("option = %d", sub.Option)
	}
	if !bytes.Equal(sub.Data, []byte{1, IAC, 2}) {
		t.Errorf("payload = %v", sub.Data)
	}
}

func TestDecodeEscapedDataByte(t *testing.T) {
	c := &Codec{}
	items, err := c.Decode([]byte{'a', IAC, IAC, 'b', '\r', '\n'})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := lines(items)
	if len(got) != 1 {
		t.Fatalf("expected 1 line, got %d", len(got))
	}
	if !bytes.Equal(got[0].Data, []byte{'a', 0xFF, 'b'}) {
		t.Errorf("line = %v", got[0].Data)
	}
}

func TestDecodeMalformedSubnegotiation(t *testing.T) {
	c := &Codec{}
	if _, err := c.Decode([]byte{IAC, SE}); err == nil {
		t.Error("expected error for IAC SE without SB")
	}
	c = &Codec{}
	if _, err := c.Decode([]byte{IAC, SB, OptGMCP, 'x', IAC, NOP}); err == nil {
		t.Error("expected error for IAC command inside subnegotiation")
	}
}

func TestPartial(t *testing.T) {
	c := &Codec{}
	if _, err := c.Decode([]byte("prompt> ")); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c.Buffered() != 8 {
		t.Errorf("buffered = %d, want 8", c.Buffered())
	}
	got := c.Partial()
	if string(got) != "prompt> " {
		t.Errorf("partial = %q", got)
	}
	if c.Partial() != nil {
		t.Error("second Partial should be nil")
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	in := []Item{
		Line{Data: []byte("go east"), Term: TermCrLf},
		Negotiation{Verb: DO, Option: OptEOR},
		Subnegotiation{Option: OptGMCP, Data: []byte{'x', IAC, 'y'}},
		IacCommand(NOP),
	}

	var wire []byte
	for _, item := range in {
		wire = append(wire, EncodeItem(item)...)
	}

	c := &Codec{}
	items, err := c.Decode(wire)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	var decoded []Item
	for _, it := range items {
		if _, ok := it.(BufferedBytes); ok {
			continue
		}
		decoded = append(decoded, it)
	}
	if len(decoded) != len(in) {
		t.Fatalf("expected %d items, got %d (%v)", len(in), len(decoded), decoded)
	}
	if l := decoded[0].(Line); string(l.Data) != "go east" || l.Term != TermCrLf {
		t.Errorf("line = %+v", l)
	}
	if n := decoded[1].(Negotiation); n != (Negotiation{Verb: DO, Option: OptEOR}) {
		t.Errorf("negotiation = %+v", n)
	}
	if s := decoded[2].(Subnegotiation); !bytes.Equal(s.Data, []byte{'x', IAC, 'y'}) {
		t.Errorf("subnegotiation = %+v", s)
	}
	if cmd := decoded[3].(IacCommand); byte(cmd) != NOP {
		t.Errorf("command = %d", cmd)
	}
}

func TestEncodeLineEscapesIac(t *testing.T) {
	got := EncodeLine([]byte{'a', IAC, 'b'})
	want := []byte{'a', IAC, IAC, 'b', '\r', '\n'}
	if !bytes.Equal(got, want) {
		t.Errorf("encoded = %v, want %v", got, want)
	}
}

func TestBufferedBytesEmitted(t *testing.T) {
	c := &Codec{}
	items, err := c.Decode([]byte("par"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if n := items[0].(BufferedBytes); n != 3 {
		t.Errorf("buffered = %d, want 3", n)
	}
}
