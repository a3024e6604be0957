package proto

import (
	"bytes"
	"testing"
)

func TestChatPayload(t *testing.T) {
	p := ChatPayload("bob", "hi")
	if !bytes.Equal(p, []byte("bob\x00hi")) {
		t.Fatalf("payload = %q", p)
	}

	name, msg, err := ParseChat(p)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if name != "bob" || msg != "hi" {
		t.Fatalf("got %q/%q", name, msg)
	}

	if _, _, err := ParseChat([]byte("no-separator")); err == nil {
		t.Fatalf("expected error on missing separator")
	}
}

func TestMetaPayloadRoundTrip(t *testing.T) {
	in := Meta{Recipient: "bob", Filename: "notes.txt", TotalChunks: 3, FileSize: 150000}
	out, err := ParseMeta(MetaPayload(in))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if out != in {
		t.Fatalf("got %+v want %+v", out, in)
	}
}

func TestParseMetaMalformed(t *testing.T) {
	bad := [][]byte{
		[]byte("norecipient"),
		[]byte("bob\x00nofilename"),
		append([]byte("bob\x00f\x00"), make([]byte, 11)...), // short trailer
	}
	for _, p := range bad {
		if _, err := ParseMeta(p); err == nil {
			t.Fatalf("expected error for %q", p)
		}
	}
}

func TestRecipient(t *testing.T) {
	if to, ok := Recipient(MetaPayload(Meta{Recipient: "carol", Filename: "x"})); !ok || to != "carol" {
		t.Fatalf("got %q ok=%v", to, ok)
	}
	if _, ok := Recipient([]byte("broken")); ok {
		t.Fatalf("expected not ok without separator")
	}
}

func TestChunkPayload(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5}
	id, got, err := ParseChunk(ChunkPayload(77, data))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id != 77 || !bytes.Equal(got, data) {
		t.Fatalf("id=%d data=%v", id, got)
	}

	if _, _, err := ParseChunk([]byte{0, 0}); err == nil {
		t.Fatalf("expected error on short chunk payload")
	}
}

func TestHelloPayload(t *testing.T) {
	if got := ParseHello(HelloPayload("alice")); got != "alice" {
		t.Fatalf("got %q", got)
	}
	// Tolerate a missing terminator.
	if got := ParseHello([]byte("alice")); got != "alice" {
		t.Fatalf("got %q", got)
	}
}

func TestBeacon(t *testing.T) {
	raw := MarshalBeacon(Beacon{Name: "den", IP: "192.168.1.10", Port: 5557, Version: BeaconVersion})
	b, ok := ParseBeacon(raw)
	if !ok {
		t.Fatalf("expected valid beacon")
	}
	if b.Name != "den" || b.IP != "192.168.1.10" || b.Port != 5557 {
		t.Fatalf("got %+v", b)
	}

	for _, bad := range []string{
		"not json",
		`{"ip":"1.2.3.4","port":1}`,
		`{"name":"x","port":1}`,
		`{"name":"x","ip":"1.2.3.4"}`,
		`{"name":"x","ip":"1.2.3.4","port":0}`,
	} {
		if _, ok := ParseBeacon([]byte(bad)); ok {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}
