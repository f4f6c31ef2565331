package frame

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/klauspost/compress/zlib"
)

// stream mimics the service side of transport compression: one zlib
// stream for the whole connection, sync-flushed after every message so
// each message ends byte-aligned on the 00 00 FF FF marker.
type stream struct {
	buf bytes.Buffer
	zw  *zlib.Writer
}

func newStream(t *testing.T) *stream {
	s := &stream{}
	s.zw = zlib.NewWriter(&s.buf)
	t.Helper()
	return s
}

// message compresses one payload and returns the bytes the service would
// put in one websocket binary message.
func (s *stream) message(t *testing.T, payload string) []byte {
	t.Helper()
	if _, err := s.zw.Write([]byte(payload)); err != nil {
		t.Fatalf("compress: %v", err)
	}
	if err := s.zw.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	out := append([]byte(nil), s.buf.Bytes()...)
	s.buf.Reset()
	return out
}

// TestUncompressedPassthrough checks that without transport compression
// every chunk is one complete JSON message.
func TestUncompressedPassthrough(t *testing.T) {
	d := NewDecoder(false)

	msg, err := d.Feed([]byte(`{"op":10,"d":{"heartbeat_interval":41250}}`))
	if err != nil {
		t.Fatalf("feed failed: %v", err)
	}
	if msg == nil {
		t.Fatal("expected a message")
	}
	if msg.Op != 10 {
		t.Errorf("expected op 10, got %d", msg.Op)
	}
}

// TestCompressedSingleMessage checks one whole compressed message in one
// chunk.
func TestCompressedSingleMessage(t *testing.T) {
	s := newStream(t)
	d := NewDecoder(true)

	msg, err := d.Feed(s.message(t, `{"op":11,"d":null}`))
	if err != nil {
		t.Fatalf("feed failed: %v", err)
	}
	if msg == nil {
		t.Fatal("expected a message")
	}
	if msg.Op != 11 {
		t.Errorf("expected op 11, got %d", msg.Op)
	}
}

// TestCompressedMessageSplitAcrossChunks checks reassembly: chunks
// without the trailing flush marker accumulate, the closing chunk yields
// the message.
func TestCompressedMessageSplitAcrossChunks(t *testing.T) {
	s := newStream(t)

	whole := s.message(t, `{"op":0,"t":"MESSAGE_CREATE","s":1,"d":{"content":"hello"}}`)
	if len(whole) < 8 {
		t.Fatalf("compressed message too small to split: %d bytes", len(whole))
	}

	// split so that no prefix ends with the marker
	for _, cut := range []int{3, len(whole) / 2, len(whole) - 2} {
		dd := NewDecoder(true)
		msg, err := dd.Feed(whole[:cut])
		if err != nil {
			t.Fatalf("cut %d: feed failed: %v", cut, err)
		}
		if msg != nil {
			t.Fatalf("cut %d: incomplete data must not yield a message", cut)
		}
		if dd.Buffered() != cut {
			t.Errorf("cut %d: expected %d buffered bytes, got %d", cut, cut, dd.Buffered())
		}

		msg, err = dd.Feed(whole[cut:])
		if err != nil {
			t.Fatalf("cut %d: closing feed failed: %v", cut, err)
		}
		if msg == nil {
			t.Fatalf("cut %d: expected the completed message", cut)
		}
		if msg.Event != "MESSAGE_CREATE" {
			t.Errorf("cut %d: expected MESSAGE_CREATE, got %q", cut, msg.Event)
		}
		if msg.Seq == nil || *msg.Seq != 1 {
			t.Errorf("cut %d: sequence not decoded", cut)
		}
	}
}

// TestCompressedDictionaryPersists checks the property the shared-window
// design exists for: later messages back-reference earlier ones, so a
// decoder that reset its window per message would corrupt them.
func TestCompressedDictionaryPersists(t *testing.T) {
	s := newStream(t)
	d := NewDecoder(true)

	// near-identical payloads compress into back-references after the first
	for i := 0; i < 50; i++ {
		payload := fmt.Sprintf(`{"op":0,"t":"TYPING_START","s":%d,"d":{"channel_id":"123456789"}}`, i+1)
		msg, err := d.Feed(s.message(t, payload))
		if err != nil {
			t.Fatalf("message %d: feed failed: %v", i, err)
		}
		if msg == nil {
			t.Fatalf("message %d: expected a decoded message", i)
		}
		if msg.Event != "TYPING_START" {
			t.Errorf("message %d: got event %q", i, msg.Event)
		}
		if msg.Seq == nil || *msg.Seq != uint64(i+1) {
			t.Errorf("message %d: wrong sequence", i)
		}
	}
}

// TestCorruptStreamIsFatal checks that undecodable bytes surface
// ErrCorruptStream rather than a silent skip.
func TestCorruptStreamIsFatal(t *testing.T) {
	s := newStream(t)
	d := NewDecoder(true)

	if _, err := d.Feed(s.message(t, `{"op":11,"d":null}`)); err != nil {
		t.Fatalf("setup feed failed: %v", err)
	}

	// BTYPE 11 is reserved, guaranteed invalid deflate
	garbage := append([]byte{0x06, 0x00}, flushMarker...)
	_, err := d.Feed(garbage)
	if err == nil {
		t.Fatal("expected an error for a corrupt segment")
	}
	if !errors.Is(err, ErrCorruptStream) {
		t.Errorf("expected ErrCorruptStream, got %v", err)
	}
}

// TestBadStreamHeaderIsFatal checks the first-segment zlib header check.
func TestBadStreamHeaderIsFatal(t *testing.T) {
	d := NewDecoder(true)

	bad := append([]byte{0xff, 0xff, 0x01}, flushMarker...)
	_, err := d.Feed(bad)
	if !errors.Is(err, ErrCorruptStream) {
		t.Errorf("expected ErrCorruptStream for a bad header, got %v", err)
	}
}
