// Package frame reassembles the gateway's byte stream into discrete
// protocol messages.
//
// In transport-compression mode the service deflates every payload into
// one continuous stream and byte-aligns it after each message with a zlib
// sync flush, so a message is complete exactly when the accumulated bytes
// end with the flush marker 00 00 FF FF. Because the stream never
// terminates, each delimited segment is a run of complete deflate blocks
// whose back-references may reach into earlier messages — the decoder
// carries the 32KB sliding window across segments instead of resetting
// per message.
package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/coral-im/coral/transport"
)

// flushMarker is the byte-aligned tail a zlib sync flush leaves behind:
// the LEN/NLEN words of an empty stored block.
var flushMarker = []byte{0x00, 0x00, 0xff, 0xff}

// maxWindow is the deflate window size; decompressed history beyond this
// can never be referenced again and is trimmed.
const maxWindow = 32 * 1024

// ErrCorruptStream means the compressed stream can no longer be decoded.
// The connection must be torn down and the codec discarded — there is no
// way to resynchronise a deflate stream in place.
var ErrCorruptStream = errors.New("frame: corrupt compressed stream")

// Decoder turns socket chunks into transport messages.
// One Decoder serves exactly one connection; a reconnect gets a fresh one
// because the compression context does not survive the socket.
type Decoder struct {
	compressed bool
	buf        []byte // raw bytes of the message being accumulated
	window     []byte // sliding dictionary carried between messages
	started    bool   // zlib stream header consumed
}

// NewDecoder creates a codec for one connection. compressed selects
// transport-compression mode; without it every chunk is one complete
// JSON message (the socket already provides message boundaries).
func NewDecoder(compressed bool) *Decoder {
	return &Decoder{compressed: compressed}
}

// Feed appends one socket chunk and returns a complete message if the
// chunk finished one, (nil, nil) otherwise. Any returned error is fatal
// to the connection.
func (d *Decoder) Feed(chunk []byte) (*transport.Message, error) {
	if !d.compressed {
		return parse(chunk)
	}

	d.buf = append(d.buf, chunk...)
	if len(d.buf) < len(flushMarker) || !bytes.HasSuffix(d.buf, flushMarker) {
		return nil, nil
	}

	seg := d.buf
	d.buf = nil

	// The very first segment opens with the 2-byte zlib header. The
	// trailing adler32 checksum never arrives because the stream never
	// ends, so plain deflate with a carried dictionary is the whole story.
	if !d.started {
		if len(seg) < 2 || seg[0]&0x0f != 8 {
			return nil, fmt.Errorf("%w: bad stream header", ErrCorruptStream)
		}
		seg = seg[2:]
		d.started = true
	}

	fr := flate.NewReaderDict(bytes.NewReader(seg), d.window)
	out, err := io.ReadAll(fr)
	fr.Close()
	// The segment ends mid-stream by design (no final block), so the
	// reader runs out of input after producing the full message.
	// Anything other than that is real corruption.
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStream, err)
	}

	d.window = append(d.window, out...)
	if len(d.window) > maxWindow {
		d.window = d.window[len(d.window)-maxWindow:]
	}

	return parse(out)
}

// Buffered reports how many raw bytes of an incomplete message are
// pending. Useful for observability and tests.
func (d *Decoder) Buffered() int { return len(d.buf) }

func parse(data []byte) (*transport.Message, error) {
	var msg transport.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("frame: malformed message: %w", err)
	}
	return &msg, nil
}
