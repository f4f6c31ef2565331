// Package websocket implements transport.Adapter over a gateway websocket
// connection.
package websocket

import (
	"context"
	"sync"

	"nhooyr.io/websocket"

	"github.com/coral-im/coral/transport"
	"github.com/coral-im/coral/transport/frame"
)

// readLimit generously bounds one websocket message. A large guild's
// GUILD_CREATE runs to several megabytes; the default 32KB limit would
// kill the connection on the first one.
const readLimit = 512 << 20

// Adapter implements transport.Adapter over a websocket connection.
// The socket already provides message boundaries; in transport-compression
// mode those boundaries are compressed fragments that the frame decoder
// reassembles into protocol messages.
type Adapter struct {
	conn       *websocket.Conn
	dec        *frame.Decoder
	incoming   chan transport.Message
	disconnect chan transport.DisconnectEvent
	writeMu    sync.Mutex // one writer at a time, frames must never interleave
	closeOnce  sync.Once
	ctx        context.Context
	cancel     context.CancelFunc
}

// Dial opens a gateway socket and starts its read loop. compressed must
// match the compression parameter negotiated in the URL — the decoder has
// no way to detect the mode from the bytes alone.
func Dial(ctx context.Context, url string, compressed bool) (*Adapter, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(readLimit)

	runCtx, cancel := context.WithCancel(context.Background())
	a := &Adapter{
		conn:       conn,
		dec:        frame.NewDecoder(compressed),
		incoming:   make(chan transport.Message, 64),
		disconnect: make(chan transport.DisconnectEvent, 1),
		ctx:        runCtx,
		cancel:     cancel,
	}
	go a.readLoop()
	return a, nil
}

// Send writes one encoded control message. Serialized by writeMu so that
// concurrent callers (heartbeat loop, identify, chunk requests) cannot
// interleave partial frames.
func (a *Adapter) Send(ctx context.Context, payload []byte) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	if a.ctx.Err() != nil {
		return transport.ErrTransportClosed
	}
	if err := a.conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return transport.ErrTransportClosed
	}
	return nil
}

func (a *Adapter) Receive() <-chan transport.Message {
	return a.incoming
}

func (a *Adapter) Disconnected() <-chan transport.DisconnectEvent {
	return a.disconnect
}

func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.cancel()
		err = a.conn.Close(websocket.StatusNormalClosure, "closed")
	})
	return err
}

func (a *Adapter) readLoop() {
	defer func() {
		close(a.incoming)
		a.Close()
	}()

	for {
		_, data, err := a.conn.Read(a.ctx)
		if err != nil {
			a.signalDisconnect(err)
			return
		}

		msg, err := a.dec.Feed(data)
		if err != nil {
			// Decompression failure is fatal: the stream context is
			// gone and every buffered byte with it. Surface it as a
			// must-reconnect signal, never retry in place.
			a.sendEvent(transport.DisconnectEvent{
				Reason: transport.ReasonProtocolError,
				Err:    err,
			})
			return
		}
		if msg == nil {
			continue // message still incomplete
		}

		select {
		case a.incoming <- *msg:
		case <-a.ctx.Done():
			return
		}
	}
}

// signalDisconnect classifies a read error into exactly one disconnect
// event. A remote close carries its status code so the shard layer can
// consult the resumability table.
func (a *Adapter) signalDisconnect(err error) {
	event := transport.DisconnectEvent{}

	status := websocket.CloseStatus(err)
	switch {
	case a.ctx.Err() != nil:
		event.Reason = transport.ReasonClosedClean
	case status != -1:
		event.Reason = transport.ReasonRemoteClose
		event.Code = int(status)
		event.Err = err
	default:
		event.Reason = transport.ReasonNetworkError
		event.Err = err
	}

	a.sendEvent(event)
}

// sendEvent delivers at most one disconnect event; later ones are dropped.
func (a *Adapter) sendEvent(event transport.DisconnectEvent) {
	select {
	case a.disconnect <- event:
	default:
	}
}
