// Copyright (c) 2024 The illium developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package mixnet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// maxFrameSize bounds a single frame read from the mixnet client.
const maxFrameSize = 1 << 20 // 1 MiB

// wireFrame is the CBOR frame exchanged with the local mixnet client
// over its unix socket. Inbound frames carry a request payload and the
// reply handle to answer through; outbound frames carry the handle and
// the response payload.
type wireFrame struct {
	ReplyTag []byte `cbor:"replytag"`
	Payload  []byte `cbor:"payload"`
}

// SocketTransport speaks length-prefixed CBOR frames with a mixnet
// client daemon over a unix socket. The daemon owns all mixnet
// cryptography and routing; this side only sees envelopes.
type SocketTransport struct {
	conn net.Conn
	recv chan *Envelope

	writeMtx sync.Mutex
	quit     chan struct{}
	wg       sync.WaitGroup
}

// NewSocketTransport connects to the mixnet client's unix socket.
func NewSocketTransport(socketPath string) (*SocketTransport, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("dialing mixnet client: %w", err)
	}
	return &SocketTransport{
		conn: conn,
		recv: make(chan *Envelope),
		quit: make(chan struct{}),
	}, nil
}

// Start launches the read loop.
func (t *SocketTransport) Start() {
	t.wg.Add(1)
	go t.readLoop()
}

// Stop closes the connection and waits for the read loop to exit. The
// receive channel is closed.
func (t *SocketTransport) Stop() {
	close(t.quit)
	t.conn.Close()
	t.wg.Wait()
}

// Receive returns the channel inbound envelopes are delivered on.
func (t *SocketTransport) Receive() <-chan *Envelope {
	return t.recv
}

// SendReply routes a payload back through a single-use reply handle.
func (t *SocketTransport) SendReply(replyTag []byte, payload []byte) error {
	data, err := cbor.Marshal(&wireFrame{ReplyTag: replyTag, Payload: payload})
	if err != nil {
		return err
	}
	if len(data) > maxFrameSize {
		return errors.New("reply exceeds maximum frame size")
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(data)))

	t.writeMtx.Lock()
	defer t.writeMtx.Unlock()
	if _, err := t.conn.Write(prefix[:]); err != nil {
		return err
	}
	_, err = t.conn.Write(data)
	return err
}

func (t *SocketTransport) readLoop() {
	defer t.wg.Done()
	defer close(t.recv)

	var prefix [4]byte
	for {
		if _, err := io.ReadFull(t.conn, prefix[:]); err != nil {
			t.logReadErr(err)
			return
		}
		size := binary.BigEndian.Uint32(prefix[:])
		if size > maxFrameSize {
			log.Errorf("mixnet client sent oversized frame (%d bytes)", size)
			return
		}
		data := make([]byte, size)
		if _, err := io.ReadFull(t.conn, data); err != nil {
			t.logReadErr(err)
			return
		}

		frame := new(wireFrame)
		if err := cbor.Unmarshal(data, frame); err != nil {
			log.Warnf("undecodable frame from mixnet client: %s", err)
			continue
		}

		select {
		case t.recv <- &Envelope{ReplyTag: frame.ReplyTag, Payload: frame.Payload}:
		case <-t.quit:
			return
		}
	}
}

func (t *SocketTransport) logReadErr(err error) {
	select {
	case <-t.quit:
	default:
		log.Errorf("mixnet client connection lost: %s", err)
	}
}
