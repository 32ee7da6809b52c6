// Package wire implements the length-prefixed gob framing used by the
// inbound and outbound RPC surfaces: a 4-byte big-endian length prefix
// followed by a gob-encoded message, mirroring the framing
// internal/p2p/server.go hand-rolls around net.Conn.
package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
)

// MessageKind distinguishes the payload carried by a Frame.
type MessageKind uint8

const (
	KindTransaction MessageKind = iota + 1
	KindBatch
	KindProposal
)

// TransactionMsg carries a single transaction (OnTransaction).
type TransactionMsg struct {
	ID      []byte
	Payload []byte
}

// BatchMsg carries an ordered batch of transactions (OnBatch).
type BatchMsg struct {
	Transactions []TransactionMsg
}

// ProposalMsg carries a proposal for delivery to one peer (OnProposal).
type ProposalMsg struct {
	Height       uint64
	CreatedAtUTC int64 // milliseconds since epoch
	Transactions []TransactionMsg
}

// Frame is the envelope written to the wire: a kind tag plus the
// gob-encoded payload matching that kind.
type Frame struct {
	Kind    MessageKind
	Payload []byte
}

const maxFrameSize = 64 << 20 // 64 MiB, generous upper bound against a malformed length prefix

// WriteFrame writes a length-prefixed frame to w.
func WriteFrame(w io.Writer, f Frame) error {
	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(f); err != nil {
		return fmt.Errorf("wire: encode frame: %w", err)
	}

	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(body.Len()))
	if _, err := w.Write(lenBuf); err != nil {
		return fmt.Errorf("wire: write length prefix: %w", err)
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		return fmt.Errorf("wire: write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return Frame{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf)
	if n > maxFrameSize {
		return Frame{}, fmt.Errorf("wire: frame size %d exceeds max %d", n, maxFrameSize)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, fmt.Errorf("wire: read frame body: %w", err)
	}

	var f Frame
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&f); err != nil {
		return Frame{}, fmt.Errorf("wire: decode frame: %w", err)
	}
	return f, nil
}

// EncodePayload gob-encodes msg (a TransactionMsg, BatchMsg, or
// ProposalMsg) into a Frame's Payload field.
func EncodePayload(kind MessageKind, msg any) (Frame, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return Frame{}, fmt.Errorf("wire: encode payload: %w", err)
	}
	return Frame{Kind: kind, Payload: buf.Bytes()}, nil
}

// DecodeTransaction decodes f.Payload as a TransactionMsg.
func DecodeTransaction(f Frame) (TransactionMsg, error) {
	var m TransactionMsg
	err := gob.NewDecoder(bytes.NewReader(f.Payload)).Decode(&m)
	return m, err
}

// DecodeBatch decodes f.Payload as a BatchMsg.
func DecodeBatch(f Frame) (BatchMsg, error) {
	var m BatchMsg
	err := gob.NewDecoder(bytes.NewReader(f.Payload)).Decode(&m)
	return m, err
}

// DecodeProposal decodes f.Payload as a ProposalMsg.
func DecodeProposal(f Frame) (ProposalMsg, error) {
	var m ProposalMsg
	err := gob.NewDecoder(bytes.NewReader(f.Payload)).Decode(&m)
	return m, err
}
