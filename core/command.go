// Package core defines the data model shared by every divachain node:
// commands, transactions, and blocks, along with the structural invariants
// they must satisfy. It has no knowledge of storage, networking, or
// consensus state — those are built on top of it.
package core

import (
	"encoding/json"
	"fmt"

	"github.com/diva-network/divachain/canon"
	"github.com/diva-network/divachain/crypto"
)

// CommandKind discriminates the five command variants on the wire and in
// canonical encoding.
type CommandKind string

const (
	KindAddPeer     CommandKind = "addPeer"
	KindRemovePeer  CommandKind = "removePeer"
	KindModifyStake CommandKind = "modifyStake"
	KindData        CommandKind = "data"
	KindTestLoad    CommandKind = "testLoad"
)

// Command is a single validator-intent record inside a transaction. Every
// variant carries a sequence number, monotonically increasing within its
// containing transaction starting at 1.
type Command interface {
	Kind() CommandKind
	Seq() uint32
	canonWrite(w *canon.Writer)
}

// AddPeerCommand registers a new validator into the registry.
type AddPeerCommand struct {
	SeqNum    uint32
	Host      string
	Port      uint16
	PublicKey crypto.PublicKey
}

func (c AddPeerCommand) Kind() CommandKind { return KindAddPeer }
func (c AddPeerCommand) Seq() uint32       { return c.SeqNum }
func (c AddPeerCommand) canonWrite(w *canon.Writer) {
	w.Object([]string{"kind", "seq", "host", "port", "publicKey"}, func(i int) {
		switch i {
		case 0:
			w.Str(string(KindAddPeer))
		case 1:
			w.Uint(uint64(c.SeqNum))
		case 2:
			w.Str(c.Host)
		case 3:
			w.Uint(uint64(c.Port))
		case 4:
			w.Str(c.PublicKey.String())
		}
	})
}

// RemovePeerCommand removes a validator from the registry.
type RemovePeerCommand struct {
	SeqNum    uint32
	PublicKey crypto.PublicKey
}

func (c RemovePeerCommand) Kind() CommandKind { return KindRemovePeer }
func (c RemovePeerCommand) Seq() uint32       { return c.SeqNum }
func (c RemovePeerCommand) canonWrite(w *canon.Writer) {
	w.Object([]string{"kind", "seq", "publicKey"}, func(i int) {
		switch i {
		case 0:
			w.Str(string(KindRemovePeer))
		case 1:
			w.Uint(uint64(c.SeqNum))
		case 2:
			w.Str(c.PublicKey.String())
		}
	})
}

// ModifyStakeCommand sets a validator's stake, clamped to non-negative on
// application.
type ModifyStakeCommand struct {
	SeqNum    uint32
	PublicKey crypto.PublicKey
	Stake     int64
}

func (c ModifyStakeCommand) Kind() CommandKind { return KindModifyStake }
func (c ModifyStakeCommand) Seq() uint32       { return c.SeqNum }
func (c ModifyStakeCommand) canonWrite(w *canon.Writer) {
	w.Object([]string{"kind", "seq", "publicKey", "stake"}, func(i int) {
		switch i {
		case 0:
			w.Str(string(KindModifyStake))
		case 1:
			w.Uint(uint64(c.SeqNum))
		case 2:
			w.Str(c.PublicKey.String())
		case 3:
			w.Int(c.Stake)
		}
	})
}

// DataCommand stores an opaque, namespaced blob.
type DataCommand struct {
	SeqNum    uint32
	Namespace string
	Base64url string
}

func (c DataCommand) Kind() CommandKind { return KindData }
func (c DataCommand) Seq() uint32       { return c.SeqNum }
func (c DataCommand) canonWrite(w *canon.Writer) {
	w.Object([]string{"kind", "seq", "ns", "base64url"}, func(i int) {
		switch i {
		case 0:
			w.Str(string(KindData))
		case 1:
			w.Uint(uint64(c.SeqNum))
		case 2:
			w.Str(c.Namespace)
		case 3:
			w.Str(c.Base64url)
		}
	})
}

// TestLoadCommand is a no-op marker used for synthetic load generation.
type TestLoadCommand struct {
	SeqNum    uint32
	Timestamp int64
}

func (c TestLoadCommand) Kind() CommandKind { return KindTestLoad }
func (c TestLoadCommand) Seq() uint32       { return c.SeqNum }
func (c TestLoadCommand) canonWrite(w *canon.Writer) {
	w.Object([]string{"kind", "seq", "timestamp"}, func(i int) {
		switch i {
		case 0:
			w.Str(string(KindTestLoad))
		case 1:
			w.Uint(uint64(c.SeqNum))
		case 2:
			w.Int(c.Timestamp)
		}
	})
}

// CanonCommands appends the canonical encoding of an ordered command list to
// w: a JSON-style array, each element the command's own canonical object, in
// the given order with no reordering.
func CanonCommands(w *canon.Writer, cmds []Command) {
	w.Array(len(cmds), func(i int) {
		cmds[i].canonWrite(w)
	})
}

// ---- wire (JSON) encoding ----
//
// Commands are polymorphic, so their JSON wire form is a {kind, payload}
// envelope distinct from the canonical encoding above (which is only ever
// used as hash/signature input, never parsed back).

type commandWire struct {
	Kind    CommandKind     `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

type addPeerPayload struct {
	Seq       uint32 `json:"seq"`
	Host      string `json:"host"`
	Port      uint16 `json:"port"`
	PublicKey string `json:"publicKey"`
}

type removePeerPayload struct {
	Seq       uint32 `json:"seq"`
	PublicKey string `json:"publicKey"`
}

type modifyStakePayload struct {
	Seq       uint32 `json:"seq"`
	PublicKey string `json:"publicKey"`
	Stake     int64  `json:"stake"`
}

type dataPayload struct {
	Seq       uint32 `json:"seq"`
	Namespace string `json:"ns"`
	Base64url string `json:"base64url"`
}

type testLoadPayload struct {
	Seq       uint32 `json:"seq"`
	Timestamp int64  `json:"timestamp"`
}

// MarshalCommand encodes a single command into its wire envelope.
func MarshalCommand(c Command) ([]byte, error) {
	var payload any
	switch v := c.(type) {
	case AddPeerCommand:
		payload = addPeerPayload{v.SeqNum, v.Host, v.Port, v.PublicKey.String()}
	case RemovePeerCommand:
		payload = removePeerPayload{v.SeqNum, v.PublicKey.String()}
	case ModifyStakeCommand:
		payload = modifyStakePayload{v.SeqNum, v.PublicKey.String(), v.Stake}
	case DataCommand:
		payload = dataPayload{v.SeqNum, v.Namespace, v.Base64url}
	case TestLoadCommand:
		payload = testLoadPayload{v.SeqNum, v.Timestamp}
	default:
		return nil, fmt.Errorf("unknown command type %T", c)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(commandWire{Kind: c.Kind(), Payload: raw})
}

// UnmarshalCommand decodes a single command from its wire envelope.
func UnmarshalCommand(data []byte) (Command, error) {
	var w commandWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("command envelope: %w", err)
	}
	switch w.Kind {
	case KindAddPeer:
		var p addPeerPayload
		if err := json.Unmarshal(w.Payload, &p); err != nil {
			return nil, err
		}
		pub, err := crypto.ParsePublicKey(p.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("addPeer publicKey: %w", err)
		}
		return AddPeerCommand{SeqNum: p.Seq, Host: p.Host, Port: p.Port, PublicKey: pub}, nil
	case KindRemovePeer:
		var p removePeerPayload
		if err := json.Unmarshal(w.Payload, &p); err != nil {
			return nil, err
		}
		pub, err := crypto.ParsePublicKey(p.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("removePeer publicKey: %w", err)
		}
		return RemovePeerCommand{SeqNum: p.Seq, PublicKey: pub}, nil
	case KindModifyStake:
		var p modifyStakePayload
		if err := json.Unmarshal(w.Payload, &p); err != nil {
			return nil, err
		}
		pub, err := crypto.ParsePublicKey(p.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("modifyStake publicKey: %w", err)
		}
		return ModifyStakeCommand{SeqNum: p.Seq, PublicKey: pub, Stake: p.Stake}, nil
	case KindData:
		var p dataPayload
		if err := json.Unmarshal(w.Payload, &p); err != nil {
			return nil, err
		}
		return DataCommand{SeqNum: p.Seq, Namespace: p.Namespace, Base64url: p.Base64url}, nil
	case KindTestLoad:
		var p testLoadPayload
		if err := json.Unmarshal(w.Payload, &p); err != nil {
			return nil, err
		}
		return TestLoadCommand{SeqNum: p.Seq, Timestamp: p.Timestamp}, nil
	default:
		return nil, fmt.Errorf("unknown command kind %q", w.Kind)
	}
}

// MarshalCommands encodes an ordered command list as a JSON array of wire
// envelopes.
func MarshalCommands(cmds []Command) ([]byte, error) {
	raw := make([]json.RawMessage, len(cmds))
	for i, c := range cmds {
		b, err := MarshalCommand(c)
		if err != nil {
			return nil, fmt.Errorf("command %d: %w", i, err)
		}
		raw[i] = b
	}
	return json.Marshal(raw)
}

// UnmarshalCommands decodes a JSON array of wire envelopes.
func UnmarshalCommands(data []byte) ([]Command, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	cmds := make([]Command, len(raw))
	for i, r := range raw {
		c, err := UnmarshalCommand(r)
		if err != nil {
			return nil, fmt.Errorf("command %d: %w", i, err)
		}
		cmds[i] = c
	}
	return cmds, nil
}

// ValidateSeqs checks that commands carry seq numbers 1..len(commands) in
// order within a transaction.
func ValidateSeqs(cmds []Command) error {
	for i, c := range cmds {
		if c.Seq() != uint32(i+1) {
			return fmt.Errorf("command %d: expected seq %d, got %d", i, i+1, c.Seq())
		}
	}
	return nil
}
