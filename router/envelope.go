// Package router implements the signed, sequenced message envelope every
// node exchanges over the peer overlay, and the per-origin replay
// suppression that guards it. It has no transport knowledge of its own —
// network.Peer carries the marshaled envelope bytes.
package router

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/diva-network/divachain/canon"
	"github.com/diva-network/divachain/core"
	"github.com/diva-network/divachain/crypto"
)

var identPattern = regexp.MustCompile(`^[A-Za-z0-9,_-]{1,128}$`)

// PayloadKind discriminates the five message variants.
type PayloadKind string

const (
	KindAddTx   PayloadKind = "addTx"
	KindPropose PayloadKind = "propose"
	KindSign    PayloadKind = "sign"
	KindConfirm PayloadKind = "confirm"
	KindSync    PayloadKind = "sync"
)

// Payload is the message-specific body of an Envelope.
type Payload interface {
	Kind() PayloadKind
	canonWrite(w *canon.Writer)
}

// AddTxPayload relays a signed local transaction for inclusion.
type AddTxPayload struct {
	Transaction *core.Transaction
}

func (p AddTxPayload) Kind() PayloadKind { return KindAddTx }
func (p AddTxPayload) canonWrite(w *canon.Writer) {
	w.Object([]string{"kind", "txIdent", "txOrigin", "txContentHash"}, func(i int) {
		switch i {
		case 0:
			w.Str(string(KindAddTx))
		case 1:
			w.Str(p.Transaction.Ident)
		case 2:
			w.Str(p.Transaction.Origin.String())
		case 3:
			w.Str(p.Transaction.ContentHash().String())
		}
	})
}

// ProposePayload broadcasts a proposer's candidate block.
type ProposePayload struct {
	Block *core.Block
}

func (p ProposePayload) Kind() PayloadKind { return KindPropose }
func (p ProposePayload) canonWrite(w *canon.Writer) {
	w.Object([]string{"kind", "blockHash", "height"}, func(i int) {
		switch i {
		case 0:
			w.Str(string(KindPropose))
		case 1:
			w.Str(p.Block.Hash.String())
		case 2:
			w.Uint(p.Block.Height)
		}
	})
}

// SignPayload carries a validator's detached signature over a candidate's
// hash, returned to the proposer during the Signing phase.
type SignPayload struct {
	BlockHash crypto.Hash
	Signature crypto.Signature
}

func (p SignPayload) Kind() PayloadKind { return KindSign }
func (p SignPayload) canonWrite(w *canon.Writer) {
	w.Object([]string{"kind", "blockHash", "sig"}, func(i int) {
		switch i {
		case 0:
			w.Str(string(KindSign))
		case 1:
			w.Str(p.BlockHash.String())
		case 2:
			w.Str(p.Signature.String())
		}
	})
}

// ConfirmPayload broadcasts a quorum-attested block for every node to
// append.
type ConfirmPayload struct {
	Block *core.Block
}

func (p ConfirmPayload) Kind() PayloadKind { return KindConfirm }
func (p ConfirmPayload) canonWrite(w *canon.Writer) {
	w.Object([]string{"kind", "blockHash", "votesHash"}, func(i int) {
		switch i {
		case 0:
			w.Str(string(KindConfirm))
		case 1:
			w.Str(p.Block.Hash.String())
		case 2:
			w.Str(p.Block.VotesHash().String())
		}
	})
}

// SyncPayload requests a range of blocks from a peer during bootstrap or
// catch-up.
type SyncPayload struct {
	FromHeight uint64
	ToHeight   uint64
}

func (p SyncPayload) Kind() PayloadKind { return KindSync }
func (p SyncPayload) canonWrite(w *canon.Writer) {
	w.Object([]string{"kind", "fromHeight", "toHeight"}, func(i int) {
		switch i {
		case 0:
			w.Str(string(KindSync))
		case 1:
			w.Uint(p.FromHeight)
		case 2:
			w.Uint(p.ToHeight)
		}
	})
}

// Envelope is the signed, sequenced wrapper around every peer message.
// Sig covers ident ∥ seq ∥ origin ∥ dest ∥ canonical(data).
type Envelope struct {
	Ident  string
	Seq    uint64
	Origin crypto.PublicKey
	Dest   crypto.PublicKey // empty means broadcast
	Data   Payload
	Sig    crypto.Signature
}

func (e *Envelope) canonWrite(w *canon.Writer) {
	w.Str(e.Ident)
	w.Uint(e.Seq)
	w.Str(e.Origin.String())
	w.Str(e.Dest.String())
	e.Data.canonWrite(w)
}

// SigningBytes returns the exact bytes signed and verified for this
// envelope.
func (e *Envelope) SigningBytes() []byte {
	var w canon.Writer
	e.canonWrite(&w)
	return w.Bytes()
}

// Sign signs the envelope with priv and sets Origin/Sig.
func (e *Envelope) Sign(priv crypto.PrivateKey) {
	e.Origin = priv.Public()
	e.Sig = crypto.Sign(priv, e.SigningBytes())
}

// Verify checks the envelope's ident shape and signature. It does not check
// registry membership or replay state — callers combine this with a
// SeqTracker and a registry snapshot.
func (e *Envelope) Verify() error {
	if !identPattern.MatchString(e.Ident) {
		return fmt.Errorf("invalid envelope ident %q", e.Ident)
	}
	if len(e.Origin) == 0 {
		return fmt.Errorf("envelope %s: missing origin", e.Ident)
	}
	if err := crypto.Verify(e.Origin, e.SigningBytes(), e.Sig); err != nil {
		return fmt.Errorf("envelope %s: signature: %w", e.Ident, err)
	}
	return nil
}

// ---- wire (JSON) encoding ----

type envelopeWire struct {
	Ident   string          `json:"ident"`
	Seq     uint64          `json:"seq"`
	Origin  string          `json:"origin"`
	Dest    string          `json:"dest,omitempty"`
	Kind    PayloadKind     `json:"kind"`
	Payload json.RawMessage `json:"payload"`
	Sig     string          `json:"sig"`
}

type addTxWire struct {
	Transaction json.RawMessage `json:"transaction"`
}

type proposeWire struct {
	Block json.RawMessage `json:"block"`
}

type signWire struct {
	BlockHash string `json:"blockHash"`
	Sig       string `json:"sig"`
}

type confirmWire struct {
	Block json.RawMessage `json:"block"`
}

type syncWire struct {
	FromHeight uint64 `json:"fromHeight"`
	ToHeight   uint64 `json:"toHeight"`
}

// MarshalEnvelope encodes e into its wire JSON form.
func MarshalEnvelope(e *Envelope) ([]byte, error) {
	var payloadJSON []byte
	var err error
	switch p := e.Data.(type) {
	case AddTxPayload:
		txJSON, merr := core.MarshalTransaction(p.Transaction)
		if merr != nil {
			return nil, merr
		}
		payloadJSON, err = json.Marshal(addTxWire{Transaction: txJSON})
	case ProposePayload:
		blockJSON, merr := core.MarshalBlock(p.Block)
		if merr != nil {
			return nil, merr
		}
		payloadJSON, err = json.Marshal(proposeWire{Block: blockJSON})
	case SignPayload:
		payloadJSON, err = json.Marshal(signWire{BlockHash: p.BlockHash.String(), Sig: p.Signature.String()})
	case ConfirmPayload:
		blockJSON, merr := core.MarshalBlock(p.Block)
		if merr != nil {
			return nil, merr
		}
		payloadJSON, err = json.Marshal(confirmWire{Block: blockJSON})
	case SyncPayload:
		payloadJSON, err = json.Marshal(syncWire{FromHeight: p.FromHeight, ToHeight: p.ToHeight})
	default:
		return nil, fmt.Errorf("unknown payload type %T", e.Data)
	}
	if err != nil {
		return nil, err
	}

	var destStr string
	if len(e.Dest) > 0 {
		destStr = e.Dest.String()
	}
	return json.Marshal(envelopeWire{
		Ident:   e.Ident,
		Seq:     e.Seq,
		Origin:  e.Origin.String(),
		Dest:    destStr,
		Kind:    e.Data.Kind(),
		Payload: payloadJSON,
		Sig:     e.Sig.String(),
	})
}

// UnmarshalEnvelope decodes e from its wire JSON form.
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	var w envelopeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("envelope: %w", err)
	}
	origin, err := crypto.ParsePublicKey(w.Origin)
	if err != nil {
		return nil, fmt.Errorf("envelope origin: %w", err)
	}
	var dest crypto.PublicKey
	if w.Dest != "" {
		dest, err = crypto.ParsePublicKey(w.Dest)
		if err != nil {
			return nil, fmt.Errorf("envelope dest: %w", err)
		}
	}
	sig, err := crypto.ParseSignature(w.Sig)
	if err != nil {
		return nil, fmt.Errorf("envelope sig: %w", err)
	}

	var payload Payload
	switch w.Kind {
	case KindAddTx:
		var p addTxWire
		if err := json.Unmarshal(w.Payload, &p); err != nil {
			return nil, err
		}
		tx, err := core.UnmarshalTransaction(p.Transaction)
		if err != nil {
			return nil, fmt.Errorf("addTx payload: %w", err)
		}
		payload = AddTxPayload{Transaction: tx}
	case KindPropose:
		var p proposeWire
		if err := json.Unmarshal(w.Payload, &p); err != nil {
			return nil, err
		}
		block, err := core.UnmarshalBlock(p.Block)
		if err != nil {
			return nil, fmt.Errorf("propose payload: %w", err)
		}
		payload = ProposePayload{Block: block}
	case KindSign:
		var p signWire
		if err := json.Unmarshal(w.Payload, &p); err != nil {
			return nil, err
		}
		hash, err := crypto.ParseHash(p.BlockHash)
		if err != nil {
			return nil, fmt.Errorf("sign payload blockHash: %w", err)
		}
		sig, err := crypto.ParseSignature(p.Sig)
		if err != nil {
			return nil, fmt.Errorf("sign payload sig: %w", err)
		}
		payload = SignPayload{BlockHash: hash, Signature: sig}
	case KindConfirm:
		var p confirmWire
		if err := json.Unmarshal(w.Payload, &p); err != nil {
			return nil, err
		}
		block, err := core.UnmarshalBlock(p.Block)
		if err != nil {
			return nil, fmt.Errorf("confirm payload: %w", err)
		}
		payload = ConfirmPayload{Block: block}
	case KindSync:
		var p syncWire
		if err := json.Unmarshal(w.Payload, &p); err != nil {
			return nil, err
		}
		payload = SyncPayload{FromHeight: p.FromHeight, ToHeight: p.ToHeight}
	default:
		return nil, fmt.Errorf("unknown envelope payload kind %q", w.Kind)
	}

	return &Envelope{
		Ident:  w.Ident,
		Seq:    w.Seq,
		Origin: origin,
		Dest:   dest,
		Data:   payload,
		Sig:    sig,
	}, nil
}
