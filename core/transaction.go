package core

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/diva-network/divachain/canon"
	"github.com/diva-network/divachain/crypto"
)

var identPattern = regexp.MustCompile(`^[A-Za-z0-9,_-]{1,32}$`)

// Transaction is an authenticated batch of commands from a single origin
// validator. Signature covers ident, timestamp, and the canonical command
// list — never the signature field itself.
type Transaction struct {
	Ident     string
	Origin    crypto.PublicKey
	Timestamp int64 // ms since epoch
	Commands  []Command
	Sig       crypto.Signature
}

// canonWrite appends the canonical signing/hashing payload:
// ident ∥ timestamp ∥ canonical(commands).
func (tx *Transaction) canonWrite(w *canon.Writer) {
	w.Str(tx.Ident)
	w.Int(tx.Timestamp)
	CanonCommands(w, tx.Commands)
}

// SigningBytes returns the exact bytes signed and verified for this
// transaction.
func (tx *Transaction) SigningBytes() []byte {
	var w canon.Writer
	tx.canonWrite(&w)
	return w.Bytes()
}

// Sign signs the transaction with priv and sets Origin/Sig.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	tx.Origin = priv.Public()
	tx.Sig = crypto.Sign(priv, tx.SigningBytes())
}

// ContentHash returns a compact, deterministic commitment to the signed
// transaction (signing bytes plus signature), used where a caller needs to
// reference this exact transaction without re-embedding its full body.
func (tx *Transaction) ContentHash() crypto.Hash {
	data := append(tx.SigningBytes(), tx.Sig...)
	return crypto.HashBytes(data)
}

// Verify checks the transaction's structural invariants and signature:
// a well-formed ident, an ordered 1..N command sequence, and a valid
// signature by Origin over the canonical payload.
func (tx *Transaction) Verify() error {
	if !identPattern.MatchString(tx.Ident) {
		return fmt.Errorf("invalid transaction ident %q", tx.Ident)
	}
	if len(tx.Origin) == 0 {
		return fmt.Errorf("transaction %s: missing origin", tx.Ident)
	}
	if err := ValidateSeqs(tx.Commands); err != nil {
		return fmt.Errorf("transaction %s: %w", tx.Ident, err)
	}
	if err := crypto.Verify(tx.Origin, tx.SigningBytes(), tx.Sig); err != nil {
		return fmt.Errorf("transaction %s: signature: %w", tx.Ident, err)
	}
	return nil
}

// NewIdent generates an 8-character URL-safe random ident, used when the
// caller does not supply one explicitly.
func NewIdent() (string, error) {
	b := make([]byte, 6) // 6 raw bytes -> 8 base64url chars
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate ident: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ---- wire (JSON) encoding ----

type transactionWire struct {
	Ident     string          `json:"ident"`
	Origin    string          `json:"origin"`
	Timestamp int64           `json:"timestamp"`
	Commands  json.RawMessage `json:"commands"`
	Sig       string          `json:"sig"`
}

// MarshalTransaction encodes tx into its wire JSON form. The genesis
// synthetic transaction carries no Origin/Sig (see Block.IsGenesisCandidate);
// those fields are omitted rather than encoded as a zero-length key, which
// would fail to parse back.
func MarshalTransaction(tx *Transaction) ([]byte, error) {
	cmdsJSON, err := MarshalCommands(tx.Commands)
	if err != nil {
		return nil, err
	}
	w := transactionWire{
		Ident:     tx.Ident,
		Timestamp: tx.Timestamp,
		Commands:  cmdsJSON,
	}
	if len(tx.Origin) > 0 {
		w.Origin = tx.Origin.String()
	}
	if len(tx.Sig) > 0 {
		w.Sig = tx.Sig.String()
	}
	return json.Marshal(w)
}

// UnmarshalTransaction decodes tx from its wire JSON form.
func UnmarshalTransaction(data []byte) (*Transaction, error) {
	var w transactionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("transaction envelope: %w", err)
	}
	tx := &Transaction{Ident: w.Ident, Timestamp: w.Timestamp}

	if w.Origin != "" {
		origin, err := crypto.ParsePublicKey(w.Origin)
		if err != nil {
			return nil, fmt.Errorf("transaction origin: %w", err)
		}
		tx.Origin = origin
	}
	if w.Sig != "" {
		sig, err := crypto.ParseSignature(w.Sig)
		if err != nil {
			return nil, fmt.Errorf("transaction sig: %w", err)
		}
		tx.Sig = sig
	}
	cmds, err := UnmarshalCommands(w.Commands)
	if err != nil {
		return nil, fmt.Errorf("transaction commands: %w", err)
	}
	tx.Commands = cmds
	return tx, nil
}
