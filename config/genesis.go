package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/diva-network/divachain/core"
	"github.com/diva-network/divachain/crypto"
)

// GenesisPeer describes one validator's starting registry entry.
type GenesisPeer struct {
	PublicKey string `json:"public_key"`
	Host      string `json:"host"`
	Port      uint16 `json:"port"`
	Stake     int64  `json:"stake"`
}

// GenesisDocument is the human-authored source for a chain's genesis block:
// the initial validator set, expressed as AddPeer/ModifyStake commands
// rather than account balances.
type GenesisDocument struct {
	ChainID string        `json:"chain_id"`
	Peers   []GenesisPeer `json:"peers"`
}

// BuildGenesisBlock folds doc's peers into a single synthetic transaction
// of AddPeerCommand/ModifyStakeCommand pairs and wraps it in an unsigned
// height-0 block. The genesis block carries no transaction signatures and
// no proposer signature — core.Block.VerifyStructure exempts it from both
// since no validator is registered yet to produce them.
func BuildGenesisBlock(doc *GenesisDocument) (*core.Block, error) {
	if len(doc.Peers) == 0 {
		return nil, fmt.Errorf("genesis document: at least one peer is required")
	}

	cmds := make([]core.Command, 0, len(doc.Peers)*2)
	var seq uint32
	for _, p := range doc.Peers {
		pub, err := crypto.ParsePublicKey(p.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("genesis peer %q: %w", p.PublicKey, err)
		}
		seq++
		cmds = append(cmds, core.AddPeerCommand{SeqNum: seq, Host: p.Host, Port: p.Port, PublicKey: pub})
		seq++
		cmds = append(cmds, core.ModifyStakeCommand{SeqNum: seq, PublicKey: pub, Stake: p.Stake})
	}

	tx := &core.Transaction{
		Ident:     "genesis:" + doc.ChainID,
		Timestamp: 0,
		Commands:  cmds,
	}
	block := &core.Block{Version: 1, Height: 0, Tx: []*core.Transaction{tx}}
	block.Hash = block.ComputeHash()
	return block, nil
}

// WriteGenesisFile marshals block and writes it to path, the format
// store.Store.LoadOrInitGenesis reads on a fresh node.
func WriteGenesisFile(path string, block *core.Block) error {
	data, err := core.MarshalBlock(block)
	if err != nil {
		return fmt.Errorf("marshal genesis block: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadGenesisDocument reads a GenesisDocument from path.
func LoadGenesisDocument(path string) (*GenesisDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis document %q: %w", path, err)
	}
	var doc GenesisDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse genesis document %q: %w", path, err)
	}
	return &doc, nil
}
