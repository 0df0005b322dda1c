// Package httpapi exposes chain state and submission over REST, plus a
// WebSocket feed of newly committed blocks. It never mutates consensus
// state directly: mutating routes hand off to consensus.Factory, which
// applies them on its own single executor goroutine.
package httpapi


// commandRequest is the flattened wire shape PUT /transaction accepts for
// one command: a "command" discriminator field plus whichever of the
// type-specific fields apply. This is distinct from core's {kind,payload}
// envelope, which is the inter-node wire format, not the client-facing one.
type commandRequest struct {
	Seq       uint32 `json:"seq"`
	Command   string `json:"command"`
	Host      string `json:"host,omitempty"`
	Port      uint16 `json:"port,omitempty"`
	PublicKey string `json:"publicKey,omitempty"`
	Stake     int64  `json:"stake,omitempty"`
	Namespace string `json:"ns,omitempty"`
	Base64url string `json:"base64url,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type transactionAcceptedResponse struct {
	Ident string `json:"ident"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type peerView struct {
	PublicKey string `json:"publicKey"`
	Host      string `json:"host"`
	Port      uint16 `json:"port"`
	Stake     int64  `json:"stake"`
}

type networkView struct {
	Height     uint64     `json:"height"`
	TotalStake int64      `json:"totalStake"`
	Quorum     int64      `json:"quorum"`
	Peers      []peerView `json:"peers"`
}

type stateView struct {
	PublicKey string `json:"publicKey"`
	Host      string `json:"host"`
	Port      uint16 `json:"port"`
	Stake     int64  `json:"stake"`
	Member    bool   `json:"member"`
}

type poolTxView struct {
	Ident     string `json:"ident"`
	Origin    string `json:"origin"`
	Timestamp int64  `json:"timestamp"`
}

type poolVoteView struct {
	BlockHash string   `json:"blockHash"`
	Signers   []string `json:"signers"`
}

type poolCommitView struct {
	BlockHash string   `json:"blockHash"`
	Signers   []string `json:"signers"`
	Stake     int64    `json:"stake"`
	Quorum    int64    `json:"quorum"`
	Ready     bool     `json:"ready"`
}
