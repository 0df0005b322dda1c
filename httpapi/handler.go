package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/diva-network/divachain/consensus"
	"github.com/diva-network/divachain/core"
	"github.com/diva-network/divachain/crypto"
	"github.com/diva-network/divachain/pool"
	"github.com/diva-network/divachain/registry"
	"github.com/diva-network/divachain/store"
)

// Handler holds everything needed to serve the REST surface. Mutating
// routes hand transactions to factory.Stack and never touch registry,
// store, or pool state directly.
type Handler struct {
	store    *store.Store
	registry *registry.Registry
	txPool   *pool.TxPool
	votePool *pool.VotePool
	factory  *consensus.Factory
	signer   *crypto.SecretKeyring
}

// NewHandler builds a Handler over the given node components. signer is
// the node's own wallet key, used to sign transactions submitted to
// PUT /transaction on the client's behalf.
func NewHandler(st *store.Store, reg *registry.Registry, txPool *pool.TxPool, votePool *pool.VotePool, factory *consensus.Factory, signer *crypto.SecretKeyring) *Handler {
	return &Handler{store: st, registry: reg, txPool: txPool, votePool: votePool, factory: factory, signer: signer}
}

// Router builds the mux.Router exposing every route, with token in front
// of mutating ones.
func (h *Handler) Router(token string) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/transaction", requireToken(token, http.HandlerFunc(h.putTransaction))).Methods(http.MethodPut)
	r.HandleFunc("/block/{which}", h.getBlock).Methods(http.MethodGet)
	r.HandleFunc("/blocks", h.getBlocks).Methods(http.MethodGet)
	r.HandleFunc("/blocks/page/{n}", h.getBlocksPage).Methods(http.MethodGet)
	r.HandleFunc("/peers", h.getPeers).Methods(http.MethodGet)
	r.HandleFunc("/network", h.getNetwork).Methods(http.MethodGet)
	r.HandleFunc("/state", h.getState).Methods(http.MethodGet)
	r.HandleFunc("/state/peer:{pk}", h.getState).Methods(http.MethodGet)
	r.HandleFunc("/pool/transactions", h.getPoolTransactions).Methods(http.MethodGet)
	r.HandleFunc("/pool/votes", h.getPoolVotes).Methods(http.MethodGet)
	r.HandleFunc("/pool/commits", h.getPoolCommits).Methods(http.MethodGet)
	r.HandleFunc("/stack/transactions", h.getStackTransactions).Methods(http.MethodGet)
	return r
}

// requireToken rejects requests missing a matching diva-api-token header,
// the way teacher's rpc.Server gates its Authorization bearer header.
func requireToken(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token != "" && r.Header.Get("diva-api-token") != token {
			writeError(w, http.StatusUnauthorized, fmt.Errorf("missing or invalid diva-api-token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

func writeRaw(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return
	}
}

// putTransaction accepts an array of flattened commands, builds a
// transaction out of them signed by the node's own wallet key, stacks it
// locally, and gossips it to peers via Factory.Stack.
func (h *Handler) putTransaction(w http.ResponseWriter, r *http.Request) {
	var reqs []commandRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&reqs); err != nil {
		writeError(w, http.StatusForbidden, fmt.Errorf("decode request: %w", err))
		return
	}
	cmds := make([]core.Command, 0, len(reqs))
	for _, req := range reqs {
		cmd, err := decodeCommand(req)
		if err != nil {
			writeError(w, http.StatusForbidden, err)
			return
		}
		cmds = append(cmds, cmd)
	}
	if err := core.ValidateSeqs(cmds); err != nil {
		writeError(w, http.StatusForbidden, err)
		return
	}

	ident, err := core.NewIdent()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	tx := &core.Transaction{
		Ident:     ident,
		Timestamp: time.Now().UnixMilli(),
		Commands:  cmds,
	}
	tx.Origin = h.signer.PublicKey()
	tx.Sig = h.signer.Sign(tx.SigningBytes())

	if err := h.factory.Stack(tx); err != nil {
		writeError(w, http.StatusForbidden, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionAcceptedResponse{Ident: ident})
}

func decodeCommand(req commandRequest) (core.Command, error) {
	switch req.Command {
	case string(core.KindAddPeer):
		pub, err := crypto.ParsePublicKey(req.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("addPeer publicKey: %w", err)
		}
		return core.AddPeerCommand{SeqNum: req.Seq, Host: req.Host, Port: req.Port, PublicKey: pub}, nil
	case string(core.KindRemovePeer):
		pub, err := crypto.ParsePublicKey(req.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("removePeer publicKey: %w", err)
		}
		return core.RemovePeerCommand{SeqNum: req.Seq, PublicKey: pub}, nil
	case string(core.KindModifyStake):
		pub, err := crypto.ParsePublicKey(req.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("modifyStake publicKey: %w", err)
		}
		return core.ModifyStakeCommand{SeqNum: req.Seq, PublicKey: pub, Stake: req.Stake}, nil
	case string(core.KindData):
		return core.DataCommand{SeqNum: req.Seq, Namespace: req.Namespace, Base64url: req.Base64url}, nil
	case string(core.KindTestLoad):
		return core.TestLoadCommand{SeqNum: req.Seq, Timestamp: req.Timestamp}, nil
	default:
		return nil, fmt.Errorf("unknown command %q", req.Command)
	}
}

// getBlock serves GET /block/{genesis|latest|height}.
func (h *Handler) getBlock(w http.ResponseWriter, r *http.Request) {
	which := mux.Vars(r)["which"]
	var block *core.Block
	var err error
	switch which {
	case "genesis":
		block, err = h.store.GetByHeight(0)
	case "latest":
		block = h.store.Tip()
	default:
		var height uint64
		height, err = strconv.ParseUint(which, 10, 64)
		if err == nil {
			block, err = h.store.GetByHeight(height)
		}
	}
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if block == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("no block found for %q", which))
		return
	}
	data, err := core.MarshalBlock(block)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeRaw(w, http.StatusOK, data)
}

// getBlocks serves GET /blocks?gte&lte&limit.
func (h *Handler) getBlocks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	gte := parseUintOr(q.Get("gte"), 0)
	tip := h.store.Tip()
	lte := uint64(0)
	if tip != nil {
		lte = tip.Height
	}
	if v := q.Get("lte"); v != "" {
		lte = parseUintOr(v, lte)
	}
	limit := int(parseUintOr(q.Get("limit"), 0))

	blocks, err := h.store.Range(gte, lte, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeBlockArray(w, blocks)
}

// getBlocksPage serves GET /blocks/page/{n}?size, a fixed-size page
// indexed from the tip backward so page 0 is always the most recent.
func (h *Handler) getBlocksPage(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.ParseUint(mux.Vars(r)["n"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("page: %w", err))
		return
	}
	size := parseUintOr(r.URL.Query().Get("size"), 20)
	tip := h.store.Tip()
	if tip == nil {
		writeBlockArray(w, nil)
		return
	}
	hi := int64(tip.Height) - int64(n*size)
	lo := hi - int64(size) + 1
	if hi < 0 {
		writeBlockArray(w, nil)
		return
	}
	if lo < 0 {
		lo = 0
	}
	blocks, err := h.store.Range(uint64(lo), uint64(hi), int(size))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeBlockArray(w, blocks)
}

func writeBlockArray(w http.ResponseWriter, blocks []*core.Block) {
	raw := make([]json.RawMessage, 0, len(blocks))
	for _, b := range blocks {
		data, err := core.MarshalBlock(b)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		raw = append(raw, data)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeRaw(w, http.StatusOK, data)
}

func parseUintOr(s string, fallback uint64) uint64 {
	if s == "" {
		return fallback
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

// getPeers serves GET /peers: the live registry as a flat peer list.
func (h *Handler) getPeers(w http.ResponseWriter, r *http.Request) {
	snap := h.registry.Snapshot()
	var peers []peerView
	snap.Each(func(pub string, e registry.Entry) {
		peers = append(peers, peerView{PublicKey: pub, Host: e.Host, Port: e.Port, Stake: e.Stake})
	})
	sort.Slice(peers, func(i, j int) bool { return peers[i].PublicKey < peers[j].PublicKey })
	writeJSON(w, http.StatusOK, peers)
}

// getNetwork serves GET /network: registry summary at the current tip.
func (h *Handler) getNetwork(w http.ResponseWriter, r *http.Request) {
	snap := h.registry.Snapshot()
	var peers []peerView
	snap.Each(func(pub string, e registry.Entry) {
		peers = append(peers, peerView{PublicKey: pub, Host: e.Host, Port: e.Port, Stake: e.Stake})
	})
	sort.Slice(peers, func(i, j int) bool { return peers[i].PublicKey < peers[j].PublicKey })
	height := uint64(0)
	if tip := h.store.Tip(); tip != nil {
		height = tip.Height
	}
	writeJSON(w, http.StatusOK, networkView{
		Height:     height,
		TotalStake: snap.Total(),
		Quorum:     snap.Quorum(),
		Peers:      peers,
	})
}

// getState serves GET /state[/peer:<pk>]: this node's own entry, or a
// named peer's, from the live registry.
func (h *Handler) getState(w http.ResponseWriter, r *http.Request) {
	pk := mux.Vars(r)["pk"]
	if pk == "" {
		pk = h.signer.PublicKey().String()
	}
	pub, err := crypto.ParsePublicKey(pk)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("peer key: %w", err))
		return
	}
	snap := h.registry.Snapshot()
	entry, ok := snap.EntryOf(pub)
	writeJSON(w, http.StatusOK, stateView{
		PublicKey: pub.String(),
		Host:      entry.Host,
		Port:      entry.Port,
		Stake:     entry.Stake,
		Member:    ok,
	})
}

// getPoolTransactions serves GET /pool/transactions: every pending local
// transaction, without draining the pool.
func (h *Handler) getPoolTransactions(w http.ResponseWriter, r *http.Request) {
	txs := h.txPool.Pending(0)
	out := make([]poolTxView, 0, len(txs))
	for _, tx := range txs {
		out = append(out, poolTxView{Ident: tx.Ident, Origin: tx.Origin.String(), Timestamp: tx.Timestamp})
	}
	writeJSON(w, http.StatusOK, out)
}

// getPoolVotes serves GET /pool/votes: every candidate block hash
// currently collecting signatures, and its distinct signers.
func (h *Handler) getPoolVotes(w http.ResponseWriter, r *http.Request) {
	all := h.votePool.All()
	out := make([]poolVoteView, 0, len(all))
	for hash, votes := range all {
		signers := make([]string, 0, len(votes))
		for k := range votes {
			signers = append(signers, k)
		}
		sort.Strings(signers)
		out = append(out, poolVoteView{BlockHash: hash.String(), Signers: signers})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockHash < out[j].BlockHash })
	writeJSON(w, http.StatusOK, out)
}

// getPoolCommits serves GET /pool/commits: the same candidates as
// /pool/votes, annotated with stake-weighted quorum progress.
func (h *Handler) getPoolCommits(w http.ResponseWriter, r *http.Request) {
	all := h.votePool.All()
	snap := h.registry.Snapshot()
	out := make([]poolCommitView, 0, len(all))
	for hash, votes := range all {
		signers := make([]string, 0, len(votes))
		var stake int64
		for k := range votes {
			signers = append(signers, k)
			if pub, err := crypto.ParsePublicKey(k); err == nil {
				if s, ok := snap.StakeOf(pub); ok {
					stake += s
				}
			}
		}
		sort.Strings(signers)
		out = append(out, poolCommitView{
			BlockHash: hash.String(),
			Signers:   signers,
			Stake:     stake,
			Quorum:    snap.Quorum(),
			Ready:     stake >= snap.Quorum(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockHash < out[j].BlockHash })
	writeJSON(w, http.StatusOK, out)
}

// getStackTransactions serves GET /stack/transactions: the node's own
// pending local pool, same payload as /pool/transactions, exposed under
// its own route name per the admin surface naming.
func (h *Handler) getStackTransactions(w http.ResponseWriter, r *http.Request) {
	h.getPoolTransactions(w, r)
}
