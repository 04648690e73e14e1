package testutil

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/megayours/pfp-inventory/internal/account"
	"github.com/megayours/pfp-inventory/internal/chain"
	"github.com/megayours/pfp-inventory/internal/domain"
	"github.com/megayours/pfp-inventory/internal/wallet"
)

// ChainNode is an in-process chain node speaking the node HTTP API. It keeps accounts,
// auth descriptors, tokens, items and stored files in memory and verifies every
// signature it is sent.
type ChainNode struct {
	Server *httptest.Server
	RID    domain.HexBytes

	mu          sync.Mutex
	descriptors map[string]account.AuthDescriptor // by descriptor id
	accounts    map[string]bool
	tokens      map[string][]domain.Token // by account id
	equipped    map[string]string         // account id -> token uid
	items       map[string][]domain.Item  // by kind
	chunks      map[string]map[int][]byte
	files       map[string][]byte
	txStatus    map[string]txResult
	calls       map[string]int
	gates       map[string]chan struct{}
	failNext    int
}

type txResult struct {
	status string
	reason string
}

// NewChainNode starts a node that is closed with the test.
func NewChainNode(t *testing.T) *ChainNode {
	t.Helper()
	n := &ChainNode{
		RID:         bytes.Repeat([]byte{0xab}, 32),
		descriptors: make(map[string]account.AuthDescriptor),
		accounts:    make(map[string]bool),
		tokens:      make(map[string][]domain.Token),
		equipped:    make(map[string]string),
		items:       make(map[string][]domain.Item),
		chunks:      make(map[string]map[int][]byte),
		files:       make(map[string][]byte),
		txStatus:    make(map[string]txResult),
		calls:       make(map[string]int),
		gates:       make(map[string]chan struct{}),
	}
	n.Server = httptest.NewServer(http.HandlerFunc(n.serveHTTP))
	t.Cleanup(n.Server.Close)
	return n
}

func (n *ChainNode) URL() string { return n.Server.URL }

// Settings connects to the node directly, with fast failover for tests.
func (n *ChainNode) Settings() chain.Settings {
	return chain.Settings{
		NodeURLPool:   []string{n.URL()},
		BlockchainRID: n.RID.String(),
		Failover: chain.FailoverConfig{
			AttemptsPerEndpoint: 2,
			AttemptInterval:     time.Millisecond,
			Strategy:            chain.TryNextOnError,
		},
	}
}

// RegisterAccount creates an account owned by the EVM address with an A,T main descriptor.
func (n *ChainNode) RegisterAccount(address string) domain.HexBytes {
	signer, err := wallet.AddressBytes(address)
	if err != nil {
		panic(err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	id, _ := n.registerLocked(signer, account.DefaultRegisterFlags)
	return id
}

// AddToken gives a token to an account.
func (n *ChainNode) AddToken(accountID domain.HexBytes, token domain.Token) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tokens[accountID.String()] = append(n.tokens[accountID.String()], token)
}

func (n *ChainNode) Equip(accountID, uid domain.HexBytes) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.equipped[accountID.String()] = uid.String()
}

func (n *ChainNode) AddItem(kind string, item domain.Item) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items[kind] = append(n.items[kind], item)
}

// Tokens returns the account's tokens as the node holds them.
func (n *ChainNode) Tokens(accountID domain.HexBytes) []domain.Token {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Token(nil), n.tokens[accountID.String()]...)
}

// Descriptors lists the account's descriptors.
func (n *ChainNode) Descriptors(accountID domain.HexBytes) []account.AuthDescriptor {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []account.AuthDescriptor
	for _, ad := range n.descriptors {
		if bytes.Equal(ad.AccountID, accountID) {
			out = append(out, ad)
		}
	}
	return out
}

// ExpireDescriptors moves the expiry of every session descriptor into the past.
func (n *ChainNode) ExpireDescriptors() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, ad := range n.descriptors {
		if ad.ExpiresAt != 0 {
			ad.ExpiresAt = time.Now().Add(-time.Minute).UnixMilli()
			n.descriptors[id] = ad
		}
	}
}

func (n *ChainNode) File(hash string) ([]byte, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	f, ok := n.files[hash]
	return f, ok
}

// Calls reports how many times a query or operation was processed.
func (n *ChainNode) Calls(name string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[name]
}

// FailNext makes the next k requests answer 503.
func (n *ChainNode) FailNext(k int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failNext = k
}

// Hold blocks queries of the given name until the returned release is called.
func (n *ChainNode) Hold(name string) (release func()) {
	gate := make(chan struct{})
	n.mu.Lock()
	n.gates[name] = gate
	n.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.gates, name)
			n.mu.Unlock()
			close(gate)
		})
	}
}

func (n *ChainNode) serveHTTP(w http.ResponseWriter, r *http.Request) {
	n.mu.Lock()
	if n.failNext > 0 {
		n.failNext--
		n.mu.Unlock()
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	n.mu.Unlock()

	path := strings.Trim(r.URL.Path, "/")
	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 2 && parts[0] == "brid" && r.Method == http.MethodGet:
		w.Write([]byte(n.RID.String()))
	case len(parts) == 2 && parts[0] == "query" && r.Method == http.MethodPost:
		n.handleQuery(w, r)
	case len(parts) == 2 && parts[0] == "tx" && r.Method == http.MethodPost:
		n.handleTx(w, r)
	case len(parts) == 4 && parts[0] == "tx" && parts[3] == "status":
		n.mu.Lock()
		res, ok := n.txStatus[parts[2]]
		n.mu.Unlock()
		if !ok {
			res = txResult{status: chain.StatusUnknown}
		}
		writeNodeJSON(w, http.StatusOK, map[string]string{"status": res.status, "rejectReason": res.reason})
	default:
		http.NotFound(w, r)
	}
}

func (n *ChainNode) handleQuery(w http.ResponseWriter, r *http.Request) {
	var q map[string]any
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeNodeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	name, _ := q["type"].(string)

	n.mu.Lock()
	n.calls[name]++
	gate := n.gates[name]
	n.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	str := func(k string) string { s, _ := q[k].(string); return s }
	switch name {
	case "cm_get_blockchain_api_urls":
		writeNodeJSON(w, http.StatusOK, []string{n.URL()})
	case account.QueryAccountsBySigner:
		signer := str("id")
		seen := map[string]bool{}
		data := []account.Account{}
		for _, ad := range n.descriptors {
			if ad.Signer.String() == signer && !seen[ad.AccountID.String()] {
				seen[ad.AccountID.String()] = true
				data = append(data, account.Account{ID: ad.AccountID})
			}
		}
		writeNodeJSON(w, http.StatusOK, map[string]any{"data": data, "next_cursor": nil})
	case account.QueryDescriptorsBySigner:
		out := []account.AuthDescriptor{}
		for _, ad := range n.descriptors {
			if ad.AccountID.String() == str("account_id") && ad.Signer.String() == str("signer") {
				out = append(out, ad)
			}
		}
		writeNodeJSON(w, http.StatusOK, out)
	case "pfps.get_all":
		out := n.tokens[str("account_id")]
		if out == nil {
			out = []domain.Token{}
		}
		writeNodeJSON(w, http.StatusOK, out)
	case "pfps.get_equipped":
		uid := n.equipped[str("account_id")]
		for _, tok := range n.tokens[str("account_id")] {
			if tok.UID.String() == uid {
				writeNodeJSON(w, http.StatusOK, tok)
				return
			}
		}
		writeNodeJSON(w, http.StatusOK, nil)
	case "pfps.get_metadata":
		if tok, _, ok := n.findTokenLocked(str("uid")); ok {
			writeNodeJSON(w, http.StatusOK, tok)
			return
		}
		writeNodeJSON(w, http.StatusOK, nil)
	case "fishing.get_rods", "equipments.get_all", "equipments.get_weapon":
		out := []domain.Item{}
		for _, it := range n.items[name] {
			out = append(out, it)
		}
		writeNodeJSON(w, http.StatusOK, out)
	default:
		writeNodeJSON(w, http.StatusBadRequest, map[string]string{"error": "Unknown query: " + name})
	}
}

func (n *ChainNode) handleTx(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeNodeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	var body struct {
		Tx string `json:"tx"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		writeNodeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	tx, err := chain.DecodeSignedTransaction(body.Tx)
	if err == nil {
		err = tx.Verify()
	}
	if err != nil {
		writeNodeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	rid, _ := tx.Transaction.RID()

	n.mu.Lock()
	defer n.mu.Unlock()
	res := txResult{status: chain.StatusConfirmed}
	if err := n.applyLocked(tx); err != nil {
		res = txResult{status: chain.StatusRejected, reason: err.Error()}
	}
	n.txStatus[hex.EncodeToString(rid)] = res
	writeNodeJSON(w, http.StatusOK, map[string]any{})
}

// applyLocked runs every operation against a scratch copy so a failing transaction
// leaves no trace.
func (n *ChainNode) applyLocked(tx *chain.SignedTransaction) error {
	signers := map[string]bool{}
	for _, s := range tx.Signers {
		signers[s.String()] = true
	}
	evmSigners := map[string]bool{}
	authorized := ""

	backupDescriptors := copyMap(n.descriptors)
	backupAccounts := copyMap(n.accounts)
	backupTokens := make(map[string][]domain.Token, len(n.tokens))
	for k, v := range n.tokens {
		backupTokens[k] = append([]domain.Token(nil), v...)
	}
	fail := func(err error) error {
		n.descriptors, n.accounts, n.tokens = backupDescriptors, backupAccounts, backupTokens
		return err
	}

	for i, op := range tx.Operations {
		n.calls[op.Name]++
		args := op.Args
		switch op.Name {
		case account.OpEVMSignatures:
			addrs, sigs := stringList(arg(args, 0)), stringList(arg(args, 1))
			if len(addrs) != len(sigs) {
				return fail(fmt.Errorf("evm signature count mismatch"))
			}
			msg, err := account.AuthMessage(tx.BlockchainRID, tx.Nonce, tx.Operations[i+1:])
			if err != nil {
				return fail(err)
			}
			for j, addr := range addrs {
				sig, _ := domain.ParseHex(sigs[j])
				ok, err := wallet.VerifyPersonalSign("0x"+addr, msg, sig)
				if err != nil || !ok {
					return fail(fmt.Errorf("invalid evm signature for %s", addr))
				}
				evmSigners[strings.ToLower(addr)] = true
			}
		case account.OpFTAuth:
			accountID, descriptorID := argString(args, 0), argString(args, 1)
			ad, ok := n.descriptors[descriptorID]
			if !ok || ad.AccountID.String() != accountID {
				return fail(fmt.Errorf("auth descriptor %s not found", descriptorID))
			}
			if ad.Expired(time.Now()) {
				return fail(fmt.Errorf("auth descriptor %s expired", descriptorID))
			}
			if !signers[ad.Signer.String()] {
				return fail(fmt.Errorf("auth descriptor signer did not sign"))
			}
			authorized = accountID
		case account.OpAddAuthDescriptor:
			accountID := argString(args, 0)
			if !n.evmOwnsLocked(accountID, evmSigners) {
				return fail(fmt.Errorf("missing account owner signature"))
			}
			desc, _ := arg(args, 1).(map[string]any)
			signer := fmt.Sprint(desc["signer"])
			if !signers[signer] {
				return fail(fmt.Errorf("new signer must sign the transaction"))
			}
			var expires int64
			if rules, ok := arg(args, 2).(map[string]any); ok {
				if f, ok := rules["expires"].(float64); ok {
					expires = int64(f)
				}
			}
			n.addDescriptorLocked(accountID, signer, stringList(desc["flags"]), expires)
		case account.OpDeleteAuthDescriptor:
			id := argString(args, 0)
			ad, ok := n.descriptors[id]
			if !ok || ad.AccountID.String() != authorized {
				return fail(fmt.Errorf("cannot delete auth descriptor %s", id))
			}
			delete(n.descriptors, id)
		case account.OpRASOpen:
			desc, _ := arg(args, 0).(map[string]any)
			signer := strings.ToLower(fmt.Sprint(desc["signer"]))
			if !evmSigners[signer] {
				return fail(fmt.Errorf("registration not signed by %s", signer))
			}
			raw, _ := domain.ParseHex(signer)
			if _, created := n.registerLocked(raw, stringList(desc["flags"])); !created {
				return fail(fmt.Errorf("account already exists"))
			}
		case account.OpRegisterAccount:
		case "pfps.attach_model":
			uid, dom, url := argString(args, 0), argString(args, 1), argString(args, 2)
			tok, idx, ok := n.findTokenLocked(uid)
			if !ok {
				return fail(fmt.Errorf("pfp %s not found", uid))
			}
			owner := n.ownerLocked(uid)
			if !n.signedByAccountLocked(owner, signers) {
				return fail(fmt.Errorf("pfp %s not owned by signer", uid))
			}
			tok.Models = tok.Models.With(dom, url)
			n.tokens[owner][idx] = tok
		case "filehub.store_chunk":
			if !n.signedByAnyLocked(signers) {
				return fail(fmt.Errorf("chunk not signed by a session"))
			}
			hash, index := argString(args, 0), int(argFloat(args, 1))
			data, err := domain.ParseHex(argString(args, 2))
			if err != nil {
				return fail(err)
			}
			if n.chunks[hash] == nil {
				n.chunks[hash] = map[int][]byte{}
			}
			n.chunks[hash][index] = data
		case "filehub.store_file":
			hash, count := argString(args, 0), int(argFloat(args, 1))
			var buf bytes.Buffer
			for j := 0; j < count; j++ {
				c, ok := n.chunks[hash][j]
				if !ok {
					return fail(fmt.Errorf("chunk %d of %s missing", j, hash))
				}
				buf.Write(c)
			}
			sum := sha256.Sum256(buf.Bytes())
			if hex.EncodeToString(sum[:]) != hash {
				return fail(fmt.Errorf("file hash mismatch"))
			}
			n.files[hash] = buf.Bytes()
			delete(n.chunks, hash)
		default:
			return fail(fmt.Errorf("unknown operation %s", op.Name))
		}
	}
	return nil
}

func (n *ChainNode) registerLocked(signer []byte, flags []string) (domain.HexBytes, bool) {
	sum := sha256.Sum256(signer)
	id := domain.HexBytes(sum[:])
	if n.accounts[id.String()] {
		return id, false
	}
	n.accounts[id.String()] = true
	n.addDescriptorLocked(id.String(), hex.EncodeToString(signer), flags, 0)
	return id, true
}

func (n *ChainNode) addDescriptorLocked(accountID, signer string, flags []string, expires int64) {
	acc, _ := domain.ParseHex(accountID)
	sig, _ := domain.ParseHex(signer)
	sum := sha256.Sum256(append(append([]byte{}, acc...), sig...))
	ad := account.AuthDescriptor{
		ID:        sum[:],
		AccountID: acc,
		Flags:     append([]string{}, flags...),
		Signer:    sig,
		ExpiresAt: expires,
	}
	n.descriptors[ad.ID.String()] = ad
}

func (n *ChainNode) evmOwnsLocked(accountID string, evmSigners map[string]bool) bool {
	for _, ad := range n.descriptors {
		if ad.AccountID.String() == accountID && evmSigners[ad.Signer.String()] && account.HasFlags(ad, []string{account.FlagAccount}) {
			return true
		}
	}
	return false
}

func (n *ChainNode) signedByAccountLocked(accountID string, signers map[string]bool) bool {
	now := time.Now()
	for _, ad := range n.descriptors {
		if ad.AccountID.String() == accountID && signers[ad.Signer.String()] && !ad.Expired(now) {
			return true
		}
	}
	return false
}

func (n *ChainNode) signedByAnyLocked(signers map[string]bool) bool {
	now := time.Now()
	for _, ad := range n.descriptors {
		if signers[ad.Signer.String()] && !ad.Expired(now) {
			return true
		}
	}
	return false
}

func (n *ChainNode) findTokenLocked(uid string) (domain.Token, int, bool) {
	for _, toks := range n.tokens {
		for i, tok := range toks {
			if tok.UID.String() == uid {
				return tok, i, true
			}
		}
	}
	return domain.Token{}, 0, false
}

func (n *ChainNode) ownerLocked(uid string) string {
	for owner, toks := range n.tokens {
		for _, tok := range toks {
			if tok.UID.String() == uid {
				return owner
			}
		}
	}
	return ""
}

func writeNodeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func arg(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

func argString(args []any, i int) string {
	s, _ := arg(args, i).(string)
	return s
}

func argFloat(args []any, i int) float64 {
	switch v := arg(args, i).(type) {
	case float64:
		return v
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}

func stringList(v any) []string {
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, item := range list {
		out = append(out, fmt.Sprint(item))
	}
	return out
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
