// Package broadcast defines the outbound/inbound vote and peer
// messaging surface: tagged-variant wire messages, peer list
// maintenance with sanitization and dedupe, an inbound vote handler
// that validates a ballot's DCP proofs and eligibility signature
// before it ever reaches a chain's mempool, and an outbound publisher
// draining a queue to every known peer. Actual socket transport lives
// outside this package; Sender and Receiver are the seams a transport
// plugs into.
package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/dmattosr/electioncore/config"
	"github.com/dmattosr/electioncore/coreerr"
	"github.com/dmattosr/electioncore/dcp"
	"github.com/dmattosr/electioncore/elgamal"
	"github.com/dmattosr/electioncore/ledger"
	"github.com/dmattosr/electioncore/log"
	"github.com/dmattosr/electioncore/registry"
	"github.com/dmattosr/electioncore/signature"
)

// parseElectionID parses a hex-encoded 256-bit election id. It only
// rejects the empty string; common.HexToHash pads or truncates any
// other hex input, and stricter shape validation belongs to the HTTP
// surface this core does not implement.
func parseElectionID(s string) (registry.ElectionID, error) {
	if s == "" {
		return registry.ElectionID{}, fmt.Errorf("%w: empty election_id", coreerr.ErrInvalidInput)
	}
	return common.HexToHash(s), nil
}

func addressFromHex(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q is not a hex address", coreerr.ErrInvalidInput, s)
	}
	return common.HexToAddress(s), nil
}

// PeerInfo is a sanitized, deduped peer record. It is comparable so it
// can be used directly as a map key for dedupe.
type PeerInfo struct {
	IPAddress string `json:"ip_address"`
	RepPort   int    `json:"rep_port"`
	SubPort   int    `json:"sub_port"`
}

// VoteTicket is the wire shape of an inbound VOTE message.
type VoteTicket struct {
	ElectionID string               `json:"election_id"`
	Options    []elgamal.Ciphertext `json:"options"`
	Proofs     []*dcp.Proof         `json:"proofs"`
	Signature  []byte               `json:"signature"`
}

// splitFrame parses a HEADER ' ' JSON '\n' wire frame.
func splitFrame(line []byte) (header string, body []byte, err error) {
	trimmed := bytes.TrimSuffix(line, []byte("\n"))
	parts := bytes.SplitN(trimmed, []byte(" "), 2)
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("%w: malformed wire frame, expected \"HEADER JSON\"", coreerr.ErrInvalidInput)
	}
	return string(parts[0]), parts[1], nil
}

// EncodePeerFrame frames a PEER message for the wire.
func EncodePeerFrame(p PeerInfo) ([]byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", coreerr.ErrIO, err)
	}
	return append([]byte("PEER "), append(body, '\n')...), nil
}

// EncodeVoteFrame frames a VOTE message for the wire.
func EncodeVoteFrame(v VoteTicket) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", coreerr.ErrIO, err)
	}
	return append([]byte("VOTE "), append(body, '\n')...), nil
}

func sanitizePeer(p PeerInfo) (PeerInfo, error) {
	if net.ParseIP(p.IPAddress) == nil {
		return PeerInfo{}, fmt.Errorf("%w: peer ip_address %q does not parse", coreerr.ErrInvalidInput, p.IPAddress)
	}
	if p.RepPort <= 0 || p.RepPort > 65535 || p.SubPort <= 0 || p.SubPort > 65535 {
		return PeerInfo{}, fmt.Errorf("%w: peer port out of range", coreerr.ErrInvalidInput)
	}
	return p, nil
}

// PeerList is the single-writer, snapshot-for-readers peer registry.
type PeerList struct {
	mu    sync.Mutex
	order []PeerInfo
	seen  map[PeerInfo]struct{}
}

// NewPeerList returns an empty peer list.
func NewPeerList() *PeerList {
	return &PeerList{seen: make(map[PeerInfo]struct{})}
}

// AddRaw sanitizes and dedupes a raw PEER message body, appending it to
// the list if it is new.
func (pl *PeerList) AddRaw(body []byte) error {
	var p PeerInfo
	if err := json.Unmarshal(body, &p); err != nil {
		return fmt.Errorf("%w: %v", coreerr.ErrInvalidInput, err)
	}
	sanitized, err := sanitizePeer(p)
	if err != nil {
		return err
	}
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if _, dup := pl.seen[sanitized]; dup {
		return nil
	}
	pl.seen[sanitized] = struct{}{}
	pl.order = append(pl.order, sanitized)
	return nil
}

// Snapshot returns a copy of the current peer list, safe to range over
// without holding the list's lock.
func (pl *PeerList) Snapshot() []PeerInfo {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	out := make([]PeerInfo, len(pl.order))
	copy(out, pl.order)
	return out
}

// MarshalJSON serializes the peer list in its file form: a JSON array
// of {ip_address, rep_port, sub_port} records in insertion order.
func (pl *PeerList) MarshalJSON() ([]byte, error) {
	return json.Marshal(pl.Snapshot())
}

// UnmarshalJSON restores a peer list from its file form, running every
// record through the same sanitize-and-dedupe path an inbound PEER
// message takes.
func (pl *PeerList) UnmarshalJSON(data []byte) error {
	var raw []PeerInfo
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", coreerr.ErrIO, err)
	}
	pl.mu.Lock()
	pl.order = nil
	pl.seen = make(map[PeerInfo]struct{})
	pl.mu.Unlock()
	for _, p := range raw {
		sanitized, err := sanitizePeer(p)
		if err != nil {
			return err
		}
		pl.mu.Lock()
		if _, dup := pl.seen[sanitized]; !dup {
			pl.seen[sanitized] = struct{}{}
			pl.order = append(pl.order, sanitized)
		}
		pl.mu.Unlock()
	}
	return nil
}

// Ingress validates and applies inbound wire frames: PEER messages
// update the peer list, VOTE messages are checked against the
// addressed election's DCP proofs and eligibility signature before
// being appended to its mempool.
type Ingress struct {
	reg      *registry.Registry
	peers    *PeerList
	verifier signature.Verifier
}

// NewIngress returns an ingress handler bound to reg; verifier may be
// nil to skip eligibility-signature checking (e.g. in tests).
func NewIngress(reg *registry.Registry, peers *PeerList, verifier signature.Verifier) *Ingress {
	return &Ingress{reg: reg, peers: peers, verifier: verifier}
}

// HandleFrame dispatches one wire frame to the PEER or VOTE handler.
func (in *Ingress) HandleFrame(line []byte) error {
	header, body, err := splitFrame(line)
	if err != nil {
		return err
	}
	switch header {
	case "PEER":
		return in.peers.AddRaw(body)
	case "VOTE":
		return in.handleVote(body)
	default:
		return fmt.Errorf("%w: unknown wire header %q", coreerr.ErrInvalidInput, header)
	}
}

// proofComplete rejects wire proofs with absent fields before they can
// reach the big-integer arithmetic in the verifier.
func proofComplete(p *dcp.Proof) bool {
	if p == nil {
		return false
	}
	for _, n := range []*big.Int{p.A0, p.A1, p.B0, p.B1, p.C0, p.C1, p.R0, p.R1} {
		if n == nil {
			return false
		}
	}
	return true
}

func (in *Ingress) handleVote(body []byte) error {
	var ticket VoteTicket
	if err := json.Unmarshal(body, &ticket); err != nil {
		return fmt.Errorf("%w: %v", coreerr.ErrInvalidInput, err)
	}

	id, err := parseElectionID(ticket.ElectionID)
	if err != nil {
		return err
	}
	chain, err := in.reg.ActiveChain(id)
	if err != nil {
		return err
	}
	genesis := chain.Genesis()

	optionCount := len(genesis.OptionList)
	if len(ticket.Options) != optionCount || len(ticket.Proofs) != optionCount {
		return fmt.Errorf("%w: vote has %d/%d options/proofs, election has %d options",
			coreerr.ErrInvalidInput, len(ticket.Options), len(ticket.Proofs), optionCount)
	}

	pk := genesis.PublicKey.Live()
	for j, ct := range ticket.Options {
		if ct.A == nil || ct.B == nil {
			return fmt.Errorf("%w: option %d ciphertext is incomplete", coreerr.ErrInvalidInput, j)
		}
		if !proofComplete(ticket.Proofs[j]) {
			return fmt.Errorf("%w: option %d proof is incomplete", coreerr.ErrInvalidInput, j)
		}
		if !dcp.Verify(pk, ct, ticket.Proofs[j]) {
			return fmt.Errorf("%w: option %d failed DCP verification", coreerr.ErrProofInvalid, j)
		}
	}

	if in.verifier != nil {
		digest, err := json.Marshal(ticket.Options)
		if err != nil {
			return fmt.Errorf("%w: %v", coreerr.ErrIO, err)
		}
		ok := false
		for _, voter := range genesis.VoterList {
			addr, err := addressFromHex(voter)
			if err != nil {
				continue
			}
			if in.verifier.Verify(addr, digest, ticket.Signature) {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("%w: signature does not match any eligible voter", coreerr.ErrSignatureInvalid)
		}
	}

	chain.AppendVote(ledger.Vote{
		ElectionID: ticket.ElectionID,
		Options:    ticket.Options,
		Proofs:     ticket.Proofs,
		Signature:  ticket.Signature,
	})
	return nil
}

// Sender delivers a framed message to one peer. The transport it runs
// over (TCP, a message broker, anything) is outside the core's scope.
type Sender interface {
	Send(peer PeerInfo, frame []byte) error
}

// Receiver yields inbound wire frames. Poll blocks for at most timeout
// and reports ok=false when nothing arrived in that window, so the
// polling worker can re-check its shutdown state. Like Sender, the
// transport implementing it is outside the core's scope.
type Receiver interface {
	Poll(timeout time.Duration) (frame []byte, ok bool, err error)
}

// IngressWorker polls a Receiver with a bounded timeout and dispatches
// each inbound frame through an Ingress. A rejected frame (bad proof,
// unknown election, malformed JSON) is logged and does not stop the
// loop; neither does a transport error, which is retried on the next
// poll.
type IngressWorker struct {
	in       *Ingress
	receiver Receiver
	timeout  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewIngressWorker returns a worker feeding receiver's frames into in.
// timeout defaults to config.IngressPollTimeout when zero.
func NewIngressWorker(in *Ingress, receiver Receiver, timeout time.Duration) *IngressWorker {
	if timeout <= 0 {
		timeout = config.IngressPollTimeout
	}
	return &IngressWorker{in: in, receiver: receiver, timeout: timeout}
}

// Start begins the poll loop under ctx.
func (w *IngressWorker) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("context cannot be nil")
	}
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		log.Infow("ingress worker started")
		for {
			select {
			case <-w.ctx.Done():
				log.Infow("ingress worker stopped")
				return
			default:
			}

			frame, ok, err := w.receiver.Poll(w.timeout)
			if err != nil {
				log.Errorw(err, "ingress: transport poll failed")
				continue
			}
			if !ok {
				continue
			}
			if err := w.in.HandleFrame(frame); err != nil {
				log.Warnw("ingress: frame rejected", "error", err.Error())
			}
		}
	}()
	return nil
}

// Stop cancels the poll loop and waits for it to exit. It is safe to
// call multiple times.
func (w *IngressWorker) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	return nil
}

// Publisher drains an outbound queue, sending each message to every
// known peer, yielding when the queue is empty.
type Publisher struct {
	mu    sync.Mutex
	queue [][]byte

	peers  *PeerList
	sender Sender
	yield  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPublisher returns a publisher draining into sender, consulting
// peers for the current fan-out set. yield defaults to
// config.PublisherYield when zero.
func NewPublisher(peers *PeerList, sender Sender, yield time.Duration) *Publisher {
	if yield <= 0 {
		yield = config.PublisherYield
	}
	return &Publisher{peers: peers, sender: sender, yield: yield}
}

// Enqueue adds a framed message to the outbound queue.
func (p *Publisher) Enqueue(frame []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, frame)
}

func (p *Publisher) dequeue() ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return nil, false
	}
	frame := p.queue[0]
	p.queue = p.queue[1:]
	return frame, true
}

// Start begins the drain loop under ctx.
func (p *Publisher) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("context cannot be nil")
	}
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		log.Infow("publisher started")
		for {
			select {
			case <-p.ctx.Done():
				log.Infow("publisher stopped")
				return
			default:
			}

			frame, ok := p.dequeue()
			if !ok {
				select {
				case <-time.After(p.yield):
				case <-p.ctx.Done():
					log.Infow("publisher stopped")
					return
				}
				continue
			}

			for _, peer := range p.peers.Snapshot() {
				if err := p.sender.Send(peer, frame); err != nil {
					log.Errorw(err, "publisher: failed to send to peer")
				}
			}
		}
	}()
	return nil
}

// Stop cancels the drain loop and, on a best-effort basis, flushes
// whatever remains queued before returning.
func (p *Publisher) Stop() error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	for {
		frame, ok := p.dequeue()
		if !ok {
			break
		}
		for _, peer := range p.peers.Snapshot() {
			if err := p.sender.Send(peer, frame); err != nil {
				log.Errorw(err, "publisher: failed to flush to peer on shutdown")
			}
		}
	}
	return nil
}
