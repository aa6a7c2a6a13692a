package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"github.com/dmattosr/electioncore/broadcast"
	"github.com/dmattosr/electioncore/config"
	"github.com/dmattosr/electioncore/coreerr"
	"github.com/dmattosr/electioncore/elgamal"
	"github.com/dmattosr/electioncore/ledger"
	"github.com/dmattosr/electioncore/tally"
)

// createElectionRequest is the election template body POST /api/create
// accepts.
type createElectionRequest struct {
	Name       string               `json:"name"`
	StartTime  time.Time            `json:"start_time"`
	EndTime    time.Time            `json:"end_time"`
	PublicKey  ledger.PublicKeyWire `json:"public_key"`
	VoterList  []string             `json:"voter_list"`
	OptionList []string             `json:"option_list"`
}

type createElectionResponse struct {
	ElectionID string        `json:"election_id"`
	Chain      *ledger.Chain `json:"chain"`
}

func (a *API) createElection(w http.ResponseWriter, r *http.Request) {
	var req createElectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrMalformedBody.Withf("%v", err).Write(w)
		return
	}

	if req.PublicKey.P == nil || req.PublicKey.G == nil || req.PublicKey.Y == nil {
		ErrMalformedBody.Withf("election template is missing a public key component").Write(w)
		return
	}
	genesis, err := ledger.NewGenesisBlock(req.Name, req.StartTime, req.EndTime,
		req.PublicKey.Live(), req.VoterList, req.OptionList)
	if err != nil {
		ErrInternal.Withf("%v", err).Write(w)
		return
	}

	id, chain, err := a.reg.Create(genesis)
	if err != nil {
		ErrInternal.Withf("%v", err).Write(w)
		return
	}
	writeJSON(w, createElectionResponse{ElectionID: id.Hex(), Chain: chain})
}

func (a *API) sendVote(w http.ResponseWriter, r *http.Request) {
	var ticket broadcast.VoteTicket
	if err := json.NewDecoder(r.Body).Decode(&ticket); err != nil {
		ErrMalformedBody.Withf("%v", err).Write(w)
		return
	}

	frame, err := broadcast.EncodeVoteFrame(ticket)
	if err != nil {
		ErrInternal.Withf("%v", err).Write(w)
		return
	}
	if err := a.in.HandleFrame(frame); err != nil {
		if errors.Is(err, coreerr.ErrNotFound) {
			ErrElectionNotFound.Withf("%v", err).Write(w)
			return
		}
		ErrVoteRejected.Withf("%v", err).Write(w)
		return
	}
	writeJSON(w, ticket)
}

type tallyResponse struct {
	ElectionID string   `json:"election_id"`
	OptionList []string `json:"option_list"`
	Counts     []int64  `json:"counts"`
}

// tally serves GET /tally/{election_id}: plaintext per-option counts
// for a finished election, decrypted with the private key this node
// holds in storage. A deployment that split the key among trustees
// drives tally.DecryptThreshold directly instead of through this
// endpoint; see cmd/electioncore.
func (a *API) tally(w http.ResponseWriter, r *http.Request) {
	idParam := chi.URLParam(r, "election_id")
	if idParam == "" {
		ErrMalformedBody.Withf("missing election_id").Write(w)
		return
	}
	id := common.HexToHash(idParam)

	chain, err := a.reg.FinishedChain(id)
	if err != nil {
		if _, activeErr := a.reg.ActiveChain(id); activeErr == nil {
			ErrElectionNotClosed.Write(w)
			return
		}
		ErrElectionNotFound.Withf("%v", err).Write(w)
		return
	}

	if a.store == nil {
		ErrInternal.Withf("no key store configured for tally").Write(w)
		return
	}
	km, err := a.store.LoadKeyMaterial(id)
	if err != nil || km.PrivateKey == nil {
		ErrInternal.Withf("no private key material available for election %s", idParam).Write(w)
		return
	}

	genesis := chain.Genesis()
	pk := genesis.PublicKey.Live()
	sk := &elgamal.PrivateKey{PublicKey: pk, X: km.PrivateKey}

	votes := chain.AllVotes()
	optionCount := len(genesis.OptionList)
	ballots := make([][]elgamal.Ciphertext, len(votes))
	for i, v := range votes {
		ballots[i] = v.Options
	}

	aggregated, err := tally.Aggregate(pk.P, optionCount, ballots)
	if err != nil {
		ErrInternal.Withf("%v", err).Write(w)
		return
	}
	table := tally.NewLookupTable(pk.DomainParameters, pk.Y, config.LookupTableMax)
	counts, err := tally.DecryptDirect(sk, aggregated, table)
	if err != nil {
		ErrInternal.Withf("%v", err).Write(w)
		return
	}

	writeJSON(w, tallyResponse{ElectionID: idParam, OptionList: genesis.OptionList, Counts: counts})
}
