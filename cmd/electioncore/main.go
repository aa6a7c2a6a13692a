// Command electioncore runs a scripted end-to-end election: it spins
// up one registry, mints a genesis block, casts a batch of votes
// concurrently through the same ingress path a network peer would
// use, runs the mining worker until the sweeper moves the election to
// finished, tallies the votes sealed by then (votes still pending at
// close are not counted), and prints the per-option counts. The HTTP
// surface is optionally started alongside so the result can also be
// queried over `/tally/{election_id}` while the process is still up.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	flag "github.com/spf13/pflag"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/metadb"

	"github.com/dmattosr/electioncore/broadcast"
	"github.com/dmattosr/electioncore/config"
	"github.com/dmattosr/electioncore/dcp"
	"github.com/dmattosr/electioncore/elgamal"
	"github.com/dmattosr/electioncore/httpapi"
	"github.com/dmattosr/electioncore/keyfile"
	"github.com/dmattosr/electioncore/ledger"
	"github.com/dmattosr/electioncore/log"
	"github.com/dmattosr/electioncore/mining"
	"github.com/dmattosr/electioncore/registry"
	"github.com/dmattosr/electioncore/shamir"
	"github.com/dmattosr/electioncore/signature"
	"github.com/dmattosr/electioncore/storage"
	"github.com/dmattosr/electioncore/tally"
)

func main() {
	numVoters := flag.Int("voters", 12, "number of simulated voters")
	numOptions := flag.Int("options", 3, "number of ballot options")
	keyBits := flag.Int("keybits", 256, "ElGamal safe-prime bit length (config.ElGamalKeyBits for production strength, smaller for a fast demo)")
	duration := flag.Duration("duration", 3*time.Second, "how long the election stays open before closing")
	dbPath := flag.String("dbpath", "", "pebble database directory (empty uses an ephemeral temp dir)")
	httpHost := flag.String("http-host", "", "if set, serve the HTTP api on this host")
	httpPort := flag.Int("http-port", 8080, "HTTP api port, used only when -http-host is set")
	flag.Parse()

	log.Init("debug", "stdout", nil)

	if *dbPath == "" {
		dir, err := os.MkdirTemp("", "electioncore-demo-*")
		if err != nil {
			log.Fatal(err)
		}
		*dbPath = dir
	}
	backing, err := metadb.New(db.TypePebble, *dbPath)
	if err != nil {
		log.Fatal(err)
	}
	store := storage.New(backing)
	defer store.Close()

	sk, err := elgamal.KeyGen(*keyBits)
	if err != nil {
		log.Fatal(fmt.Errorf("key generation: %w", err))
	}
	if err := keyfile.Append(filepath.Join(*dbPath, "keys.jsonl"), keyfile.FromPublicKey(sk.PublicKey)); err != nil {
		log.Fatal(err)
	}

	// Key ceremony: split the private scalar among trustees so the
	// tally below can demonstrate threshold reconstruction.
	shares, err := shamir.MakeShares(sk.X, config.ShamirThreshold, config.ShamirParticipants, shamir.MersennePrime)
	if err != nil {
		log.Fatal(err)
	}

	voters := make([]*signature.SignKeys, *numVoters)
	voterList := make([]string, *numVoters)
	for i := range voters {
		voters[i] = signature.NewSignKeys()
		if err := voters[i].Generate(); err != nil {
			log.Fatal(err)
		}
		voterList[i] = voters[i].AddressString()
	}

	optionList := make([]string, *numOptions)
	for i := range optionList {
		optionList[i] = fmt.Sprintf("option-%d", i)
	}

	start := time.Now()
	end := start.Add(*duration)
	genesis, err := ledger.NewGenesisBlock("electioncore demo", start, end, sk.PublicKey, voterList, optionList)
	if err != nil {
		log.Fatal(err)
	}

	reg := registry.New()
	id, _, err := reg.Create(genesis)
	if err != nil {
		log.Fatal(err)
	}
	if err := store.SaveKeyMaterial(id, storage.KeyMaterial{PrivateKey: sk.X}); err != nil {
		log.Fatal(err)
	}
	log.Infow("election created", "election_id", id.Hex(), "voters", *numVoters, "options", *numOptions)

	worker, err := mining.New(reg, 200*time.Millisecond)
	if err != nil {
		log.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := worker.Start(ctx); err != nil {
		log.Fatal(err)
	}

	var api *httpapi.API
	if *httpHost != "" {
		api, err = httpapi.New(&httpapi.Config{
			Host:     *httpHost,
			Port:     *httpPort,
			Registry: reg,
			Verifier: signature.ECDSAVerifier{},
			Store:    store,
		})
		if err != nil {
			log.Fatal(err)
		}
	}

	sweeper, err := registry.NewSweeper(reg, 100*time.Millisecond)
	if err != nil {
		log.Fatal(err)
	}
	if err := sweeper.Start(ctx); err != nil {
		log.Fatal(err)
	}

	castVotes(reg, id.Hex(), sk, voters, *numOptions)

	var chain *ledger.Chain
	for {
		var err error
		if chain, err = reg.FinishedChain(id); err == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if err := worker.Stop(); err != nil {
		log.Fatal(err)
	}
	if err := sweeper.Stop(); err != nil {
		log.Fatal(err)
	}
	if err := store.SaveChain(id, chain); err != nil {
		log.Fatal(err)
	}

	votes := chain.AllVotes()
	ballots := make([][]elgamal.Ciphertext, len(votes))
	for i, v := range votes {
		ballots[i] = v.Options
	}
	aggregated, err := tally.Aggregate(sk.PublicKey.P, *numOptions, ballots)
	if err != nil {
		log.Fatal(err)
	}
	table := tally.NewLookupTable(sk.PublicKey.DomainParameters, sk.PublicKey.Y, config.LookupTableMax)
	counts, err := tally.DecryptThreshold(sk.PublicKey, shares[:config.ShamirThreshold], shamir.MersennePrime, aggregated, table)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("election %s, %d votes cast\n", id.Hex(), len(votes))
	for i, name := range optionList {
		fmt.Printf("  %s: %d\n", name, counts[i])
	}

	if api != nil {
		log.Infow("serving tally over http, press ctrl-c to exit", "host", *httpHost, "port", *httpPort)
		select {}
	}
}

// castVotes fans out one vote per voter, bounding in-flight work with
// a buffered semaphore, and submits each through the same ingress
// frame decoding a network peer would use.
func castVotes(reg *registry.Registry, electionID string, sk *elgamal.PrivateKey, voters []*signature.SignKeys, numOptions int) {
	in := broadcast.NewIngress(reg, broadcast.NewPeerList(), signature.ECDSAVerifier{})

	done := make(chan error, len(voters))
	sem := make(chan struct{}, 16)
	for _, voter := range voters {
		voter := voter
		choice := rand.Intn(numOptions)
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			done <- castOne(in, electionID, sk, voter, choice, numOptions)
		}()
	}
	for range voters {
		if err := <-done; err != nil {
			log.Warnw("vote rejected", "error", err)
		}
	}
}

func castOne(in *broadcast.Ingress, electionID string, sk *elgamal.PrivateKey, voter *signature.SignKeys, choice, numOptions int) error {
	options := make([]elgamal.Ciphertext, numOptions)
	proofs := make([]*dcp.Proof, numOptions)
	for j := 0; j < numOptions; j++ {
		v := int64(0)
		if j == choice {
			v = 1
		}
		m := elgamal.EncodeMessage(sk.DomainParameters, v)
		ct, k, err := elgamal.Encrypt(sk.PublicKey, m)
		if err != nil {
			return err
		}
		proof, err := dcp.Prove(sk.PublicKey, ct, int(v), k)
		if err != nil {
			return err
		}
		options[j] = ct
		proofs[j] = proof
	}

	digest, err := json.Marshal(options)
	if err != nil {
		return err
	}
	sig, err := voter.SignEthereum(digest)
	if err != nil {
		return err
	}

	frame, err := broadcast.EncodeVoteFrame(broadcast.VoteTicket{
		ElectionID: electionID,
		Options:    options,
		Proofs:     proofs,
		Signature:  sig,
	})
	if err != nil {
		return err
	}
	return in.HandleFrame(frame)
}
