// Package httpapi is the reference HTTP wiring for the election core:
// `POST /api/create` opens an election, `POST /api/send` casts a vote,
// and `GET /tally/{election_id}` serves the plaintext counts of a
// finished one. It is a thin binding over the core packages; nothing
// in registry, ledger, broadcast, or mining imports it.
package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/dmattosr/electioncore/broadcast"
	"github.com/dmattosr/electioncore/log"
	"github.com/dmattosr/electioncore/registry"
	"github.com/dmattosr/electioncore/signature"
	"github.com/dmattosr/electioncore/storage"
)

// Config bundles the API's dependencies. Storage is optional: without
// it, create and send work as usual, but /tally has no private key
// material to decrypt with and answers with an internal error (500).
type Config struct {
	Host     string
	Port     int
	Registry *registry.Registry
	Verifier signature.Verifier
	Store    *storage.Storage
}

// API is the HTTP surface over one registry.
type API struct {
	router *chi.Mux
	reg    *registry.Registry
	in     *broadcast.Ingress
	store  *storage.Storage
}

// New builds the router and starts serving in a background goroutine.
func New(conf *Config) (*API, error) {
	if conf == nil || conf.Registry == nil {
		return nil, fmt.Errorf("httpapi: registry is required")
	}
	a := &API{
		reg:   conf.Registry,
		in:    broadcast.NewIngress(conf.Registry, broadcast.NewPeerList(), conf.Verifier),
		store: conf.Store,
	}
	a.initRouter()

	go func() {
		addr := fmt.Sprintf("%s:%d", conf.Host, conf.Port)
		log.Infow("starting http api", "addr", addr)
		if err := http.ListenAndServe(addr, a.router); err != nil {
			log.Errorw(err, "http api stopped")
		}
	}()
	return a, nil
}

// Router returns the chi router, mainly for tests driving it directly
// without a live listener.
func (a *API) Router() *chi.Mux {
	return a.router
}

func (a *API) initRouter() {
	a.router = chi.NewRouter()
	a.router.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}).Handler)
	a.router.Use(middleware.Recoverer)
	a.router.Use(middleware.Timeout(15 * time.Second))

	a.router.Post("/api/create", a.createElection)
	a.router.Post("/api/send", a.sendVote)
	a.router.Get("/tally/{election_id}", a.tally)
}
