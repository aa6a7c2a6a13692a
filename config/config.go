// Package config holds the election core's tunables: proof-of-work
// difficulty, worker sweep/yield intervals, ElGamal key size, and
// Shamir defaults.
package config

import "time"

// Difficulty is the chain-wide proof-of-work difficulty: the number of
// leading ASCII zeros a sealed block's proof hash must exhibit. Each
// extra zero multiplies the expected search by 16; values between 3
// and 6 keep mining tractable on a single node.
const Difficulty = 4

// ElGamalKeyBits is the default bit length of the ElGamal safe prime
// generated by KeyGen.
const ElGamalKeyBits = 2048

// ShamirMersenneExponent is the exponent of the Mersenne prime
// 2^2203-1 the secret-sharing field is built over, chosen so it
// comfortably exceeds a 2048-bit ElGamal private key.
const ShamirMersenneExponent = 2203

// ShamirThreshold and ShamirParticipants are the default (t, n) used
// by the CLI demo and by tests exercising a full key ceremony.
const (
	ShamirThreshold    = 3
	ShamirParticipants = 5
)

// IngressPollTimeout bounds how long the ingress worker blocks waiting
// for an inbound message before re-checking the shutdown flag.
const IngressPollTimeout = time.Second

// MinerYield is the minimum pause the mining worker takes between
// sweeps of the active-election set, so ingress can make progress.
const MinerYield = time.Second

// PublisherYield is the minimum pause the publisher worker takes when
// the outbound queue is empty.
const PublisherYield = time.Second

// RegistrySweepInterval is how often the registry scans active
// elections for ones whose end_time has passed.
const RegistrySweepInterval = 5 * time.Second

// LookupTableMax is the default N_max used when building a discrete-log
// lookup table to tally an election, i.e. an upper bound on the number
// of votes any one option can receive.
const LookupTableMax = 10000
