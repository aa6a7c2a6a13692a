// Package keyfile persists ElGamal key material as an append-only log
// file: one JSON object {p, g, y, x?} per line. A public-only record
// omits x entirely, so a key file shipped to verifiers never leaks a
// private scalar by accident.
package keyfile

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/dmattosr/electioncore/coreerr"
	"github.com/dmattosr/electioncore/elgamal"
)

// Record is the wire form of one key-file line.
type Record struct {
	P *big.Int `json:"p"`
	G *big.Int `json:"g"`
	Y *big.Int `json:"y"`
	X *big.Int `json:"x,omitempty"`
}

// FromPrivateKey builds a record carrying the private scalar.
func FromPrivateKey(sk *elgamal.PrivateKey) Record {
	return Record{P: sk.P, G: sk.G, Y: sk.Y, X: sk.X}
}

// FromPublicKey builds a record with no private component.
func FromPublicKey(pk elgamal.PublicKey) Record {
	return Record{P: pk.P, G: pk.G, Y: pk.Y}
}

// Key reconstructs a usable key from the record, deriving q = (p-1)/2.
// The X field is nil for public-only records; elgamal.Decrypt rejects
// such a key with coreerr.ErrNotPrivate.
func (r Record) Key() *elgamal.PrivateKey {
	q := new(big.Int).Sub(r.P, big.NewInt(1))
	q.Rsh(q, 1)
	return &elgamal.PrivateKey{
		PublicKey: elgamal.PublicKey{
			DomainParameters: elgamal.DomainParameters{P: r.P, G: r.G, Q: q},
			Y:                r.Y,
		},
		X: r.X,
	}
}

// Append adds one record to the key file at path, creating the file if
// needed. The line is written with a single O_APPEND write so
// concurrent appenders cannot interleave partial lines.
func Append(path string, rec Record) error {
	if rec.P == nil || rec.G == nil || rec.Y == nil {
		return fmt.Errorf("%w: key record is missing a public component", coreerr.ErrInvalidInput)
	}
	line, err := marshalLine(rec)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("%w: %v", coreerr.ErrIO, err)
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("%w: %v", coreerr.ErrIO, err)
	}
	return nil
}

func marshalLine(rec Record) ([]byte, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", coreerr.ErrIO, err)
	}
	return append(body, '\n'), nil
}

// Load reads every record in the key file at path, in append order.
func Load(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", coreerr.ErrIO, err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(nil, 1<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("%w: malformed key file line: %v", coreerr.ErrIO, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", coreerr.ErrIO, err)
	}
	return records, nil
}
