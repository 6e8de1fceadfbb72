package portmapping

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math/big"

	"github.com/cespare/xxhash/v2"
	"github.com/signalsfoundry/lightpath-controller/model"
)

// HashStrategy computes lcp-hash-val for a mapping entry. Every strategy has
// a stable version number that is stored alongside the value, so entries built
// with an older strategy stay interpretable after the default changes.
type HashStrategy interface {
	Version() int
	Sum(nodeID string, m model.Mapping) string
}

// Strategy versions.
const (
	HashFNV1    = 1
	HashXXHash  = 2
	DefaultHash = HashFNV1
)

// StrategyFor returns the strategy registered under version.
func StrategyFor(version int) (HashStrategy, error) {
	switch version {
	case 0, HashFNV1:
		return fnv1Strategy{}, nil
	case HashXXHash:
		return xxhashStrategy{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown lcp hash version %d", model.ErrValidation, version)
	}
}

// fnv1Strategy is FNV-1 64 over node id and lcp concatenated, encoded as the
// minimal two's-complement big-endian bytes of the unsigned value, base64.
type fnv1Strategy struct{}

func (fnv1Strategy) Version() int { return HashFNV1 }

func (fnv1Strategy) Sum(nodeID string, m model.Mapping) string {
	h := fnv.New64()
	_, _ = h.Write([]byte(nodeID + m.LogicalConnectionPoint))
	return base64.StdEncoding.EncodeToString(signedMagnitude(h.Sum64()))
}

// signedMagnitude encodes v like a positive arbitrary-precision integer:
// leading zero bytes dropped, and a 0x00 prefix when the top bit is set.
func signedMagnitude(v uint64) []byte {
	b := new(big.Int).SetUint64(v).Bytes()
	if len(b) == 0 || b[0]&0x80 != 0 {
		b = append([]byte{0}, b...)
	}
	return b
}

// xxhashStrategy digests the stable physical identifiers of the port as well,
// so two nodes reusing an lcp on different hardware hash differently.
type xxhashStrategy struct{}

func (xxhashStrategy) Version() int { return HashXXHash }

func (xxhashStrategy) Sum(nodeID string, m model.Mapping) string {
	d := xxhash.New()
	for _, part := range []string{nodeID, m.LogicalConnectionPoint, m.SupportingCircuitPack, m.SupportingPort} {
		_, _ = d.WriteString(part)
		_, _ = d.Write([]byte{0})
	}
	var out [8]byte
	binary.BigEndian.PutUint64(out[:], d.Sum64())
	return base64.StdEncoding.EncodeToString(out[:])
}
