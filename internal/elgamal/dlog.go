package elgamal

import (
	"errors"
	"fmt"
	"math/big"
	"math/bits"

	"github.com/iden3/go-iden3-crypto/babyjub"
)

var (
	ErrInvalidConfig = errors.New("elgamal: invalid config")
	ErrOutOfRange    = errors.New("elgamal: amount outside discrete log range")
)

const (
	DefaultBabySteps  = 1 << 16
	DefaultGiantSteps = 1 << 16
)

// DiscreteLog solves m*B8 = M for m < BabySteps*GiantSteps with a
// baby-step giant-step table. Building the table costs BabySteps point
// additions, so callers should build one and reuse it.
type DiscreteLog struct {
	babySteps  uint64
	giantSteps uint64
	table      map[[32]byte]uint64
	giant      *babyjub.Point
}

func NewDiscreteLog(babySteps, giantSteps uint64) (*DiscreteLog, error) {
	if babySteps == 0 || giantSteps == 0 {
		return nil, fmt.Errorf("%w: steps must be > 0", ErrInvalidConfig)
	}
	if babySteps > 1<<24 {
		return nil, fmt.Errorf("%w: baby steps %d too large", ErrInvalidConfig, babySteps)
	}

	table := make(map[[32]byte]uint64, babySteps)
	acc := babyjub.NewPoint()
	for j := uint64(0); j < babySteps; j++ {
		key := acc.Compress()
		if _, ok := table[key]; !ok {
			table[key] = j
		}
		acc = add(acc, babyjub.B8)
	}

	// giant = -babySteps*B8
	n := new(big.Int).SetUint64(babySteps)
	negN := new(big.Int).Sub(babyjub.SubOrder, n.Mod(n, babyjub.SubOrder))
	return &DiscreteLog{
		babySteps:  babySteps,
		giantSteps: giantSteps,
		table:      table,
		giant:      babyjub.NewPoint().Mul(negN, babyjub.B8),
	}, nil
}

// Bound is the exclusive upper limit of amounts Solve can recover.
func (d *DiscreteLog) Bound() uint64 {
	hi, lo := bits.Mul64(d.babySteps, d.giantSteps)
	if hi != 0 {
		return ^uint64(0)
	}
	return lo
}

func (d *DiscreteLog) Solve(m *babyjub.Point) (uint64, error) {
	if d == nil {
		return 0, fmt.Errorf("%w: nil discrete log", ErrInvalidConfig)
	}
	cur := m
	for i := uint64(0); i < d.giantSteps; i++ {
		if j, ok := d.table[cur.Compress()]; ok {
			return i*d.babySteps + j, nil
		}
		cur = add(cur, d.giant)
	}
	return 0, fmt.Errorf("%w: bound %d", ErrOutOfRange, d.Bound())
}
