package shuffle

import (
	"math/rand/v2"

	"playdeck/internal/core"
)

// Strategy names the algorithm a Policy picked.
type Strategy string

const (
	StrategyFisherYates Strategy = "fisher_yates"
	StrategyNoAdjacent  Strategy = "no_adjacent"
	StrategyBatch       Strategy = "batch"
)

// Policy picks a shuffle algorithm by list size. Thresholds are tunable.
type Policy struct {
	BatchSize           int
	BatchThreshold      int
	NoAdjacentThreshold int
}

func DefaultPolicy() Policy {
	return Policy{
		BatchSize:           core.DefaultShuffleBatchSize,
		BatchThreshold:      core.DefaultBatchShuffleThreshold,
		NoAdjacentThreshold: core.DefaultNoAdjacentThreshold,
	}
}

func PolicyFromConfig(cfg core.ShuffleConfig) Policy {
	return Policy{
		BatchSize:           cfg.BatchSize,
		BatchThreshold:      cfg.BatchThreshold,
		NoAdjacentThreshold: cfg.NoAdjacentThreshold,
	}
}

// Select returns the strategy for a list of n tracks:
// above BatchThreshold batch, above NoAdjacentThreshold no-adjacent, otherwise Fisher-Yates.
func (p Policy) Select(n int) Strategy {
	switch {
	case n > p.BatchThreshold:
		return StrategyBatch
	case n > p.NoAdjacentThreshold:
		return StrategyNoAdjacent
	default:
		return StrategyFisherYates
	}
}

// Shuffle applies the selected strategy.
func (p Policy) Shuffle(tracks []core.TrackRef, rng *rand.Rand) ([]core.TrackRef, Strategy) {
	strategy := p.Select(len(tracks))
	switch strategy {
	case StrategyBatch:
		return BatchShuffle(tracks, p.BatchSize, rng), strategy
	case StrategyNoAdjacent:
		return NoAdjacentShuffle(tracks, rng), strategy
	default:
		return FisherYates(tracks, rng), strategy
	}
}
