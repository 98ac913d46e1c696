// Package shuffle produces materialized random orderings of track lists.
//
// Every function returns a new slice and leaves its input untouched. A nil
// *rand.Rand uses the goroutine-safe global source; tests pass a seeded one.
package shuffle

import (
	"math/rand/v2"

	"github.com/samber/lo"

	"playdeck/internal/core"
)

// FisherYates returns a uniformly random permutation of tracks.
func FisherYates(tracks []core.TrackRef, rng *rand.Rand) []core.TrackRef {
	out := make([]core.TrackRef, len(tracks))
	copy(out, tracks)
	permute(out, intn(rng))
	return out
}

// BatchShuffle cuts tracks into contiguous chunks of batchSize, shuffles each
// chunk, then shuffles the chunk order. Inputs no larger than batchSize get a
// plain FisherYates.
func BatchShuffle(tracks []core.TrackRef, batchSize int, rng *rand.Rand) []core.TrackRef {
	if batchSize <= 0 || len(tracks) <= batchSize {
		return FisherYates(tracks, rng)
	}

	chunks := lo.Chunk(tracks, batchSize)
	shuffled := make([][]core.TrackRef, len(chunks))
	for i, chunk := range chunks {
		shuffled[i] = FisherYates(chunk, rng)
	}
	permute(shuffled, intn(rng))

	return lo.Flatten(shuffled)
}

// NoAdjacentShuffle spreads tracks by primary artist so that no two neighbours
// share one. Each artist's tracks are shuffled internally; the output is then
// built by repeatedly taking the next track from the artist with the most tracks
// left, never the artist just played. This greedy pick replaces a plain
// round-robin over the artists: round-robin puts the same artist back to back
// at round boundaries once the smaller groups run out, the greedy pick only
// does so when no other artist is left. Ties go to a random artist order fixed up
// front. Adjacency is unavoidable only when one artist has more tracks than all
// others combined plus one; the leftovers are then appended back to back.
// Fewer than three tracks, or a single artist, fall back to FisherYates.
func NoAdjacentShuffle(tracks []core.TrackRef, rng *rand.Rand) []core.TrackRef {
	if len(tracks) < 3 {
		return FisherYates(tracks, rng)
	}

	groups := groupByArtist(tracks)
	if len(groups) < 2 {
		return FisherYates(tracks, rng)
	}

	r := intn(rng)
	for i := range groups {
		permute(groups[i], r)
	}
	permute(groups, r)

	out := make([]core.TrackRef, 0, len(tracks))
	prev := -1
	for len(out) < len(tracks) {
		next := pickGroup(groups, prev)
		if next < 0 {
			// only the previous artist has tracks left
			next = prev
		}
		out = append(out, groups[next][0])
		groups[next] = groups[next][1:]
		prev = next
	}
	return out
}

// pickGroup returns the non-empty group with the most tracks left, excluding skip.
// The earliest group wins ties. It returns -1 when nothing else is left.
func pickGroup(groups [][]core.TrackRef, skip int) int {
	best := -1
	for i, g := range groups {
		if i == skip || len(g) == 0 {
			continue
		}
		if best < 0 || len(g) > len(groups[best]) {
			best = i
		}
	}
	return best
}

// groupByArtist splits tracks by primary artist, keeping first-appearance order.
func groupByArtist(tracks []core.TrackRef) [][]core.TrackRef {
	byArtist := lo.GroupBy(tracks, func(t core.TrackRef) string {
		return t.PrimaryArtistID()
	})
	order := lo.Uniq(lo.Map(tracks, func(t core.TrackRef, _ int) string {
		return t.PrimaryArtistID()
	}))

	groups := make([][]core.TrackRef, 0, len(order))
	for _, artist := range order {
		groups = append(groups, byArtist[artist])
	}
	return groups
}

// permute shuffles s in place: i runs from len-1 down to 1, swapping with a uniform index in [0, i].
func permute[T any](s []T, intn func(int) int) {
	for i := len(s) - 1; i > 0; i-- {
		j := intn(i + 1)
		s[i], s[j] = s[j], s[i]
	}
}

func intn(rng *rand.Rand) func(int) int {
	if rng == nil {
		return rand.IntN
	}
	return rng.IntN
}
