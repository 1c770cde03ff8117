package peerman

import (
	"math"
	"time"
)

// evictionMinAge is the minimum connection age an inbound peer must have
// reached before it becomes an eviction candidate.
const evictionMinAge = 10 * time.Second

// unknownPingSentinel scores an unknown ping time worst, so peers we've
// never successfully pinged are evicted first.
const unknownPingSentinel = math.MaxInt64

// SelectEvictionCandidate picks the inbound peer to drop to make room for a
// new inbound connection, per spec.md §4.3: candidates lack NoBan and have
// been connected at least evictionMinAge; the highest ping-time score wins,
// ties broken by oldest connection then lowest peer id.
func (m *Manager) SelectEvictionCandidate(now time.Time) (PeerID, bool) {
	var (
		bestID    PeerID
		bestScore int64
		bestAge   time.Time
		found     bool
	)

	m.ForEach(func(r *PeerRecord) bool {
		if r.Conn.IsOutbound() {
			return true
		}
		if r.Perms.Has(PermNoBan) {
			return true
		}
		if now.Sub(r.Created) < evictionMinAge {
			return true
		}

		score := int64(unknownPingSentinel)
		if rtt := r.Conn.LastPingRTT(); rtt > 0 {
			score = int64(rtt)
		}

		switch {
		case !found:
		case score > bestScore:
		case score == bestScore && r.Created.Before(bestAge):
		case score == bestScore && r.Created.Equal(bestAge) && r.ID < bestID:
		default:
			return true
		}

		bestID, bestScore, bestAge, found = r.ID, score, r.Created, true
		return true
	})

	return bestID, found
}
