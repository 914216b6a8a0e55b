package core

import "sort"

// LeaderboardPosition is one finalized score. Immutable once created.
type LeaderboardPosition struct {
	GameID uint32 `json:"game_id"`
	Player string `json:"player"`
	Score  int8   `json:"score"`
}

// Leaderboard is ordered by descending score once sorted.
type Leaderboard []LeaderboardPosition

// Sort orders positions by descending score. Ties keep insertion order.
func (lb Leaderboard) Sort() {
	sort.SliceStable(lb, func(i, j int) bool { return lb[i].Score > lb[j].Score })
}

// Contains reports whether player already has a position.
func (lb Leaderboard) Contains(player string) bool {
	for _, p := range lb {
		if p.Player == player {
			return true
		}
	}
	return false
}
