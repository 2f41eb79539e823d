package core

import "sort"

// scoreEpsilon is the similarity band within which two results are
// considered tied and importance decides their order.
const scoreEpsilon = 1e-6

// rankResults orders matches by similarity descending, breaking
// near-ties by importance so a high-importance memory outranks a
// low-importance one at the same similarity.
func rankResults(memories []*Memory) {
	sort.SliceStable(memories, func(i, j int) bool {
		di := memories[i].Score - memories[j].Score
		if di > scoreEpsilon {
			return true
		}
		if di < -scoreEpsilon {
			return false
		}
		return memories[i].Importance > memories[j].Importance
	})
}
