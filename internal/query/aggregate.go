package query

import (
	"sort"

	"github.com/web3-frozen/defi-lending-api/internal/models"
)

// ByChain counts pools per chain, largest first. Ties keep the order in
// which each chain first appears in pools.
func ByChain(pools []models.Pool) []models.ChainInfo {
	out := []models.ChainInfo{}
	index := map[string]int{}
	for _, p := range pools {
		i, ok := index[p.Chain]
		if !ok {
			i = len(out)
			index[p.Chain] = i
			out = append(out, models.ChainInfo{Name: p.Chain})
		}
		out[i].PoolCount++
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PoolCount > out[j].PoolCount })
	return out
}

// ByProject sums TVL per project, largest first, with the same tie rule
// as ByChain.
func ByProject(pools []models.Pool) []models.ProtocolInfo {
	out := []models.ProtocolInfo{}
	index := map[string]int{}
	for _, p := range pools {
		i, ok := index[p.Project]
		if !ok {
			i = len(out)
			index[p.Project] = i
			out = append(out, models.ProtocolInfo{Name: p.Project})
		}
		out[i].TotalTVL += finite(p.TVL)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TotalTVL > out[j].TotalTVL })
	return out
}
