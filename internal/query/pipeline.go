package query

import (
	"math"
	"sort"
	"strings"

	"github.com/web3-frozen/defi-lending-api/internal/models"
)

// Run applies Filter, Sort and Limit in that order.
func Run(pools []models.Pool, p Params) []models.Pool {
	out := Filter(pools, p)
	out = Sort(out, p.SortBy, p.Order)
	return Limit(out, p.Limit)
}

// Filter returns the pools matching every criterion set in p.
func Filter(pools []models.Pool, p Params) []models.Pool {
	out := make([]models.Pool, 0, len(pools))
	for _, pool := range pools {
		if p.Chain != "" && !strings.EqualFold(pool.Chain, p.Chain) {
			continue
		}
		if p.Project != "" && !strings.EqualFold(pool.Project, p.Project) {
			continue
		}
		if p.MinTVL > 0 && pool.TVL < p.MinTVL {
			continue
		}
		out = append(out, pool)
	}
	return out
}

// Sort returns a copy of pools ordered by key. Equal keys keep their
// input order. Unknown keys sort by TVL descending.
func Sort(pools []models.Pool, key SortKey, order Order) []models.Pool {
	value, ok := sortValues[key]
	if !ok {
		value, order = sortValues[SortTVL], Desc
	}
	out := make([]models.Pool, len(pools))
	copy(out, pools)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := finite(value(out[i])), finite(value(out[j]))
		if order == Asc {
			return a < b
		}
		return a > b
	})
	return out
}

// Limit truncates pools to at most n entries, with n first clamped by
// ClampLimit.
func Limit(pools []models.Pool, n int) []models.Pool {
	n = ClampLimit(float64(n))
	if n >= len(pools) {
		return pools
	}
	return pools[:n]
}

var sortValues = map[SortKey]func(models.Pool) float64{
	SortTVL:       func(p models.Pool) float64 { return p.TVL },
	SortAPY:       func(p models.Pool) float64 { return p.APY },
	SortAPYBorrow: func(p models.Pool) float64 { return p.APYBorrow },
	SortLTV:       func(p models.Pool) float64 { return p.LTV },
}

// finite treats NaN and infinities as zero so the order stays total.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
