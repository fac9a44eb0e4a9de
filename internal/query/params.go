// Package query holds the read pipeline run against a pool snapshot:
// filter, sort, limit and the per-chain / per-project aggregates. Every
// function is pure and never mutates its input.
package query

import (
	"math"
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

type SortKey string

const (
	SortTVL       SortKey = "tvl"
	SortAPY       SortKey = "apy"
	SortAPYBorrow SortKey = "apyBorrow"
	SortLTV       SortKey = "ltv"
)

type Order string

const (
	Asc  Order = "asc"
	Desc Order = "desc"
)

// Params is a fully defaulted query. The zero value of Chain, Project and
// MinTVL means no constraint.
type Params struct {
	Chain   string
	Project string
	SortBy  SortKey
	Order   Order
	Limit   int
	MinTVL  float64
}

func DefaultParams() Params {
	return Params{SortBy: SortTVL, Order: Desc, Limit: DefaultLimit}
}

// ParseParams reads list parameters from a query string. Bad values fall
// back to their defaults instead of failing.
func ParseParams(q url.Values) Params {
	p := DefaultParams()
	p.Chain = strings.ToLower(strings.TrimSpace(q.Get("chain")))
	p.Project = strings.ToLower(strings.TrimSpace(q.Get("project")))
	p.SortBy = parseSortKey(q.Get("sort"))
	if strings.TrimSpace(q.Get("order")) == string(Asc) {
		p.Order = Asc
	}
	p.Limit = ClampLimit(parseNumber(q.Get("limit")))
	if v := parseNumber(q.Get("minTvl")); v > 0 {
		p.MinTVL = v
	}
	return p
}

// ClampLimit maps a requested limit into [1, MaxLimit]. Values above the
// ceiling are capped; zero, negative and non-numeric requests get the
// default.
func ClampLimit(n float64) int {
	if n > MaxLimit {
		return MaxLimit
	}
	if n < 1 {
		return DefaultLimit
	}
	return int(n)
}

// CacheKey renders p in a canonical form.
func (p Params) CacheKey() string {
	return strings.Join([]string{
		"chain=" + p.Chain,
		"project=" + p.Project,
		"sort=" + string(p.SortBy),
		"order=" + string(p.Order),
		"limit=" + strconv.Itoa(p.Limit),
		"minTvl=" + strconv.FormatFloat(p.MinTVL, 'f', -1, 64),
	}, "&")
}

func parseSortKey(v string) SortKey {
	switch k := SortKey(strings.TrimSpace(v)); k {
	case SortTVL, SortAPY, SortAPYBorrow, SortLTV:
		return k
	}
	return SortTVL
}

func parseNumber(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
