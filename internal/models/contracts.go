package models

import (
	"fmt"
	"time"
)

// Pool is one lending pool as served by the API. Numeric fields the
// upstream leaves out are zero, never missing.
type Pool struct {
	ID              string  `json:"id"`
	Chain           string  `json:"chain"`
	Project         string  `json:"project"`
	Symbol          string  `json:"symbol"`
	TVL             float64 `json:"tvl"`
	APYBase         float64 `json:"apyBase"`
	APYReward       float64 `json:"apyReward"`
	APY             float64 `json:"apy"`
	APYBaseBorrow   float64 `json:"apyBaseBorrow"`
	APYRewardBorrow float64 `json:"apyRewardBorrow"`
	APYBorrow       float64 `json:"apyBorrow"`
	LTV             float64 `json:"ltv"`
	TotalSupplyUSD  float64 `json:"totalSupplyUsd"`
	TotalBorrowUSD  float64 `json:"totalBorrowUsd"`
	Stablecoin      bool    `json:"stablecoin"`
}

// Snapshot is the full pool set produced by one refresh. It is never
// mutated once published.
type Snapshot struct {
	Seq       uint64
	Pools     []Pool
	FetchedAt time.Time
}

// Version identifies a snapshot for response caching. It combines the
// fetch time with the per-process sequence so restarts never reuse keys.
func (s *Snapshot) Version() string {
	if s == nil {
		return "none"
	}
	return fmt.Sprintf("%d-%d", s.FetchedAt.UnixNano(), s.Seq)
}

type PoolsResponse struct {
	Data       []Pool `json:"data"`
	TotalCount int    `json:"totalCount"`
}

type ChainInfo struct {
	Name      string `json:"name"`
	PoolCount int    `json:"poolCount"`
}

type ChainsResponse struct {
	Data []ChainInfo `json:"data"`
}

type ProtocolInfo struct {
	Name     string  `json:"name"`
	TotalTVL float64 `json:"totalTvl"`
}

type ProtocolsResponse struct {
	Data []ProtocolInfo `json:"data"`
}

type HealthResponse struct {
	Ok          bool    `json:"ok"`
	Ready       bool    `json:"ready"`
	TsISO       string  `json:"tsISO"`
	Service     string  `json:"service"`
	Version     string  `json:"version"`
	PoolCount   int     `json:"poolCount"`
	FetchedAt   string  `json:"fetchedAt,omitempty"`
	AgeSeconds  float64 `json:"ageSeconds"`
	Stale       bool    `json:"stale"`
	ReadPolicy  string  `json:"readPolicy"`
	CacheTTLSec float64 `json:"cacheTtlSeconds"`
}

type ErrorResponse struct {
	Error          string `json:"error"`
	Detail         string `json:"detail,omitempty"`
	UpstreamStatus int    `json:"upstream_status,omitempty"`
}
