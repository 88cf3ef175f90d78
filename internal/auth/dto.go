package auth

import "github.com/jinwoo-ahn/wallet-auth-nonce/pkg/nonce"

// ChallengeRequest optionally overrides the nonce TTL for one challenge.
type ChallengeRequest struct {
	TTLMs int64 `json:"ttl_ms,omitempty"`
}

// ChallengeResponse carries the issued nonce the client must embed in the
// message it signs.
type ChallengeResponse struct {
	Nonce       string `json:"nonce"`
	ExpiresInMs int64  `json:"expires_in_ms"`
}

// StatsResponse mirrors the service statistics.
type StatsResponse struct {
	Total   int64 `json:"total"`
	Active  int64 `json:"active"`
	Used    int64 `json:"used"`
	Expired int64 `json:"expired"`
}

// CleanupResponse reports a manual cleanup run.
type CleanupResponse struct {
	Removed int64 `json:"removed"`
}

// ToStatsResponse converts service stats to the response shape
func ToStatsResponse(stats *nonce.Stats) StatsResponse {
	return StatsResponse{
		Total:   stats.Total,
		Active:  stats.Active,
		Used:    stats.Used,
		Expired: stats.Expired,
	}
}
