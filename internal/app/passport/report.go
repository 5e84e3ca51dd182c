package passport

import (
	"time"

	"github.com/stampscore/stampscore/internal/domain"
)

// Report is the externally visible view of a passport's score. On ERROR
// every numeric field is null and Error carries the message.
type Report struct {
	CommunityID         int64                        `json:"community_id"`
	Address             string                       `json:"address"`
	Score               *string                      `json:"score"`
	Status              domain.ScoreStatus           `json:"status"`
	Threshold           *string                      `json:"threshold"`
	Evidence            *domain.Evidence             `json:"evidence"`
	ExpirationTimestamp *time.Time                   `json:"expiration_timestamp"`
	Error               *string                      `json:"error"`
	StampScores         map[string]domain.StampScore `json:"stamp_scores"`
	Diagnostics         []domain.StampDiagnostic     `json:"diagnostics,omitempty"`
	LastScoreTimestamp  *time.Time                   `json:"last_score_timestamp"`
}

// NewReport renders a stored score row.
func NewReport(s domain.Score, diagnostics []domain.StampDiagnostic) Report {
	r := Report{
		CommunityID:         s.CommunityID,
		Address:             s.Address,
		Score:               s.FormattedScore(),
		Status:              s.Status,
		Evidence:            s.Evidence,
		ExpirationTimestamp: s.ExpirationDate,
		StampScores:         s.StampScores,
		Diagnostics:         diagnostics,
		LastScoreTimestamp:  s.LastScoreTimestamp,
	}
	if r.StampScores == nil {
		r.StampScores = map[string]domain.StampScore{}
	}
	if s.Evidence != nil {
		th := s.Evidence.Threshold.String()
		r.Threshold = &th
	}
	if s.Status == domain.StatusError {
		msg := s.Error
		r.Error = &msg
	}
	return r
}
