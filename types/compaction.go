package types

import "time"

// Trigger identifies what initiated a compaction or checkpoint.
type Trigger string

const (
	TriggerAuto          Trigger = "auto"
	TriggerManual        Trigger = "manual"
	TriggerErrorRecovery Trigger = "error_recovery"
	TriggerPreCompaction Trigger = "pre_compaction"
)

// CompactionResult is the immutable record of one compaction attempt.
// Failed attempts are recorded too, with ReductionPercent zero and an
// explanatory SummaryPreview. The log is append-only.
type CompactionResult struct {
	ID                string  `json:"id"`
	SessionID         string  `json:"session_id"`
	Trigger           Trigger `json:"trigger"`
	PreTokens         int     `json:"pre_tokens"`
	PostTokens        int     `json:"post_tokens"`
	ReductionPercent  float64 `json:"reduction_percent"`
	MessagesCondensed int     `json:"messages_condensed"`
	SummaryPreview    string  `json:"summary_preview"`
	DurationMs        int64   `json:"duration_ms"`
	EstimatedCost     float64 `json:"estimated_cost"`
	ModelUsed         string  `json:"model_used,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ReductionPercent computes the percentage reduction between two token
// counts, defined as 0 when pre is 0.
func ReductionPercent(pre, post int) float64 {
	if pre == 0 {
		return 0
	}
	return float64(pre-post) / float64(pre) * 100
}
