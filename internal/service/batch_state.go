package service

import (
	"fmt"

	"github.com/rosterly/enrol-recon-api/internal/models"
)

// batchTransitions is the fixed adjacency table for the batch lifecycle.
// Terminal statuses have no outgoing edges.
var batchTransitions = map[models.BatchStatus][]models.BatchStatus{
	models.BatchStatusReceived: {models.BatchStatusParsing},
	models.BatchStatusParsing: {
		models.BatchStatusProposedOK,
		models.BatchStatusProposedNeedsReview,
		models.BatchStatusFailedValidation,
	},
	models.BatchStatusProposedOK: {
		models.BatchStatusProposedNeedsReview,
		models.BatchStatusReadyToApply,
		models.BatchStatusRejected,
	},
	models.BatchStatusProposedNeedsReview: {
		models.BatchStatusProposedOK,
		models.BatchStatusReadyToApply,
		models.BatchStatusRejected,
	},
	models.BatchStatusReadyToApply: {
		models.BatchStatusApplying,
		models.BatchStatusRejected,
	},
	models.BatchStatusApplying: {
		models.BatchStatusApplied,
		models.BatchStatusFailedSystem,
	},
	models.BatchStatusApplied:          nil,
	models.BatchStatusRejected:         nil,
	models.BatchStatusFailedValidation: nil,
	models.BatchStatusFailedSystem:     nil,
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to models.BatchStatus) bool {
	for _, next := range batchTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminalStatus reports whether a status has no outgoing transitions.
func IsTerminalStatus(status models.BatchStatus) bool {
	next, known := batchTransitions[status]
	return known && len(next) == 0
}

// ComputeStatusAfterResolution recomputes a batch status after a reviewer
// edits exclusions or resolves rows. Batches already queued for or past apply
// are never regressed.
func ComputeStatusAfterResolution(summary models.BatchSummary) models.BatchStatus {
	switch summary.Status {
	case models.BatchStatusReadyToApply, models.BatchStatusApplying:
		return summary.Status
	}
	if IsTerminalStatus(summary.Status) {
		return summary.Status
	}

	clean := summary.InvalidRows == 0 && summary.AmbiguousRows == 0
	if clean && summary.ReviewOutcome != nil && *summary.ReviewOutcome == models.ReviewOutcomeConfirm {
		return models.BatchStatusReadyToApply
	}
	if !clean {
		return models.BatchStatusProposedNeedsReview
	}
	return summary.Status
}

// CanApply is the commit gate. All conditions must hold simultaneously and
// every failing one contributes a human-readable reason.
func CanApply(summary models.BatchSummary) models.ApplyGate {
	var reasons []string

	if summary.Status != models.BatchStatusReadyToApply {
		reasons = append(reasons, fmt.Sprintf("batch status is %s, expected %s", summary.Status, models.BatchStatusReadyToApply))
	}
	if summary.InvalidRows > 0 {
		reasons = append(reasons, fmt.Sprintf("%d invalid rows must be corrected or excluded", summary.InvalidRows))
	}
	if summary.AmbiguousRows > 0 {
		reasons = append(reasons, fmt.Sprintf("%d ambiguous rows must be resolved or excluded", summary.AmbiguousRows))
	}
	if summary.ReviewOutcome == nil || *summary.ReviewOutcome != models.ReviewOutcomeConfirm {
		reasons = append(reasons, "batch has not been confirmed by a reviewer")
	}
	if summary.ProcessableRows <= 0 {
		reasons = append(reasons, "no processable rows remain in the apply set")
	}

	return models.ApplyGate{Allowed: len(reasons) == 0, Reasons: reasons}
}

// CanReject reports whether a reviewer may reject a batch in this status.
func CanReject(status models.BatchStatus) bool {
	return CanTransition(status, models.BatchStatusRejected)
}

// CanTriage reports whether row-level edits (exclude/resolve) are allowed.
func CanTriage(status models.BatchStatus) bool {
	switch status {
	case models.BatchStatusProposedOK, models.BatchStatusProposedNeedsReview:
		return true
	default:
		return false
	}
}
