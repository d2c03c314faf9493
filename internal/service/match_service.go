package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/rosterly/enrol-recon-api/internal/models"
	"github.com/rosterly/enrol-recon-api/pkg/config"
	"github.com/rosterly/enrol-recon-api/pkg/spreadsheet"
)

type enrollmentSearcher interface {
	SearchActiveByStudentToken(ctx context.Context, tenantID, token string, limit int) ([]models.EnrollmentDetail, error)
	FindDetailByID(ctx context.Context, tenantID, enrollmentID string) (*models.EnrollmentDetail, error)
}

// MatchService scores parsed rows against existing enrollments and derives
// per-row actions. Matching never mutates anything, so it is safe to re-run.
type MatchService struct {
	enrollments    enrollmentSearcher
	logger         *zap.Logger
	candidateLimit int
	minScore       int
	ambiguityBand  int
}

// NewMatchService constructs the matcher with config-driven thresholds.
func NewMatchService(enrollments enrollmentSearcher, logger *zap.Logger, cfg config.ImportConfig) *MatchService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MatchService{
		enrollments:    enrollments,
		logger:         logger,
		candidateLimit: cfg.CandidateLimit,
		minScore:       cfg.MinScore,
		ambiguityBand:  cfg.AmbiguityBand,
	}
	if s.candidateLimit <= 0 {
		s.candidateLimit = defaultCandidateCap
	}
	if s.minScore <= 0 {
		s.minScore = defaultMinScore
	}
	if s.ambiguityBand <= 0 {
		s.ambiguityBand = defaultAmbiguityBand
	}
	return s
}

// FindCandidateEnrollments retrieves and scores candidate enrollments for one
// parsed row. Rows lacking a student or class name never match.
func (s *MatchService) FindCandidateEnrollments(ctx context.Context, tenantID string, fields spreadsheet.ParsedFields) (models.MatchResult, error) {
	noMatch := models.MatchResult{Decision: models.MatchDecisionNoMatch}
	if fields.StudentName == nil || fields.ClassName == nil {
		return noMatch, nil
	}

	token := firstToken(*fields.StudentName)
	if token == "" {
		return noMatch, nil
	}

	// Coarse prefilter only; the weighted score makes the decision.
	prefiltered, err := s.enrollments.SearchActiveByStudentToken(ctx, tenantID, token, s.candidateLimit)
	if err != nil {
		return noMatch, fmt.Errorf("search candidate enrollments: %w", err)
	}

	var candidates []models.MatchCandidate
	for _, e := range prefiltered {
		nameSim := stringSimilarity(*fields.StudentName, e.StudentName)
		classSim := stringSimilarity(*fields.ClassName, e.ClassName)
		start := e.StartDate
		dateSim := dateSimilarity(fields.StartDate, &start)
		score := weightedScore(nameSim, classSim, dateSim)
		if score < s.minScore {
			continue
		}
		candidates = append(candidates, models.MatchCandidate{
			EnrollmentID: e.ID,
			StudentName:  e.StudentName,
			ClassName:    e.ClassName,
			Score:        score,
		})
	}

	if len(candidates) == 0 {
		return noMatch, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].EnrollmentID < candidates[j].EnrollmentID
	})

	best := candidates[0]
	if len(candidates) == 1 || best.Score >= strongMatchScore || best.Score-candidates[1].Score > s.ambiguityBand {
		return models.MatchResult{
			Decision:   models.MatchDecisionSingleMatch,
			Candidates: candidates,
			Best:       &best,
		}, nil
	}

	return models.MatchResult{
		Decision:   models.MatchDecisionAmbiguous,
		Candidates: candidates,
	}, nil
}

// CalculateDiff compares parsed values against the current enrollment record,
// keeping only real differences: names and classes below the cosmetic
// similarity threshold, dates on a different calendar day.
func (s *MatchService) CalculateDiff(ctx context.Context, tenantID string, fields spreadsheet.ParsedFields, enrollmentID string) (models.FieldDiff, error) {
	detail, err := s.enrollments.FindDetailByID(ctx, tenantID, enrollmentID)
	if err != nil {
		return nil, fmt.Errorf("load enrollment %s: %w", enrollmentID, err)
	}

	diff := models.FieldDiff{}

	if fields.StudentName != nil && stringSimilarity(*fields.StudentName, detail.StudentName) < diffSimilarityThreshold {
		diff[spreadsheet.ColumnStudentName] = models.FieldChange{Old: detail.StudentName, New: *fields.StudentName}
	}
	if fields.ClassName != nil && stringSimilarity(*fields.ClassName, detail.ClassName) < diffSimilarityThreshold {
		diff[spreadsheet.ColumnClassName] = models.FieldChange{Old: detail.ClassName, New: *fields.ClassName}
	}
	if fields.StartDate != nil && !sameDay(*fields.StartDate, detail.StartDate) {
		diff[spreadsheet.ColumnStartDate] = models.FieldChange{
			Old: formatDay(&detail.StartDate),
			New: formatDay(fields.StartDate),
		}
	}
	if fields.EndDate != nil && (detail.EndDate == nil || !sameDay(*fields.EndDate, *detail.EndDate)) {
		diff[spreadsheet.ColumnEndDate] = models.FieldChange{
			Old: formatDay(detail.EndDate),
			New: formatDay(fields.EndDate),
		}
	}

	if len(diff) == 0 {
		return nil, nil
	}
	return diff, nil
}

// ProcessRowsForMatching drives the per-row pipeline: invalid rows
// short-circuit to NEEDS_RESOLUTION, unmatched rows become inserts, matched
// rows become updates or no-ops depending on the diff, ambiguous rows wait
// for a human.
func (s *MatchService) ProcessRowsForMatching(ctx context.Context, tenantID string, rows []spreadsheet.ParsedRow) ([]models.RowOutcome, models.MatchRunCounts, error) {
	outcomes := make([]models.RowOutcome, 0, len(rows))
	var counts models.MatchRunCounts

	for _, row := range rows {
		if !row.IsValid() {
			counts.Invalid++
			outcomes = append(outcomes, models.RowOutcome{
				RowNumber: row.RowNumber,
				Valid:     false,
				Match:     models.MatchResult{Decision: models.MatchDecisionNoMatch},
				Action:    models.ChangeActionNeedsResolution,
			})
			continue
		}
		counts.Valid++

		match, err := s.FindCandidateEnrollments(ctx, tenantID, row.Fields)
		if err != nil {
			return nil, models.MatchRunCounts{}, fmt.Errorf("match row %d: %w", row.RowNumber, err)
		}

		outcome := models.RowOutcome{RowNumber: row.RowNumber, Valid: true, Match: match}
		switch match.Decision {
		case models.MatchDecisionNoMatch:
			outcome.Action = models.ChangeActionInsert
			counts.Inserts++
		case models.MatchDecisionSingleMatch:
			diff, err := s.CalculateDiff(ctx, tenantID, row.Fields, match.Best.EnrollmentID)
			if err != nil {
				return nil, models.MatchRunCounts{}, fmt.Errorf("diff row %d: %w", row.RowNumber, err)
			}
			outcome.Diff = diff
			if len(diff) == 0 {
				outcome.Action = models.ChangeActionNoop
				counts.Noops++
			} else {
				outcome.Action = models.ChangeActionUpdate
				counts.Updates++
			}
		case models.MatchDecisionAmbiguous:
			outcome.Action = models.ChangeActionNeedsResolution
			counts.Ambiguous++
		default:
			return nil, models.MatchRunCounts{}, fmt.Errorf("row %d: unknown match decision %q", row.RowNumber, match.Decision)
		}
		outcomes = append(outcomes, outcome)
	}

	return outcomes, counts, nil
}

func formatDay(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}
