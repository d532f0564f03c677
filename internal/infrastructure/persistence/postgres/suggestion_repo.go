package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mentorlink/study-agent/internal/domain/shared"
	"github.com/mentorlink/study-agent/internal/domain/suggestion"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUGGESTION REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// SuggestionRepository implements suggestion.Repository for PostgreSQL.
// The plan body, risk profile and review state are stored as JSONB documents.
type SuggestionRepository struct {
	conn *Connection
}

// NewSuggestionRepository creates a new SuggestionRepository.
func NewSuggestionRepository(conn *Connection) *SuggestionRepository {
	return &SuggestionRepository{conn: conn}
}

var _ suggestion.Repository = (*SuggestionRepository)(nil)

const suggestionColumns = `
	id, user_id, mentor_id, agent, plan, risk_profile, plan_length,
	review, accepted, dismissed, version, previous_version_ref, generated_by,
	active, fallback, prompt_hash, output_hash, model_used, created_at, updated_at
`

// ─────────────────────────────────────────────────────────────────────────────
// Transactional writes
// ─────────────────────────────────────────────────────────────────────────────

// SaveReplacingActive versions s after the user's latest suggestion,
// deactivates the active one and inserts s, all in one transaction.
func (r *SuggestionRepository) SaveReplacingActive(ctx context.Context, s *suggestion.Suggestion) error {
	return r.conn.WithRetryTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		// Serialise concurrent saves for the same user.
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, s.UserID); err != nil {
			return fmt.Errorf("failed to lock user suggestions: %w", err)
		}

		latest, err := scanSuggestion(tx.QueryRow(ctx, `
			SELECT `+suggestionColumns+`
			FROM mentor_suggestions
			WHERE user_id = $1
			ORDER BY created_at DESC
			LIMIT 1
		`, s.UserID))
		switch {
		case err == nil:
			s.FollowUp(latest)
		case IsNoRows(err):
			s.FollowUp(nil)
		default:
			return fmt.Errorf("failed to load latest suggestion: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE mentor_suggestions SET active = FALSE, updated_at = $2
			WHERE user_id = $1 AND active
		`, s.UserID, s.CreatedAt); err != nil {
			return fmt.Errorf("failed to deactivate suggestions: %w", err)
		}

		s.Active = true
		args, err := suggestionArgs(s)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO mentor_suggestions (`+suggestionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		`, args...); err != nil {
			if IsUniqueViolation(err) {
				return shared.ErrAlreadyExists
			}
			return fmt.Errorf("failed to insert suggestion: %w", err)
		}
		return nil
	})
}

// ActivateExclusive deactivates the user's other suggestions and persists s.
func (r *SuggestionRepository) ActivateExclusive(ctx context.Context, s *suggestion.Suggestion) error {
	return r.conn.WithRetryTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, s.UserID); err != nil {
			return fmt.Errorf("failed to lock user suggestions: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE mentor_suggestions SET active = FALSE, updated_at = $3
			WHERE user_id = $1 AND id <> $2 AND active
		`, s.UserID, s.ID, s.UpdatedAt); err != nil {
			return fmt.Errorf("failed to deactivate suggestions: %w", err)
		}
		return updateSuggestion(ctx, tx, s, true)
	})
}

// Update persists review or task-completion changes. It may deactivate the
// suggestion but never re-activates one that a concurrent replacement has
// already taken out of rotation.
func (r *SuggestionRepository) Update(ctx context.Context, s *suggestion.Suggestion) error {
	return updateSuggestion(ctx, r.conn, s, false)
}

// updateSuggestion writes s back. Unless activate is set, active can only
// go from true to false.
func updateSuggestion(ctx context.Context, q Querier, s *suggestion.Suggestion, activate bool) error {
	planJSON, err := json.Marshal(s.Plan)
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}
	reviewJSON, err := json.Marshal(s.Review)
	if err != nil {
		return fmt.Errorf("failed to marshal review: %w", err)
	}

	var active bool
	err = q.QueryRow(ctx, `
		UPDATE mentor_suggestions SET
			plan = $2,
			review = $3,
			accepted = $4,
			dismissed = $5,
			active = CASE WHEN $8::boolean THEN $6::boolean ELSE active AND $6::boolean END,
			updated_at = $7
		WHERE id = $1
		RETURNING active
	`, s.ID, planJSON, reviewJSON, s.Accepted, s.Dismissed, s.Active, s.UpdatedAt, activate).Scan(&active)
	if err != nil {
		if IsNoRows(err) {
			return shared.ErrSuggestionNotFound
		}
		return fmt.Errorf("failed to update suggestion: %w", err)
	}
	s.Active = active
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

// FindByID returns a suggestion by id.
func (r *SuggestionRepository) FindByID(ctx context.Context, id string) (*suggestion.Suggestion, error) {
	return r.findOne(ctx, `
		SELECT `+suggestionColumns+`
		FROM mentor_suggestions
		WHERE id = $1
	`, id)
}

// FindLatestActive returns the user's newest active suggestion.
func (r *SuggestionRepository) FindLatestActive(ctx context.Context, userID string) (*suggestion.Suggestion, error) {
	return r.findOne(ctx, `
		SELECT `+suggestionColumns+`
		FROM mentor_suggestions
		WHERE user_id = $1 AND active
		ORDER BY created_at DESC
		LIMIT 1
	`, userID)
}

// FindLatestAccepted returns the user's newest active and accepted suggestion.
func (r *SuggestionRepository) FindLatestAccepted(ctx context.Context, userID string) (*suggestion.Suggestion, error) {
	return r.findOne(ctx, `
		SELECT `+suggestionColumns+`
		FROM mentor_suggestions
		WHERE user_id = $1 AND active AND accepted
		ORDER BY created_at DESC
		LIMIT 1
	`, userID)
}

// ExistsGeneratedSince reports whether the user has a suggestion of the given
// origin created at or after since.
func (r *SuggestionRepository) ExistsGeneratedSince(ctx context.Context, userID string, by suggestion.GeneratedBy, since time.Time) (bool, error) {
	var exists bool
	err := r.conn.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM mentor_suggestions
			WHERE user_id = $1 AND generated_by = $2 AND created_at >= $3
		)
	`, userID, string(by), since).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check suggestions: %w", err)
	}
	return exists, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Housekeeping
// ─────────────────────────────────────────────────────────────────────────────

// DeactivateCreatedBefore deactivates active suggestions older than cutoff.
func (r *SuggestionRepository) DeactivateCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.conn.Exec(ctx, `
		UPDATE mentor_suggestions SET active = FALSE, updated_at = NOW()
		WHERE active AND created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate old suggestions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteUnacceptedBefore removes never-accepted suggestions older than cutoff.
func (r *SuggestionRepository) DeleteUnacceptedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.conn.Exec(ctx, `
		DELETE FROM mentor_suggestions
		WHERE NOT accepted AND created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old suggestions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helper Methods
// ─────────────────────────────────────────────────────────────────────────────

func (r *SuggestionRepository) findOne(ctx context.Context, query string, args ...any) (*suggestion.Suggestion, error) {
	s, err := scanSuggestion(r.conn.QueryRow(ctx, query, args...))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrSuggestionNotFound
		}
		return nil, fmt.Errorf("failed to get suggestion: %w", err)
	}
	return s, nil
}

func suggestionArgs(s *suggestion.Suggestion) ([]any, error) {
	planJSON, err := json.Marshal(s.Plan)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal plan: %w", err)
	}
	riskJSON, err := json.Marshal(s.RiskProfile)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal risk profile: %w", err)
	}
	reviewJSON, err := json.Marshal(s.Review)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal review: %w", err)
	}

	return []any{
		s.ID,
		s.UserID,
		nullString(s.MentorID),
		s.Agent,
		planJSON,
		riskJSON,
		s.PlanLength,
		reviewJSON,
		s.Accepted,
		s.Dismissed,
		s.Version,
		nullString(s.PreviousVersionRef),
		string(s.GeneratedBy),
		s.Active,
		s.Fallback,
		nullString(s.PromptHash),
		nullString(s.OutputHash),
		nullString(s.ModelUsed),
		s.CreatedAt,
		s.UpdatedAt,
	}, nil
}

func scanSuggestion(row pgx.Row) (*suggestion.Suggestion, error) {
	var (
		s                                 suggestion.Suggestion
		mentorID, prevRef                 *string
		promptHash, outputHash, modelUsed *string
		planJSON, riskJSON, reviewJSON    []byte
		generatedBy                       string
		planLength                        int
		accepted, dismissed               bool
	)

	err := row.Scan(
		&s.ID,
		&s.UserID,
		&mentorID,
		&s.Agent,
		&planJSON,
		&riskJSON,
		&planLength,
		&reviewJSON,
		&accepted,
		&dismissed,
		&s.Version,
		&prevRef,
		&generatedBy,
		&s.Active,
		&s.Fallback,
		&promptHash,
		&outputHash,
		&modelUsed,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(planJSON, &s.Plan); err != nil {
		return nil, fmt.Errorf("failed to unmarshal plan: %w", err)
	}
	if err := json.Unmarshal(riskJSON, &s.RiskProfile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal risk profile: %w", err)
	}
	if len(reviewJSON) > 0 {
		if err := json.Unmarshal(reviewJSON, &s.Review); err != nil {
			return nil, fmt.Errorf("failed to unmarshal review: %w", err)
		}
	}

	// Indexed columns win over the document copies.
	s.PlanLength = planLength
	s.Accepted = accepted
	s.Dismissed = dismissed
	s.MentorID = deref(mentorID)
	s.PreviousVersionRef = deref(prevRef)
	s.GeneratedBy = suggestion.GeneratedBy(generatedBy)
	s.PromptHash = deref(promptHash)
	s.OutputHash = deref(outputHash)
	s.ModelUsed = deref(modelUsed)
	return &s, nil
}
