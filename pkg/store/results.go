package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	serrors "github.com/exploopio/sentinel/pkg/errors"
	"github.com/exploopio/sentinel/pkg/model"
	"github.com/exploopio/sentinel/pkg/shared/severity"
)

// SaveVerdict stores a verdict and returns its row ID.
func (s *Store) SaveVerdict(ctx context.Context, v *model.RiskVerdict) (int64, error) {
	const op = "store.SaveVerdict"

	contributing, err := s.encodeList(v.ContributingFindings)
	if err != nil {
		return 0, serrors.E(serrors.KindStorage, op, err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO verdicts (policy, score, tier, grade, risk_points, contributing, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.Policy, v.Score, string(v.Tier), string(v.Grade), v.RiskPoints, contributing, formatTime(v.ComputedAt),
	)
	if err != nil {
		return 0, serrors.E(serrors.KindStorage, op, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, serrors.E(serrors.KindStorage, op, err)
	}
	return id, nil
}

// GetVerdict returns the verdict stored under id.
func (s *Store) GetVerdict(ctx context.Context, id int64) (*model.RiskVerdict, error) {
	const op = "store.GetVerdict"

	var (
		v                 model.RiskVerdict
		tier, grade, when string
		contributing      []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT policy, score, tier, grade, risk_points, contributing, computed_at
		FROM verdicts WHERE id = ?`, id).Scan(&v.Policy, &v.Score, &tier, &grade, &v.RiskPoints, &contributing, &when)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, serrors.E(serrors.KindStorage, op, err)
	}
	v.Tier = severity.Level(tier)
	v.Grade = model.Grade(grade)
	if v.ContributingFindings, err = decodeList(contributing); err != nil {
		return nil, serrors.E(serrors.KindStorage, op, err)
	}
	if v.ComputedAt, err = parseTime(when); err != nil {
		return nil, serrors.E(serrors.KindStorage, op, err)
	}
	return &v, nil
}

// =============================================================================
// Recommendations
// =============================================================================

// SaveRecommendations inserts recommendations. Re-saving an ID replaces it.
func (s *Store) SaveRecommendations(ctx context.Context, recs []*model.Recommendation) error {
	return s.inTx(ctx, "store.SaveRecommendations", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO recommendations (
				id, finding_id, category, type, title, description, steps, priority,
				locale, status, drafted, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range recs {
			steps, err := s.encodeList(r.Steps)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx,
				r.ID, r.FindingID, string(r.Category), string(r.Type), r.Title, r.Description, steps,
				string(r.Priority), r.Locale, string(r.Status), r.Drafted,
				formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
			); err != nil {
				return err
			}
		}
		return nil
	})
}

const recommendationColumns = `id, finding_id, category, type, title, description, steps, priority,
	locale, status, drafted, created_at, updated_at`

// GetRecommendation returns the recommendation with id.
func (s *Store) GetRecommendation(ctx context.Context, id string) (*model.Recommendation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recommendationColumns+` FROM recommendations WHERE id = ?`, id)
	r, err := scanRecommendation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, serrors.E(serrors.KindStorage, "store.GetRecommendation", err)
	}
	return r, nil
}

// ListRecommendations returns recommendations, optionally filtered by
// status, most urgent first.
func (s *Store) ListRecommendations(ctx context.Context, status model.RecommendationStatus) ([]*model.Recommendation, error) {
	const op = "store.ListRecommendations"

	query := `SELECT ` + recommendationColumns + ` FROM recommendations`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY CASE priority WHEN 'URGENT' THEN 4 WHEN 'HIGH' THEN 3 WHEN 'MEDIUM' THEN 2 ELSE 1 END DESC, created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, serrors.E(serrors.KindStorage, op, err)
	}
	defer rows.Close()

	var out []*model.Recommendation
	for rows.Next() {
		r, err := scanRecommendation(rows)
		if err != nil {
			return nil, serrors.E(serrors.KindStorage, op, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, serrors.E(serrors.KindStorage, op, err)
	}
	return out, nil
}

// UpdateRecommendationStatus moves a recommendation through its workflow.
// Illegal transitions return an InvalidInput error and leave the row as is.
func (s *Store) UpdateRecommendationStatus(ctx context.Context, id string, to model.RecommendationStatus, now time.Time) (*model.Recommendation, error) {
	const op = "store.UpdateRecommendationStatus"

	var updated *model.Recommendation
	err := s.inTx(ctx, op, func(tx *sql.Tx) error {
		r, err := scanRecommendation(tx.QueryRowContext(ctx,
			`SELECT `+recommendationColumns+` FROM recommendations WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := r.Transition(to, now); err != nil {
			return serrors.E(serrors.KindInvalidInput, op, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE recommendations SET status = ?, updated_at = ? WHERE id = ?`,
			string(r.Status), formatTime(r.UpdatedAt), id,
		); err != nil {
			return err
		}
		updated = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func scanRecommendation(row rowScanner) (*model.Recommendation, error) {
	var (
		r                               model.Recommendation
		category, typ, priority, status string
		steps                           []byte
		createdAt, updatedAt            string
	)
	if err := row.Scan(&r.ID, &r.FindingID, &category, &typ, &r.Title, &r.Description, &steps, &priority,
		&r.Locale, &status, &r.Drafted, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	r.Category = model.Category(category)
	r.Type = model.RecommendationType(typ)
	r.Priority = model.Priority(priority)
	r.Status = model.RecommendationStatus(status)

	var err error
	if r.Steps, err = decodeList(steps); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}
