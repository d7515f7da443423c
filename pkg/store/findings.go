package store

import (
	"context"
	"database/sql"
	"errors"

	serrors "github.com/exploopio/sentinel/pkg/errors"
	"github.com/exploopio/sentinel/pkg/model"
	"github.com/exploopio/sentinel/pkg/shared/severity"
)

// SaveFindings inserts findings. Re-saving an ID replaces the row.
func (s *Store) SaveFindings(ctx context.Context, findings []*model.Finding) error {
	return s.inTx(ctx, "store.SaveFindings", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO findings (
				id, category, severity, confidence, title, description, evidence,
				affected_entities, detector, source_id, source_kind, channel, locale, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, f := range findings {
			evidence, err := s.encodeList(f.Evidence)
			if err != nil {
				return err
			}
			entities, err := s.encodeList(f.AffectedEntities)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx,
				f.ID, string(f.Category), string(f.Severity), f.Confidence, f.Title, f.Description,
				evidence, entities, f.Detector, f.SourceID, string(f.SourceKind), string(f.Channel),
				f.Locale, formatTime(f.CreatedAt),
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetFinding returns the finding with id.
func (s *Store) GetFinding(ctx context.Context, id string) (*model.Finding, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, category, severity, confidence, title, description, evidence,
			affected_entities, detector, source_id, source_kind, channel, locale, created_at
		FROM findings WHERE id = ?`, id)
	f, err := scanFinding(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, serrors.E(serrors.KindStorage, "store.GetFinding", err)
	}
	return f, nil
}

// ListFindingsBySource returns the findings raised on one unit, oldest first.
func (s *Store) ListFindingsBySource(ctx context.Context, sourceID string) ([]*model.Finding, error) {
	const op = "store.ListFindingsBySource"

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category, severity, confidence, title, description, evidence,
			affected_entities, detector, source_id, source_kind, channel, locale, created_at
		FROM findings WHERE source_id = ? ORDER BY created_at, id`, sourceID)
	if err != nil {
		return nil, serrors.E(serrors.KindStorage, op, err)
	}
	defer rows.Close()

	var out []*model.Finding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, serrors.E(serrors.KindStorage, op, err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, serrors.E(serrors.KindStorage, op, err)
	}
	return out, nil
}

func scanFinding(row rowScanner) (*model.Finding, error) {
	var (
		f                       model.Finding
		category, sev, kind, ch string
		evidence, entities      []byte
		createdAt               string
	)
	if err := row.Scan(&f.ID, &category, &sev, &f.Confidence, &f.Title, &f.Description, &evidence,
		&entities, &f.Detector, &f.SourceID, &kind, &ch, &f.Locale, &createdAt); err != nil {
		return nil, err
	}
	f.Category = model.Category(category)
	f.Severity = severity.Level(sev)
	f.SourceKind = model.UnitKind(kind)
	f.Channel = model.SourceChannel(ch)

	var err error
	if f.Evidence, err = decodeList(evidence); err != nil {
		return nil, err
	}
	if f.AffectedEntities, err = decodeList(entities); err != nil {
		return nil, err
	}
	if f.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &f, nil
}
