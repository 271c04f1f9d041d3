package sqlite

import (
	"context"
	"database/sql"

	"github.com/example/testcentre/internal/persistence"
)

// VerificationRepository implements persistence.VerificationRepository using SQLite
type VerificationRepository struct {
	pool *ConnectionPool
}

// NewVerificationRepository creates a new SQLite verification repository
func NewVerificationRepository(pool *ConnectionPool) *VerificationRepository {
	return &VerificationRepository{pool: pool}
}

type photoRecord struct {
	Kind   string `json:"kind"`
	Digest string `json:"digest"`
	Notes  string `json:"notes,omitempty"`
}

// SaveVerification stores the verification as the appointment's single
// active record, replacing any earlier submission.
func (r *VerificationRepository) SaveVerification(ctx context.Context, v persistence.IdentityVerification) error {
	records := make([]photoRecord, 0, len(v.Photos))
	for _, photo := range v.Photos {
		records = append(records, photoRecord{Kind: photo.Kind, Digest: photo.Digest, Notes: photo.Notes})
	}
	photos, err := encodeJSON(records)
	if err != nil {
		return err
	}

	_, err = r.pool.exec(ctx, `
		INSERT INTO identity_verifications (
			appointment_id, candidate_id, document_type, document_number, photos,
			document_match_confirmed, photo_match_confirmed, outcome, notes, verified_by, verified_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (appointment_id) DO UPDATE SET
			candidate_id = excluded.candidate_id,
			document_type = excluded.document_type,
			document_number = excluded.document_number,
			photos = excluded.photos,
			document_match_confirmed = excluded.document_match_confirmed,
			photo_match_confirmed = excluded.photo_match_confirmed,
			outcome = excluded.outcome,
			notes = excluded.notes,
			verified_by = excluded.verified_by,
			verified_at = excluded.verified_at`,
		v.AppointmentID,
		v.CandidateID,
		v.DocumentType,
		v.DocumentNumber,
		photos,
		boolPtrToAny(v.DocumentMatchConfirmed),
		boolPtrToAny(v.PhotoMatchConfirmed),
		string(v.Outcome),
		v.Notes,
		v.VerifiedBy,
		formatTime(v.VerifiedAt),
	)
	return err
}

// GetVerification returns the active record or persistence.ErrNotFound.
func (r *VerificationRepository) GetVerification(ctx context.Context, appointmentID string) (persistence.IdentityVerification, error) {
	var v persistence.IdentityVerification
	err := r.pool.queryRow(ctx, func(row *sql.Row) error {
		var (
			photosJSON, outcome, verifiedAt string
			documentMatch, photoMatch       sql.NullInt64
		)
		if err := row.Scan(
			&v.AppointmentID,
			&v.CandidateID,
			&v.DocumentType,
			&v.DocumentNumber,
			&photosJSON,
			&documentMatch,
			&photoMatch,
			&outcome,
			&v.Notes,
			&v.VerifiedBy,
			&verifiedAt,
		); err != nil {
			return err
		}

		var records []photoRecord
		if err := decodeJSON(photosJSON, &records); err != nil {
			return err
		}
		for _, record := range records {
			v.Photos = append(v.Photos, persistence.PhotoEvidence{Kind: record.Kind, Digest: record.Digest, Notes: record.Notes})
		}
		v.DocumentMatchConfirmed = nullIntToBoolPtr(documentMatch)
		v.PhotoMatchConfirmed = nullIntToBoolPtr(photoMatch)
		v.Outcome = persistence.VerificationStatus(outcome)

		var err error
		v.VerifiedAt, err = parseTime(verifiedAt)
		return err
	}, `
		SELECT appointment_id, candidate_id, document_type, document_number, photos,
			document_match_confirmed, photo_match_confirmed, outcome, notes, verified_by, verified_at
		FROM identity_verifications WHERE appointment_id = ?`, appointmentID)
	return v, err
}
