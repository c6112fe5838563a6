package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"

	"github.com/railgunhq/railgun/internal/models"
)

var ErrHandinNotFound = errors.New("handin not found")

// HandinRepository persists handin records. State transitions are expressed
// as conditional updates so concurrent reports cannot race each other: the
// WHERE clause is the transition guard and the returned bool tells whether
// the guard held.
type HandinRepository interface {
	Create(ctx context.Context, handin *models.Handin) error
	GetByUUID(ctx context.Context, uuid string) (*models.Handin, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Handin, error)
	ListByHomework(ctx context.Context, hwid string, limit, offset int) ([]models.Handin, error)
	CountByState(ctx context.Context, state models.HandinState) (int, error)

	// MarkRunning flips Pending to Running. Returns false when the handin
	// was not in Pending.
	MarkRunning(ctx context.Context, uuid string) (bool, error)

	// SaveScore records the terminal verdict. Only applies while the handin
	// is still Pending or Running, making score reports at-most-once.
	SaveScore(ctx context.Context, uuid string, state models.HandinState,
		score float64, result, compileError string, partials json.RawMessage) (bool, error)

	// ForceReject rejects a still-live handin, wiping any partial scores.
	// Returns false when the handin already reached a terminal state.
	ForceReject(ctx context.Context, uuid, result string, exitcode int, stdout, stderr *string) (bool, error)

	// AttachProclog stores the raw process outcome without touching the
	// verdict.
	AttachProclog(ctx context.Context, uuid string, exitcode int, stdout, stderr *string) error
}

type handinRepository struct {
	*PostgresRepository
}

func NewHandinRepository(db *sql.DB, logger zerolog.Logger) HandinRepository {
	return &handinRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

func (r *handinRepository) Create(ctx context.Context, handin *models.Handin) error {
	query := `
		INSERT INTO handins (uuid, hwid, lang, user_id, state, score, scale, result, compile_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		handin.UUID,
		handin.HomeworkID,
		handin.Lang,
		handin.UserID,
		handin.State,
		handin.Score,
		handin.Scale,
		handin.Result,
		handin.CompileError,
	)
	return err
}

func (r *handinRepository) GetByUUID(ctx context.Context, uuid string) (*models.Handin, error) {
	query := `
		SELECT uuid, hwid, lang, user_id, state, score, scale, result,
			compile_error, partials, exitcode, stdout, stderr,
			created_at, updated_at
		FROM handins
		WHERE uuid = $1
	`

	handin, err := r.scanHandin(r.db.QueryRowContext(ctx, query, uuid))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrHandinNotFound
		}
		return nil, err
	}
	return handin, nil
}

func (r *handinRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Handin, error) {
	query := `
		SELECT uuid, hwid, lang, user_id, state, score, scale, result,
			compile_error, partials, exitcode, stdout, stderr,
			created_at, updated_at
		FROM handins
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	return r.list(ctx, query, userID, limit, offset)
}

func (r *handinRepository) ListByHomework(ctx context.Context, hwid string, limit, offset int) ([]models.Handin, error) {
	query := `
		SELECT uuid, hwid, lang, user_id, state, score, scale, result,
			compile_error, partials, exitcode, stdout, stderr,
			created_at, updated_at
		FROM handins
		WHERE hwid = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	return r.list(ctx, query, hwid, limit, offset)
}

func (r *handinRepository) CountByState(ctx context.Context, state models.HandinState) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM handins WHERE state = $1`, state).Scan(&count)
	return count, err
}

func (r *handinRepository) MarkRunning(ctx context.Context, uuid string) (bool, error) {
	query := `
		UPDATE handins
		SET state = $1, updated_at = NOW()
		WHERE uuid = $2 AND state = $3
	`

	res, err := r.db.ExecContext(ctx, query,
		models.HandinStateRunning, uuid, models.HandinStatePending)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *handinRepository) SaveScore(ctx context.Context, uuid string, state models.HandinState,
	score float64, result, compileError string, partials json.RawMessage) (bool, error) {

	query := `
		UPDATE handins
		SET state = $1, score = $2, result = $3, compile_error = $4,
			partials = $5, updated_at = NOW()
		WHERE uuid = $6 AND state IN ($7, $8)
	`

	res, err := r.db.ExecContext(ctx, query,
		state, score, result, compileError, nullableJSON(partials), uuid,
		models.HandinStatePending, models.HandinStateRunning)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *handinRepository) ForceReject(ctx context.Context, uuid, result string,
	exitcode int, stdout, stderr *string) (bool, error) {

	query := `
		UPDATE handins
		SET state = $1, score = 0, result = $2, partials = NULL,
			exitcode = $3, stdout = $4, stderr = $5, updated_at = NOW()
		WHERE uuid = $6 AND state IN ($7, $8)
	`

	res, err := r.db.ExecContext(ctx, query,
		models.HandinStateRejected, result, exitcode, stdout, stderr, uuid,
		models.HandinStatePending, models.HandinStateRunning)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *handinRepository) AttachProclog(ctx context.Context, uuid string,
	exitcode int, stdout, stderr *string) error {

	query := `
		UPDATE handins
		SET exitcode = $1, stdout = $2, stderr = $3, updated_at = NOW()
		WHERE uuid = $4
	`

	res, err := r.db.ExecContext(ctx, query, exitcode, stdout, stderr, uuid)
	if err != nil {
		return err
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrHandinNotFound
	}
	return nil
}

func (r *handinRepository) list(ctx context.Context, query string, args ...interface{}) ([]models.Handin, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var handins []models.Handin
	for rows.Next() {
		handin, err := r.scanHandin(rows)
		if err != nil {
			return nil, err
		}
		handins = append(handins, *handin)
	}

	return handins, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *handinRepository) scanHandin(row rowScanner) (*models.Handin, error) {
	handin := &models.Handin{}
	var partials []byte
	var exitcode sql.NullInt64
	var stdout, stderr sql.NullString

	err := row.Scan(
		&handin.UUID,
		&handin.HomeworkID,
		&handin.Lang,
		&handin.UserID,
		&handin.State,
		&handin.Score,
		&handin.Scale,
		&handin.Result,
		&handin.CompileError,
		&partials,
		&exitcode,
		&stdout,
		&stderr,
		&handin.CreatedAt,
		&handin.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(partials) > 0 {
		handin.Partials = json.RawMessage(partials)
	}
	if exitcode.Valid {
		code := int(exitcode.Int64)
		handin.Exitcode = &code
	}
	if stdout.Valid {
		handin.Stdout = &stdout.String
	}
	if stderr.Valid {
		handin.Stderr = &stderr.String
	}

	return handin, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
