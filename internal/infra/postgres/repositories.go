package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"
	"quiz-session-service/internal/domain"
)

// SessionRepository persists session records with bun.
type SessionRepository struct {
	db *bun.DB
}

func NewSessionRepository(db *bun.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Save(ctx context.Context, session *domain.Session) error {
	_, err := r.db.NewInsert().Model(toSessionRow(session)).Exec(ctx)
	return err
}

func (r *SessionRepository) Update(ctx context.Context, session *domain.Session) error {
	_, err := r.db.NewUpdate().Model(toSessionRow(session)).WherePK().Exec(ctx)
	return err
}

func (r *SessionRepository) ByID(ctx context.Context, id string) (domain.Session, error) {
	row := new(sessionRow)
	err := r.db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, err
	}
	return row.toDomain(), nil
}

func (r *SessionRepository) ByCode(ctx context.Context, code string) (domain.Session, error) {
	row := new(sessionRow)
	err := r.db.NewSelect().Model(row).
		Where("code = ?", code).
		Where("status != ?", string(domain.StatusEnded)).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, err
	}
	return row.toDomain(), nil
}

func (r *SessionRepository) CodeInUse(ctx context.Context, code string) (bool, error) {
	return r.db.NewSelect().Model((*sessionRow)(nil)).
		Where("code = ?", code).
		Where("status != ?", string(domain.StatusEnded)).
		Exists(ctx)
}

// IncrementParticipants adjusts the count in one statement so concurrent
// joins and leaves never lose updates; with a cap the increment doubles as
// the capacity gate.
func (r *SessionRepository) IncrementParticipants(ctx context.Context, id string, delta, max int) error {
	q := r.db.NewUpdate().Model((*sessionRow)(nil)).
		Set("total_participants = GREATEST(total_participants + ?, 0)", delta).
		Where("id = ?", id)
	if delta > 0 && max > 0 {
		q = q.Where("total_participants + ? <= ?", delta, max)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return err
	}
	if delta > 0 && max > 0 {
		return requireRow(res, domain.ErrSessionFull)
	}
	return requireRow(res, domain.ErrSessionNotFound)
}

// ParticipantRepository persists participant records with bun.
type ParticipantRepository struct {
	db *bun.DB
}

func NewParticipantRepository(db *bun.DB) *ParticipantRepository {
	return &ParticipantRepository{db: db}
}

// Save inserts the participant. The partial unique index on
// (session_id, LOWER(nickname)) WHERE is_active turns a concurrent duplicate
// nickname into zero inserted rows instead of a second active row.
func (r *ParticipantRepository) Save(ctx context.Context, participant *domain.Participant) error {
	res, err := r.db.NewInsert().Model(toParticipantRow(participant)).
		On("CONFLICT (session_id, LOWER(nickname)) WHERE is_active DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res, domain.ErrNicknameTaken)
}

func (r *ParticipantRepository) ByID(ctx context.Context, id string) (domain.Participant, error) {
	row := new(participantRow)
	err := r.db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	if err != nil {
		return domain.Participant{}, err
	}
	return row.toDomain(), nil
}

func (r *ParticipantRepository) ActiveBySession(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	var rows []participantRow
	err := r.db.NewSelect().Model(&rows).
		Where("session_id = ?", sessionID).
		Where("is_active = TRUE").
		Order("joined_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Participant, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

func (r *ParticipantRepository) NicknameTaken(ctx context.Context, sessionID, nickname string) (bool, error) {
	return r.db.NewSelect().Model((*participantRow)(nil)).
		Where("session_id = ?", sessionID).
		Where("is_active = TRUE").
		Where("LOWER(nickname) = LOWER(?)", nickname).
		Exists(ctx)
}

func (r *ParticipantRepository) UpdateScore(ctx context.Context, id string, totalScore int) error {
	res, err := r.db.NewUpdate().Model((*participantRow)(nil)).
		Set("total_score = ?", totalScore).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res, domain.ErrParticipantNotFound)
}

func (r *ParticipantRepository) SetActive(ctx context.Context, id string, active bool) error {
	res, err := r.db.NewUpdate().Model((*participantRow)(nil)).
		Set("is_active = ?", active).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res, domain.ErrParticipantNotFound)
}

func (r *ParticipantRepository) SetConnected(ctx context.Context, id string, connected bool) error {
	res, err := r.db.NewUpdate().Model((*participantRow)(nil)).
		Set("is_connected = ?", connected).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res, domain.ErrParticipantNotFound)
}

// AnswerRepository persists answers with bun. The unique
// (participant_id, question_id) index makes Insert an atomic
// check-and-insert: a losing concurrent submission inserts zero rows.
type AnswerRepository struct {
	db *bun.DB
}

func NewAnswerRepository(db *bun.DB) *AnswerRepository {
	return &AnswerRepository{db: db}
}

func (r *AnswerRepository) Insert(ctx context.Context, answer *domain.Answer) error {
	res, err := r.db.NewInsert().Model(toAnswerRow(answer)).
		On("CONFLICT (participant_id, question_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res, domain.ErrAlreadyAnswered)
}

func (r *AnswerRepository) Exists(ctx context.Context, participantID, questionID string) (bool, error) {
	return r.db.NewSelect().Model((*answerRow)(nil)).
		Where("participant_id = ?", participantID).
		Where("question_id = ?", questionID).
		Exists(ctx)
}

func (r *AnswerRepository) ByParticipantAndQuestion(ctx context.Context, participantID, questionID string) (domain.Answer, error) {
	row := new(answerRow)
	err := r.db.NewSelect().Model(row).
		Where("participant_id = ?", participantID).
		Where("question_id = ?", questionID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Answer{}, domain.NewError(domain.KindNotFound, "answer not found")
	}
	if err != nil {
		return domain.Answer{}, err
	}
	return row.toDomain(), nil
}

func (r *AnswerRepository) Update(ctx context.Context, answer *domain.Answer) error {
	res, err := r.db.NewUpdate().Model(toAnswerRow(answer)).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	return requireRow(res, domain.NewError(domain.KindNotFound, "answer not found"))
}

func requireRow(res sql.Result, missing error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return missing
	}
	return nil
}
