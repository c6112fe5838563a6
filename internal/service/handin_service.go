package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/railgunhq/railgun/internal/models"
	"github.com/railgunhq/railgun/internal/repository"
)

// zeroScoreResult replaces the runner's result message when an accepted
// report carries no score.
const zeroScoreResult = "Your handin reported a zero score and is rejected."

var (
	ErrHandinNotFound  = errors.New("no such handin")
	ErrUUIDMismatch    = errors.New("uuid in payload does not match the handin")
	ErrAlreadyRunning  = errors.New("handin is already running")
	ErrAlreadyFinished = errors.New("handin is already in terminal state")
)

// HandinService is the state machine behind the runner-facing API. A handin
// moves Pending -> Running -> Accepted/Rejected; every transition is guarded
// in the repository so concurrent or repeated reports cannot double-score.
type HandinService interface {
	// Start marks the handin Running. Repeated or late starts fail with a
	// distinct error so the runner can tell the difference.
	Start(ctx context.Context, uuid string, req models.StartRequest) error

	// Report applies the runner's verdict exactly once.
	Report(ctx context.Context, uuid string, score *models.Score) error

	// Proclog records the raw process outcome. A proclog arriving while
	// the handin is still live means the runner died before scoring, so
	// the handin is rejected with its partial scores wiped.
	Proclog(ctx context.Context, uuid string, req models.ProclogRequest) error

	Get(ctx context.Context, uuid string) (*models.Handin, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Handin, error)
	ListByHomework(ctx context.Context, hwid string, limit, offset int) ([]models.Handin, error)
}

type handinService struct {
	handinRepo repository.HandinRepository
	logger     zerolog.Logger
}

func NewHandinService(handinRepo repository.HandinRepository, logger zerolog.Logger) HandinService {
	return &handinService{
		handinRepo: handinRepo,
		logger:     logger,
	}
}

func (s *handinService) Start(ctx context.Context, uuid string, req models.StartRequest) error {
	if req.UUID != uuid {
		return ErrUUIDMismatch
	}

	ok, err := s.handinRepo.MarkRunning(ctx, uuid)
	if err != nil {
		return fmt.Errorf("failed to mark handin running: %w", err)
	}
	if ok {
		s.logger.Info().Str("handin", uuid).Msg("Handin is now running")
		return nil
	}

	return s.classifyStale(ctx, uuid)
}

func (s *handinService) Report(ctx context.Context, uuid string, score *models.Score) error {
	if score.UUID != uuid {
		return ErrUUIDMismatch
	}

	final := score.Final()
	state := models.HandinStateRejected
	result := score.Result
	if score.Accepted {
		if final < models.ScoreEpsilon {
			// A zero score accept is a scorer bug, not a pass. The scorer's
			// own message is success-flavored, so it is replaced too.
			s.logger.Warn().Str("handin", uuid).
				Msg("Accepted report carries zero score, rejecting")
			result = zeroScoreResult
		} else {
			state = models.HandinStateAccepted
		}
	}

	var partials json.RawMessage
	if len(score.Partials) > 0 {
		raw, err := json.Marshal(score.Partials)
		if err != nil {
			return fmt.Errorf("failed to encode partial scores: %w", err)
		}
		partials = raw
	}

	ok, err := s.handinRepo.SaveScore(ctx, uuid, state, final,
		result, score.CompileError, partials)
	if err != nil {
		return fmt.Errorf("failed to save score: %w", err)
	}
	if ok {
		s.logger.Info().Str("handin", uuid).Str("state", state.String()).
			Float64("score", final).Msg("Handin scored")
		return nil
	}

	return s.classifyStale(ctx, uuid)
}

func (s *handinService) Proclog(ctx context.Context, uuid string, req models.ProclogRequest) error {
	if req.UUID != uuid {
		return ErrUUIDMismatch
	}

	ok, err := s.handinRepo.ForceReject(ctx, uuid,
		"Handin process terminated without reporting a score.",
		req.Exitcode, req.Stdout, req.Stderr)
	if err != nil {
		return fmt.Errorf("failed to reject handin: %w", err)
	}
	if ok {
		s.logger.Warn().Str("handin", uuid).Int("exitcode", req.Exitcode).
			Msg("Handin rejected by process log")
		return nil
	}

	// Already scored: the process log is attached for inspection only.
	if err := s.handinRepo.AttachProclog(ctx, uuid, req.Exitcode, req.Stdout, req.Stderr); err != nil {
		if errors.Is(err, repository.ErrHandinNotFound) {
			return ErrHandinNotFound
		}
		return fmt.Errorf("failed to attach process log: %w", err)
	}
	return nil
}

func (s *handinService) Get(ctx context.Context, uuid string) (*models.Handin, error) {
	handin, err := s.handinRepo.GetByUUID(ctx, uuid)
	if err != nil {
		if errors.Is(err, repository.ErrHandinNotFound) {
			return nil, ErrHandinNotFound
		}
		return nil, err
	}
	return handin, nil
}

func (s *handinService) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Handin, error) {
	return s.handinRepo.ListByUser(ctx, userID, limit, offset)
}

func (s *handinService) ListByHomework(ctx context.Context, hwid string, limit, offset int) ([]models.Handin, error) {
	return s.handinRepo.ListByHomework(ctx, hwid, limit, offset)
}

// classifyStale explains why a guarded transition did not apply.
func (s *handinService) classifyStale(ctx context.Context, uuid string) error {
	handin, err := s.handinRepo.GetByUUID(ctx, uuid)
	if err != nil {
		if errors.Is(err, repository.ErrHandinNotFound) {
			return ErrHandinNotFound
		}
		return err
	}
	if handin.State.Terminal() {
		return ErrAlreadyFinished
	}
	return ErrAlreadyRunning
}
