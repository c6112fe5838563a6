package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/railgunhq/railgun/internal/archive"
	"github.com/railgunhq/railgun/internal/homework"
	"github.com/railgunhq/railgun/internal/models"
	"github.com/railgunhq/railgun/internal/repository"
	"github.com/railgunhq/railgun/internal/storage"
	"github.com/railgunhq/railgun/internal/worker/queue"
)

var (
	ErrHomeworkNotFound     = errors.New("no such homework")
	ErrLanguageNotSupported = errors.New("homework does not accept this language")
	ErrDeadlinePassed       = errors.New("the final deadline of this homework has passed")
	ErrUnsupportedArchive   = errors.New("the uploaded file is not a supported archive format")
)

// SubmissionService accepts new handins: it validates the submission
// against the homework definition, persists a Pending record, stores the
// payload and queues the handin for a runner.
type SubmissionService interface {
	SubmitArchive(ctx context.Context, hwid, lang, userID, fileName string,
		r io.Reader, size int64) (*models.CreateHandinResponse, error)
	SubmitAddress(ctx context.Context, hwid, userID, address string) (*models.CreateHandinResponse, error)
	SubmitData(ctx context.Context, hwid, userID, data string) (*models.CreateHandinResponse, error)
	Homeworks() []*homework.Homework
	GetHomework(hwid string) (*homework.Homework, error)
}

type SubmissionConfig struct {
	Exchange     string
	DefaultQueue string
	NetAPIQueue  string
}

type submissionService struct {
	homeworks  *homework.Set
	handinRepo repository.HandinRepository
	store      storage.ArchiveStore
	publisher  queue.RabbitMQPublisher
	logger     zerolog.Logger
	config     SubmissionConfig
	now        func() time.Time
}

func NewSubmissionService(
	homeworks *homework.Set,
	handinRepo repository.HandinRepository,
	store storage.ArchiveStore,
	publisher queue.RabbitMQPublisher,
	logger zerolog.Logger,
	config SubmissionConfig,
) SubmissionService {
	return &submissionService{
		homeworks:  homeworks,
		handinRepo: handinRepo,
		store:      store,
		publisher:  publisher,
		logger:     logger,
		config:     config,
		now:        time.Now,
	}
}

func (s *submissionService) SubmitArchive(ctx context.Context, hwid, lang, userID, fileName string,
	r io.Reader, size int64) (*models.CreateHandinResponse, error) {

	if !archive.SupportedName(fileName) {
		return nil, ErrUnsupportedArchive
	}

	hw, scale, err := s.admit(hwid, lang)
	if err != nil {
		return nil, err
	}

	handinID := newHandinID()
	key := fmt.Sprintf("%s/%s%s", hw.UUID, handinID, strings.ToLower(filepath.Ext(fileName)))
	if err := s.store.Upload(ctx, key, r, size); err != nil {
		return nil, fmt.Errorf("failed to store handin archive: %w", err)
	}

	return s.enqueue(ctx, hw, handinID, lang, userID, scale, models.HandinQueuedEvent{
		HandinID:   handinID,
		HomeworkID: hw.UUID,
		Lang:       lang,
		ObjectKey:  key,
	}, s.config.DefaultQueue)
}

func (s *submissionService) SubmitAddress(ctx context.Context, hwid, userID, address string) (*models.CreateHandinResponse, error) {
	const lang = "netapi"

	hw, scale, err := s.admit(hwid, lang)
	if err != nil {
		return nil, err
	}

	handinID := newHandinID()
	return s.enqueue(ctx, hw, handinID, lang, userID, scale, models.HandinQueuedEvent{
		HandinID:   handinID,
		HomeworkID: hw.UUID,
		Lang:       lang,
		Address:    address,
	}, s.config.NetAPIQueue)
}

// SubmitData accepts a typed CSV submission. The rows travel inside the
// queue event itself; there is no archive to store.
func (s *submissionService) SubmitData(ctx context.Context, hwid, userID, data string) (*models.CreateHandinResponse, error) {
	const lang = "input"

	hw, scale, err := s.admit(hwid, lang)
	if err != nil {
		return nil, err
	}

	handinID := newHandinID()
	return s.enqueue(ctx, hw, handinID, lang, userID, scale, models.HandinQueuedEvent{
		HandinID:   handinID,
		HomeworkID: hw.UUID,
		Lang:       lang,
		Data:       data,
	}, s.config.DefaultQueue)
}

func (s *submissionService) Homeworks() []*homework.Homework {
	return s.homeworks.Items()
}

func (s *submissionService) GetHomework(hwid string) (*homework.Homework, error) {
	hw, ok := s.homeworks.GetByUUID(hwid)
	if !ok {
		if hw, ok = s.homeworks.GetBySlug(hwid); !ok {
			return nil, ErrHomeworkNotFound
		}
	}
	return hw, nil
}

// admit checks the submission is acceptable at all: homework exists, the
// language has a code package and a deadline is still open.
func (s *submissionService) admit(hwid, lang string) (*homework.Homework, float64, error) {
	hw, err := s.GetHomework(hwid)
	if err != nil {
		return nil, 0, err
	}
	if _, ok := hw.GetCode(lang); !ok {
		return nil, 0, ErrLanguageNotSupported
	}
	scale, ok := hw.ScaleAt(s.now())
	if !ok {
		return nil, 0, ErrDeadlinePassed
	}
	return hw, scale, nil
}

func (s *submissionService) enqueue(ctx context.Context, hw *homework.Homework,
	handinID, lang, userID string, scale float64,
	event models.HandinQueuedEvent, routingKey string) (*models.CreateHandinResponse, error) {

	handin := &models.Handin{
		UUID:       handinID,
		HomeworkID: hw.UUID,
		Lang:       lang,
		UserID:     userID,
		State:      models.HandinStatePending,
		Scale:      scale,
	}
	if err := s.handinRepo.Create(ctx, handin); err != nil {
		return nil, fmt.Errorf("failed to create handin: %w", err)
	}

	event.Timestamp = s.now().Unix()
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode handin event: %w", err)
	}
	if err := s.publisher.Publish(ctx, s.config.Exchange, routingKey, body); err != nil {
		return nil, fmt.Errorf("failed to queue handin: %w", err)
	}

	s.logger.Info().
		Str("handin", handinID).
		Str("hw", hw.UUID).
		Str("lang", lang).
		Str("user", userID).
		Float64("scale", scale).
		Msg("Handin queued")

	return &models.CreateHandinResponse{
		UUID:  handinID,
		State: models.HandinStatePending,
		Scale: scale,
	}, nil
}

// newHandinID produces the compact 32 character form used in object keys,
// queue events and URLs.
func newHandinID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
