package worker

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/railgunhq/railgun/internal/archive"
	"github.com/railgunhq/railgun/internal/homework"
	"github.com/railgunhq/railgun/internal/host"
	"github.com/railgunhq/railgun/internal/models"
	"github.com/railgunhq/railgun/internal/reporting"
	"github.com/railgunhq/railgun/internal/storage"
)

// dataFileName is where a CSV submission lands inside the workspace; the
// homework scaffold reads it from there.
const dataFileName = "data.csv"

// Executor runs one queued handin from claim to report. Every failure mode
// ends in a rejection report; the executor itself never lets an error
// escape to the pool.
type Executor struct {
	homeworks *homework.Set
	store     storage.ArchiveStore
	reporter  reporting.Reporter
	perm      *PermissionCheck
	hostOpts  host.Options
	logger    zerolog.Logger
}

func NewExecutor(
	homeworks *homework.Set,
	store storage.ArchiveStore,
	reporter reporting.Reporter,
	perm *PermissionCheck,
	hostOpts host.Options,
	logger zerolog.Logger,
) *Executor {
	return &Executor{
		homeworks: homeworks,
		store:     store,
		reporter:  reporter,
		perm:      perm,
		hostOpts:  hostOpts,
		logger:    logger,
	}
}

// Run executes the handin described by event and reports the outcome. The
// returned error is informational; the verdict has already been delivered
// to the website by the time Run returns.
func (e *Executor) Run(ctx context.Context, event models.HandinQueuedEvent) error {
	err := e.run(ctx, event)
	if err == nil {
		return nil
	}

	rerr := host.Wrap(err)
	if rerr.Kind == host.KindInternal {
		// Unexpected fault: full detail for the operator, a generic
		// message for the student.
		e.logger.Error().Err(rerr).
			Str("handin", event.HandinID).Str("hw", event.HomeworkID).
			Msg("Handin execution failed")
	} else {
		// Taxonomy errors are the student's problem, log message only.
		e.logger.Warn().
			Str("handin", event.HandinID).Str("hw", event.HomeworkID).
			Str("kind", rerr.Kind.String()).
			Msg(rerr.Message())
	}

	e.reportRejection(ctx, event.HandinID, rerr.Message())
	return rerr
}

func (e *Executor) run(ctx context.Context, event models.HandinQueuedEvent) error {
	if err := e.perm.Err(); err != nil {
		return host.ErrPermission(err)
	}

	hw, ok := e.homeworks.GetByUUID(event.HomeworkID)
	if !ok {
		return host.ErrInternal(fmt.Errorf("homework %q is not loaded", event.HomeworkID))
	}

	// The runner announces itself before spending time on extraction, so
	// the website can show Running while slow archives unpack.
	if err := e.reporter.Start(ctx, event.HandinID); err != nil {
		e.logger.Warn().Err(err).Str("handin", event.HandinID).
			Msg("Failed to report handin start")
	}

	var (
		result   host.ProcessResult
		runErr   error
		finished func() error
	)
	switch {
	case event.Address != "":
		result, runErr, finished = e.runNetAPI(ctx, event, hw)
	case event.Data != "":
		result, runErr, finished = e.runData(ctx, event, hw)
	default:
		result, runErr, finished = e.runArchive(ctx, event, hw)
	}
	defer func() {
		if err := finished(); err != nil {
			e.logger.Warn().Err(err).Str("handin", event.HandinID).
				Msg("Failed to clean up handin workspace")
		}
	}()
	if runErr != nil {
		return runErr
	}

	stdout, stderr, valid := validOutput(result)
	if !valid {
		// Output that is not UTF-8 cannot be stored or displayed; the
		// proclog keeps the exitcode and drops the streams.
		if err := e.reporter.Proclog(ctx, event.HandinID, result.Exitcode, nil, nil); err != nil {
			e.logger.Warn().Err(err).Str("handin", event.HandinID).
				Msg("Failed to report process log")
		}
		return host.ErrNonUTF8Output()
	}

	if result.Exitcode != 0 {
		e.logger.Warn().
			Str("handin", event.HandinID).Str("hw", event.HomeworkID).
			Int("exitcode", result.Exitcode).
			Msg("Handin process exited with failure")
		// The process died before it could report its own score.
		e.reportRejection(ctx, event.HandinID,
			fmt.Sprintf("Exitcode of your handin is %d != 0.", result.Exitcode))
	} else {
		e.logger.Info().
			Str("handin", event.HandinID).Str("hw", event.HomeworkID).
			Msg("Handin process finished")
	}

	if err := e.reporter.Proclog(ctx, event.HandinID, result.Exitcode, stdout, stderr); err != nil {
		e.logger.Warn().Err(err).Str("handin", event.HandinID).
			Msg("Failed to report process log")
	}
	return nil
}

// runArchive prepares the scaffold, fetches and extracts the student
// archive, and spawns the entry process.
func (e *Executor) runArchive(ctx context.Context, event models.HandinQueuedEvent,
	hw *homework.Homework) (host.ProcessResult, error, func() error) {

	noop := func() error { return nil }

	h, err := host.New(e.hostOpts, event.HandinID, hw, event.Lang)
	if err != nil {
		return host.ProcessResult{}, err, noop
	}

	if err := h.PrepareCode(); err != nil {
		return host.ProcessResult{}, err, h.Close
	}

	scratch, err := os.MkdirTemp(e.hostOpts.TempRoot, "fetch-")
	if err != nil {
		return host.ProcessResult{}, host.ErrInternal(err), h.Close
	}
	defer os.RemoveAll(scratch)

	local, err := e.store.FetchToFile(ctx, event.ObjectKey, scratch)
	if err != nil {
		return host.ProcessResult{}, host.ErrInternal(err), h.Close
	}

	ex, err := archive.Open(local)
	if err != nil {
		return host.ProcessResult{}, host.ErrBadArchive(err), h.Close
	}
	defer ex.Close()

	if err := h.ExtractHandin(ex); err != nil {
		return host.ProcessResult{}, err, h.Close
	}

	result, err := h.Run(ctx)
	return result, err, h.Close
}

// runData materializes the submitted CSV rows as a workspace file next to
// the scaffold and spawns the entry process over them.
func (e *Executor) runData(ctx context.Context, event models.HandinQueuedEvent,
	hw *homework.Homework) (host.ProcessResult, error, func() error) {

	h, err := host.New(e.hostOpts, event.HandinID, hw, event.Lang)
	if err != nil {
		return host.ProcessResult{}, err, func() error { return nil }
	}

	if err := h.PrepareCode(); err != nil {
		return host.ProcessResult{}, err, h.Close
	}

	if err := h.Workspace().WriteFile(dataFileName, strings.NewReader(event.Data)); err != nil {
		return host.ProcessResult{}, host.ErrInternal(err), h.Close
	}

	result, err := h.Run(ctx)
	return result, err, h.Close
}

// runNetAPI validates the submitted address and spawns the checker.
func (e *Executor) runNetAPI(ctx context.Context, event models.HandinQueuedEvent,
	hw *homework.Homework) (host.ProcessResult, error, func() error) {

	h, err := host.NewNetHost(e.hostOpts, event.HandinID, hw, event.Address)
	if err != nil {
		return host.ProcessResult{}, err, func() error { return nil }
	}

	if err := h.PrepareCode(); err != nil {
		return host.ProcessResult{}, err, h.Close
	}

	result, err := h.Run(ctx)
	return result, err, h.Close
}

func (e *Executor) reportRejection(ctx context.Context, handinID, message string) {
	score := &models.Score{
		UUID:     handinID,
		Accepted: false,
		Result:   message,
	}
	if err := e.reporter.Report(ctx, score); err != nil {
		e.logger.Warn().Err(err).Str("handin", handinID).
			Msg("Failed to report handin rejection")
	}
}

// validOutput converts the raw process streams into reportable strings.
// Both streams must be valid UTF-8 or neither is kept.
func validOutput(result host.ProcessResult) (stdout, stderr *string, ok bool) {
	if !utf8.Valid(result.Stdout) || !utf8.Valid(result.Stderr) {
		return nil, nil, false
	}
	out := string(result.Stdout)
	errs := string(result.Stderr)
	return &out, &errs, true
}
