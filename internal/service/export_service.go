package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/campusflow/lms-api/internal/models"
	"github.com/campusflow/lms-api/internal/repository"
	appErrors "github.com/campusflow/lms-api/pkg/errors"
	"github.com/campusflow/lms-api/pkg/export"
	"github.com/campusflow/lms-api/pkg/jobs"
	"github.com/campusflow/lms-api/pkg/storage"
)

type exportJobRepository interface {
	Create(ctx context.Context, job *models.RosterExportJob) error
	GetByID(ctx context.Context, id string) (*models.RosterExportJob, error)
	Update(ctx context.Context, id string, params repository.UpdateExportJobParams) error
	ListQueued(ctx context.Context, limit int) ([]models.RosterExportJob, error)
}

type exportRosterRepository interface {
	ListRoster(ctx context.Context, courseID string) ([]models.EnrollmentDetail, error)
}

type exportCourseRepository interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

const rosterExportJobType = "roster_export"

// RosterExportService renders course rosters to CSV or PDF in background
// workers and hands out signed download URLs for the results.
type RosterExportService struct {
	exports exportJobRepository
	roster  exportRosterRepository
	courses exportCourseRepository
	access  accessChecker

	storageBackend *storage.LocalStorage
	signer         *storage.SignedURLSigner
	csvExporter    *export.CSVExporter
	pdfExporter    *export.PDFExporter

	queue  *jobs.Queue
	logger *zap.Logger
}

// NewRosterExportService constructs the export service and its worker queue.
func NewRosterExportService(
	exports exportJobRepository,
	roster exportRosterRepository,
	courses exportCourseRepository,
	access accessChecker,
	storageBackend *storage.LocalStorage,
	signer *storage.SignedURLSigner,
	logger *zap.Logger,
	queueCfg jobs.QueueConfig,
) *RosterExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &RosterExportService{
		exports:        exports,
		roster:         roster,
		courses:        courses,
		access:         access,
		storageBackend: storageBackend,
		signer:         signer,
		csvExporter:    export.NewCSVExporter(),
		pdfExporter:    export.NewPDFExporter(),
		logger:         logger,
	}
	queueCfg.Logger = logger
	s.queue = jobs.NewQueue(rosterExportJobType, s.handleJob, queueCfg)
	return s
}

// Start launches the worker pool and requeues jobs left behind by a previous
// process.
func (s *RosterExportService) Start(ctx context.Context) {
	s.queue.Start(ctx)

	pending, err := s.exports.ListQueued(ctx, 100)
	if err != nil {
		s.logger.Warn("failed to list pending export jobs", zap.Error(err))
		return
	}
	for _, job := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: rosterExportJobType, Payload: job.ID}); err != nil {
			s.logger.Warn("failed to requeue export job", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
}

// Stop drains the worker pool.
func (s *RosterExportService) Stop() {
	s.queue.Stop()
}

// Request queues a roster export for a course. Students cannot request
// exports; instructors only for courses they own.
func (s *RosterExportService) Request(ctx context.Context, actor *models.CurrentUser, courseID string, format models.ExportFormat) (*models.RosterExportJob, error) {
	if actor.Role == models.RoleStudent {
		return nil, appErrors.ErrInsufficientRole
	}
	if !format.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
	if err := s.access.CanAccessCourse(ctx, actor, courseID); err != nil {
		return nil, err
	}

	job := &models.RosterExportJob{
		CourseID:  courseID,
		Format:    format,
		Status:    models.ExportStatusQueued,
		CreatedBy: actor.ID,
	}
	if err := s.exports.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create export job")
	}

	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: rosterExportJobType, Payload: job.ID}); err != nil {
		s.logger.Error("failed to enqueue export job", zap.String("job_id", job.ID), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to queue export job")
	}

	return job, nil
}

// GetJob returns export job status for its creator or an admin.
func (s *RosterExportService) GetJob(ctx context.Context, actor *models.CurrentUser, jobID string) (*models.RosterExportJob, error) {
	job, err := s.exports.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export job")
	}
	if actor.Role != models.RoleAdmin && job.CreatedBy != actor.ID {
		return nil, appErrors.ErrAccessDenied
	}
	return job, nil
}

// Download validates a signed token and opens the exported file. Tokens are
// self-contained so no identity is required.
func (s *RosterExportService) Download(ctx context.Context, token string) (*os.File, string, error) {
	jobID, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrInvalidCredential, "invalid or expired download token")
	}

	job, err := s.exports.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export job")
	}
	if job.Status != models.ExportStatusFinished {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "export is not ready")
	}

	file, err := s.storageBackend.Open(relPath)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "export file no longer available")
	}
	return file, relPath, nil
}

// RunCleanup deletes export files older than the TTL on the given interval
// until the context is cancelled.
func (s *RosterExportService) RunCleanup(ctx context.Context, interval, ttl time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.storageBackend.CleanupOlderThan(ttl)
			if err != nil {
				s.logger.Warn("export cleanup failed", zap.Error(err))
				continue
			}
			if len(deleted) > 0 {
				s.logger.Info("cleaned up expired exports", zap.Int("count", len(deleted)))
			}
		}
	}
}

func (s *RosterExportService) handleJob(ctx context.Context, job jobs.Job) error {
	jobID, ok := job.Payload.(string)
	if !ok || jobID == "" {
		s.logger.Error("export job carried no job id", zap.String("queue_job_id", job.ID))
		return nil
	}

	record, err := s.exports.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load export job %s: %w", jobID, err)
	}
	if record.Status == models.ExportStatusFinished {
		return nil
	}

	processing := models.ExportStatusProcessing
	if err := s.exports.Update(ctx, jobID, repository.UpdateExportJobParams{Status: &processing}); err != nil {
		return fmt.Errorf("mark export job processing: %w", err)
	}

	if err := s.renderAndStore(ctx, record); err != nil {
		failed := models.ExportStatusFailed
		message := err.Error()
		now := time.Now().UTC()
		if updateErr := s.exports.Update(ctx, jobID, repository.UpdateExportJobParams{
			Status:       &failed,
			ErrorMessage: &message,
			FinishedAt:   &now,
		}); updateErr != nil {
			s.logger.Error("failed to mark export job failed", zap.String("job_id", jobID), zap.Error(updateErr))
		}
		return err
	}
	return nil
}

func (s *RosterExportService) renderAndStore(ctx context.Context, job *models.RosterExportJob) error {
	course, err := s.courses.FindByID(ctx, job.CourseID)
	if err != nil {
		return fmt.Errorf("load course %s: %w", job.CourseID, err)
	}

	roster, err := s.roster.ListRoster(ctx, job.CourseID)
	if err != nil {
		return fmt.Errorf("load roster: %w", err)
	}

	dataset := rosterDataset(roster)

	var payload []byte
	switch job.Format {
	case models.ExportFormatCSV:
		payload, err = s.csvExporter.Render(dataset)
	case models.ExportFormatPDF:
		title := fmt.Sprintf("%s %s roster", course.CourseCode, course.Title)
		payload, err = s.pdfExporter.Render(dataset, title)
	default:
		err = fmt.Errorf("unsupported format %q", job.Format)
	}
	if err != nil {
		return fmt.Errorf("render roster: %w", err)
	}

	filename := fmt.Sprintf("rosters/%s-%s.%s", course.CourseCode, job.ID, job.Format)
	relPath, err := s.storageBackend.Save(filename, payload)
	if err != nil {
		return fmt.Errorf("store roster: %w", err)
	}

	token, _, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return fmt.Errorf("sign download url: %w", err)
	}
	resultURL := "/api/v1/exports/download?token=" + token

	finished := models.ExportStatusFinished
	now := time.Now().UTC()
	if err := s.exports.Update(ctx, job.ID, repository.UpdateExportJobParams{
		Status:     &finished,
		ResultURL:  &resultURL,
		FinishedAt: &now,
	}); err != nil {
		return fmt.Errorf("mark export job finished: %w", err)
	}

	s.logger.Info("roster export finished",
		zap.String("job_id", job.ID),
		zap.String("course_id", job.CourseID),
		zap.String("format", string(job.Format)),
		zap.Int("rows", len(roster)))
	return nil
}

func rosterDataset(roster []models.EnrollmentDetail) export.Dataset {
	headers := []string{"Student", "Email", "Student No", "Status", "Enrolled", "Final Grade"}
	rows := make([]map[string]string, 0, len(roster))
	for _, entry := range roster {
		grade := ""
		if entry.FinalGrade != nil {
			grade = fmt.Sprintf("%.1f", *entry.FinalGrade)
		}
		number := ""
		if entry.StudentNumber != nil {
			number = *entry.StudentNumber
		}
		rows = append(rows, map[string]string{
			"Student":     entry.StudentFirstName + " " + entry.StudentLastName,
			"Email":       entry.StudentEmail,
			"Student No":  number,
			"Status":      string(entry.Status),
			"Enrolled":    entry.EnrollmentDate.Format("2006-01-02"),
			"Final Grade": grade,
		})
	}
	return export.Dataset{Headers: headers, Rows: rows}
}
