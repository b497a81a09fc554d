package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mgiannis/scanbatch/internal/extract"
	"github.com/mgiannis/scanbatch/internal/ocr"
)

var (
	// ErrRunInProgress is returned for queue mutations while a batch run
	// owns the queue.
	ErrRunInProgress = errors.New("batch run in progress")

	// ErrItemProcessing is returned when removing an item whose OCR call
	// is in flight.
	ErrItemProcessing = errors.New("item is processing")
)

// IDGenerator generates unique IDs for batches and queue items.
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time.
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

type systemTime struct{}

func (systemTime) Now() time.Time {
	return time.Now()
}

// Service owns batch lifecycle: queue curation, the sequential run, and
// persistence of results.
type Service struct {
	db      DB
	storage Storage
	coord   *Coordinator
	single  *extract.SingleExtractor
	idGen   IDGenerator
	clock   TimeSource

	mu      sync.Mutex
	running map[string]bool
}

// NewService creates a Service with default ID generator and clock.
func NewService(db DB, engine ocr.Engine, storage Storage) *Service {
	return NewServiceWithDeps(db, engine, storage, uuidGenerator{}, systemTime{})
}

// NewServiceWithDeps creates a Service with custom dependencies for testing.
func NewServiceWithDeps(db DB, engine ocr.Engine, storage Storage, idGen IDGenerator, clock TimeSource) *Service {
	return &Service{
		db:      db,
		storage: storage,
		coord:   NewCoordinator(engine, extract.NewBulkExtractor(), storage),
		single:  extract.NewSingleExtractor(),
		idGen:   idGen,
		clock:   clock,
		running: make(map[string]bool),
	}
}

// sanitizeFilename cleans up phone-generated filenames before they are
// used as storage keys.
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	reg := regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	base = reg.ReplaceAllString(base, "")

	reg = regexp.MustCompile(`\s+`)
	base = reg.ReplaceAllString(base, " ")

	base = strings.TrimSpace(base)

	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}

	if base == "" {
		base = "image"
	}

	return base + ext
}

func (s *Service) beginRun(batchID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[batchID] {
		return false
	}
	s.running[batchID] = true
	return true
}

func (s *Service) endRun(batchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, batchID)
}

func (s *Service) isRunning(batchID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[batchID]
}

// CreateBatch creates an empty batch queue.
func (s *Service) CreateBatch() (*Batch, error) {
	now := s.clock.Now()
	b := &Batch{
		ID:        s.idGen.Generate(),
		Items:     []*Item{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.SaveBatch(b); err != nil {
		return nil, fmt.Errorf("saving batch: %w", err)
	}
	return b, nil
}

// GetBatch retrieves a batch by ID.
func (s *Service) GetBatch(id string) (*Batch, error) {
	b, err := s.db.GetBatch(id)
	if err != nil {
		return nil, fmt.Errorf("getting batch: %w", err)
	}
	return b, nil
}

// ListBatches returns all batches.
func (s *Service) ListBatches() ([]*Batch, error) {
	batches, err := s.db.ListBatches()
	if err != nil {
		return nil, fmt.Errorf("listing batches: %w", err)
	}
	return batches, nil
}

// DeleteBatch removes a batch, its items and their stored images.
func (s *Service) DeleteBatch(id string) error {
	if s.isRunning(id) {
		return ErrRunInProgress
	}

	b, err := s.db.GetBatch(id)
	if err != nil {
		return fmt.Errorf("getting batch for deletion: %w", err)
	}

	for _, item := range b.Items {
		s.deleteItemFiles(item)
	}

	if err := s.db.DeleteBatch(id); err != nil {
		return fmt.Errorf("deleting batch: %w", err)
	}
	return nil
}

// AddImage appends a pending queue item backed by a stored upload.
func (s *Service) AddImage(batchID, filename string, data []byte, contentType string) (*Item, error) {
	if s.isRunning(batchID) {
		return nil, ErrRunInProgress
	}

	b, err := s.db.GetBatch(batchID)
	if err != nil {
		return nil, fmt.Errorf("getting batch: %w", err)
	}

	id := s.idGen.Generate()
	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving image: %w", err)
	}

	item := &Item{
		ID:          id,
		Filename:    filename,
		SourceImage: savedPath,
		ContentType: contentType,
		Status:      StatusPending,
		Results:     []extract.Candidate{},
	}
	b.Items = append(b.Items, item)
	b.UpdatedAt = s.clock.Now()

	if err := s.db.SaveBatch(b); err != nil {
		s.storage.Delete(savedPath)
		return nil, fmt.Errorf("saving batch: %w", err)
	}
	return item, nil
}

// CropImage attaches a cropped variant of a pending image and marks the
// item ready. The cropped data replaces the original for recognition.
func (s *Service) CropImage(batchID, itemID string, data []byte, contentType string) (*Item, error) {
	if s.isRunning(batchID) {
		return nil, ErrRunInProgress
	}

	b, err := s.db.GetBatch(batchID)
	if err != nil {
		return nil, fmt.Errorf("getting batch: %w", err)
	}
	item := b.Item(itemID)
	if item == nil {
		return nil, fmt.Errorf("item not found: %s", itemID)
	}
	if !item.Status.CanTransition(StatusCropping) {
		return nil, fmt.Errorf("item %s cannot be cropped in state %q", itemID, item.Status)
	}

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_cropped.png", itemID), data)
	if err != nil {
		return nil, fmt.Errorf("saving cropped image: %w", err)
	}

	item.CroppedImage = savedPath
	item.ContentType = contentType
	item.Status = StatusReady
	b.UpdatedAt = s.clock.Now()

	if err := s.db.SaveBatch(b); err != nil {
		s.storage.Delete(savedPath)
		return nil, fmt.Errorf("saving batch: %w", err)
	}
	return item, nil
}

// MarkReady takes the skip-crop path: the original image will be used.
func (s *Service) MarkReady(batchID, itemID string) (*Item, error) {
	if s.isRunning(batchID) {
		return nil, ErrRunInProgress
	}

	b, err := s.db.GetBatch(batchID)
	if err != nil {
		return nil, fmt.Errorf("getting batch: %w", err)
	}
	item := b.Item(itemID)
	if item == nil {
		return nil, fmt.Errorf("item not found: %s", itemID)
	}
	if !item.Status.CanTransition(StatusReady) {
		return nil, fmt.Errorf("item %s cannot become ready in state %q", itemID, item.Status)
	}

	item.Status = StatusReady
	b.UpdatedAt = s.clock.Now()

	if err := s.db.SaveBatch(b); err != nil {
		return nil, fmt.Errorf("saving batch: %w", err)
	}
	return item, nil
}

// RemoveImage deletes a queue item and its stored files. An item whose
// OCR call is in flight can never be removed.
func (s *Service) RemoveImage(batchID, itemID string) error {
	if s.isRunning(batchID) {
		return ErrRunInProgress
	}

	b, err := s.db.GetBatch(batchID)
	if err != nil {
		return fmt.Errorf("getting batch: %w", err)
	}
	item := b.Item(itemID)
	if item == nil {
		return fmt.Errorf("item not found: %s", itemID)
	}
	if !item.Status.CanTransition(StatusRemoved) {
		return ErrItemProcessing
	}

	s.deleteItemFiles(item)

	kept := b.Items[:0]
	for _, it := range b.Items {
		if it.ID != itemID {
			kept = append(kept, it)
		}
	}
	b.Items = kept
	b.UpdatedAt = s.clock.Now()

	if err := s.db.SaveBatch(b); err != nil {
		return fmt.Errorf("saving batch: %w", err)
	}
	return nil
}

// Run executes the batch: sequential OCR and extraction per item, then
// the flattened candidate sequence in queue order. The queue is owned
// exclusively by the run until it finishes.
func (s *Service) Run(ctx context.Context, batchID string, progress ProgressFunc) ([]extract.Candidate, error) {
	if !s.beginRun(batchID) {
		return nil, ErrRunInProgress
	}
	defer s.endRun(batchID)

	b, err := s.db.GetBatch(batchID)
	if err != nil {
		return nil, fmt.Errorf("getting batch: %w", err)
	}

	if err := s.coord.Run(ctx, b, progress); err != nil {
		return nil, fmt.Errorf("running batch: %w", err)
	}

	b.UpdatedAt = s.clock.Now()
	if err := s.db.SaveBatch(b); err != nil {
		return nil, fmt.Errorf("saving batch results: %w", err)
	}

	return b.Flatten(), nil
}

// ExtractText runs single-receipt extraction over already-produced OCR
// text, for callers that bypass the queue.
func (s *Service) ExtractText(text string) extract.Candidate {
	return s.single.Extract(text)
}

func (s *Service) deleteItemFiles(item *Item) {
	if err := s.storage.Delete(item.SourceImage); err != nil {
		slog.Warn("Failed to delete image", "path", item.SourceImage, "error", err)
	}
	if item.CroppedImage != "" {
		if err := s.storage.Delete(item.CroppedImage); err != nil {
			slog.Warn("Failed to delete cropped image", "path", item.CroppedImage, "error", err)
		}
	}
}
