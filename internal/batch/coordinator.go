package batch

import (
	"context"
	"log/slog"

	"github.com/mgiannis/scanbatch/internal/extract"
	"github.com/mgiannis/scanbatch/internal/ocr"
)

// sentinelNote marks a per-item OCR failure in the flattened output.
const sentinelNote = "OCR Error"

// ProgressFunc reports run progress as a simple (current, total) counter.
type ProgressFunc func(current, total int)

// Coordinator drives one batch run: strictly sequential OCR over the
// queue, bulk extraction per image, per-item failure absorption.
type Coordinator struct {
	engine  ocr.Engine
	bulk    *extract.BulkExtractor
	storage Storage
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(engine ocr.Engine, bulk *extract.BulkExtractor, storage Storage) *Coordinator {
	return &Coordinator{
		engine:  engine,
		bulk:    bulk,
		storage: storage,
	}
}

// Run processes every pending or ready item in insertion order. A
// pending item is treated as implicitly ready (skip-crop path). One
// image's OCR failure records a sentinel candidate and the run
// continues; only context cancellation aborts the batch, between items.
func (c *Coordinator) Run(ctx context.Context, b *Batch, progress ProgressFunc) error {
	total := 0
	for _, item := range b.Items {
		if item.Status == StatusPending || item.Status == StatusReady {
			total++
		}
	}

	current := 0
	for _, item := range b.Items {
		if err := ctx.Err(); err != nil {
			return err
		}

		if item.Status == StatusPending {
			item.Status = StatusReady
		}
		if item.Status != StatusReady {
			continue
		}
		item.Status = StatusProcessing

		item.Results = c.processItem(ctx, item)
		item.Status = StatusDone

		current++
		if progress != nil {
			progress(current, total)
		}
	}
	return nil
}

// processItem runs OCR and bulk extraction for one image. A failure on
// either the storage read or the engine call yields the sentinel
// candidate; a clean run with no matches yields an empty list.
func (c *Coordinator) processItem(ctx context.Context, item *Item) []extract.Candidate {
	data, err := c.storage.Get(item.ImagePath())
	if err != nil {
		slog.Error("Failed to read queued image", "item", item.ID, "path", item.ImagePath(), "error", err)
		return []extract.Candidate{{Note: sentinelNote}}
	}

	result, err := c.engine.Recognize(ctx, data, item.ContentType)
	if err != nil {
		slog.Error("Failed to recognize image", "item", item.ID, "filename", item.Filename, "error", err)
		return []extract.Candidate{{Note: sentinelNote}}
	}

	candidates := c.bulk.ExtractAll(result.Text)
	if candidates == nil {
		candidates = []extract.Candidate{}
	}
	return candidates
}
