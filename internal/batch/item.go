package batch

import (
	"time"

	"github.com/mgiannis/scanbatch/internal/extract"
)

// Status is the lifecycle state of a queued image.
type Status string

const (
	// StatusPending is a freshly added image awaiting crop or skip.
	StatusPending Status = "pending"
	// StatusCropping is the user-initiated manual crop branch.
	StatusCropping Status = "cropping"
	// StatusReady means the image (cropped or original) awaits a run.
	StatusReady Status = "ready"
	// StatusProcessing means the image's OCR call is in flight.
	StatusProcessing Status = "processing"
	// StatusDone means extraction finished, results attached.
	StatusDone Status = "done"
	// StatusRemoved is terminal; never reachable from mid-flight processing.
	StatusRemoved Status = "removed"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusCropping, StatusReady, StatusRemoved},
	StatusCropping:   {StatusReady, StatusRemoved},
	StatusReady:      {StatusProcessing, StatusRemoved},
	StatusProcessing: {StatusDone},
	StatusDone:       {StatusRemoved},
}

// CanTransition reports whether moving from s to next is a legal step.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Item is one queued image and its extraction results.
type Item struct {
	ID           string              `json:"id"`
	Filename     string              `json:"filename"`
	SourceImage  string              `json:"source_image"`
	CroppedImage string              `json:"cropped_image,omitempty"`
	ContentType  string              `json:"content_type"`
	Status       Status              `json:"status"`
	Results      []extract.Candidate `json:"results"`
}

// ImagePath returns the storage path the OCR run should read: the
// cropped variant when one exists, else the original upload.
func (i *Item) ImagePath() string {
	if i.CroppedImage != "" {
		return i.CroppedImage
	}
	return i.SourceImage
}

// Batch is a user-curated queue of images processed as one run.
type Batch struct {
	ID        string    `json:"id"`
	Items     []*Item   `json:"items"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Item returns the queue item with the given ID, or nil.
func (b *Batch) Item(id string) *Item {
	for _, item := range b.Items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

// Flatten collects every item's candidates in queue order into the one
// sequence the form-fill step consumes.
func (b *Batch) Flatten() []extract.Candidate {
	out := make([]extract.Candidate, 0)
	for _, item := range b.Items {
		out = append(out, item.Results...)
	}
	return out
}
