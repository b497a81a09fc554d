package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mgiannis/scanbatch/internal/extract"
)

// mockDB is a mock implementation of DB
type mockDB struct {
	batches   map[string]*Batch
	saveErr   error
	getErr    error
	listErr   error
	deleteErr error
}

func newMockDB() *mockDB {
	return &mockDB{batches: make(map[string]*Batch)}
}

func (m *mockDB) SaveBatch(b *Batch) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.batches[b.ID] = b
	return nil
}

func (m *mockDB) GetBatch(id string) (*Batch, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	b, ok := m.batches[id]
	if !ok {
		return nil, errors.New("batch not found")
	}
	return b, nil
}

func (m *mockDB) ListBatches() ([]*Batch, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	batches := make([]*Batch, 0, len(m.batches))
	for _, b := range m.batches {
		batches = append(batches, b)
	}
	return batches, nil
}

func (m *mockDB) DeleteBatch(id string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.batches[id]; !ok {
		return errors.New("batch not found")
	}
	delete(m.batches, id)
	return nil
}

func (m *mockDB) Close() error {
	return nil
}

// seqIDGenerator hands out deterministic sequential IDs
type seqIDGenerator struct {
	n int
}

func (g *seqIDGenerator) Generate() string {
	g.n++
	return fmt.Sprintf("id-%d", g.n)
}

var _ = Describe("Service", func() {
	var (
		db      *mockDB
		storage *mockStorage
		engine  *mockEngine
		idGen   *seqIDGenerator
		clock   *fixedClock
		service *Service
	)

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		engine = newMockEngine()
		idGen = &seqIDGenerator{}
		clock = &fixedClock{now: time.Date(2024, 6, 10, 9, 30, 0, 0, time.Local)}
		service = NewServiceWithDeps(db, engine, storage, idGen, clock)
	})

	Describe("CreateBatch", func() {
		var (
			b   *Batch
			err error
		)

		JustBeforeEach(func() {
			b, err = service.CreateBatch()
		})

		When("saving succeeds", func() {
			It("does not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("assigns an ID and timestamps", func() {
				Expect(b.ID).To(Equal("id-1"))
				Expect(b.CreatedAt).To(Equal(clock.now))
			})

			It("persists an empty queue", func() {
				Expect(db.batches).To(HaveKey("id-1"))
				Expect(db.batches["id-1"].Items).To(BeEmpty())
			})
		})

		When("the database save fails", func() {
			var setupErr error

			BeforeEach(func() {
				setupErr = errors.New("database error")
				db.saveErr = setupErr
			})

			It("returns the error", func() {
				Expect(err).To(MatchError(setupErr))
			})
		})
	})

	Describe("AddImage", func() {
		var (
			item *Item
			err  error
		)

		BeforeEach(func() {
			db.batches["batch-1"] = &Batch{ID: "batch-1", Items: []*Item{}}
		})

		JustBeforeEach(func() {
			item, err = service.AddImage("batch-1", "IMG#2024.jpg", []byte("photo"), "image/jpeg")
		})

		When("the upload succeeds", func() {
			It("does not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("creates a pending item", func() {
				Expect(item.Status).To(Equal(StatusPending))
				Expect(item.Filename).To(Equal("IMG#2024.jpg"))
			})

			It("stores the image under a sanitized, ID-prefixed key", func() {
				Expect(item.SourceImage).To(Equal("id-1_IMG2024.jpg"))
				Expect(storage.files).To(HaveKey("id-1_IMG2024.jpg"))
			})

			It("appends the item to the queue", func() {
				Expect(db.batches["batch-1"].Items).To(HaveLen(1))
			})
		})

		When("storage save fails", func() {
			var setupErr error

			BeforeEach(func() {
				setupErr = errors.New("storage error")
				storage.saveErr = setupErr
			})

			It("returns the error", func() {
				Expect(err).To(MatchError(setupErr))
			})
		})

		When("the database save fails", func() {
			BeforeEach(func() {
				db.saveErr = errors.New("database error")
			})

			It("cleans up the stored image", func() {
				Expect(err).To(HaveOccurred())
				Expect(storage.files).NotTo(HaveKey("id-1_IMG2024.jpg"))
			})
		})

		When("a run is in progress", func() {
			BeforeEach(func() {
				Expect(service.beginRun("batch-1")).To(BeTrue())
			})

			AfterEach(func() {
				service.endRun("batch-1")
			})

			It("rejects the mutation", func() {
				Expect(err).To(MatchError(ErrRunInProgress))
			})
		})
	})

	Describe("CropImage", func() {
		var (
			item *Item
			err  error
		)

		BeforeEach(func() {
			db.batches["batch-1"] = &Batch{ID: "batch-1", Items: []*Item{
				{ID: "item-1", SourceImage: "item-1_a.jpg", Status: StatusPending},
			}}
		})

		JustBeforeEach(func() {
			item, err = service.CropImage("batch-1", "item-1", []byte("cropped"), "image/png")
		})

		When("the item is pending", func() {
			It("stores the cropped variant and marks the item ready", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(item.CroppedImage).To(Equal("item-1_cropped.png"))
				Expect(item.Status).To(Equal(StatusReady))
				Expect(storage.files).To(HaveKey("item-1_cropped.png"))
			})
		})

		When("the item is already done", func() {
			BeforeEach(func() {
				db.batches["batch-1"].Items[0].Status = StatusDone
			})

			It("rejects the crop", func() {
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("MarkReady", func() {
		BeforeEach(func() {
			db.batches["batch-1"] = &Batch{ID: "batch-1", Items: []*Item{
				{ID: "item-1", Status: StatusPending},
			}}
		})

		It("takes the skip-crop path", func() {
			item, err := service.MarkReady("batch-1", "item-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(item.Status).To(Equal(StatusReady))
		})

		It("rejects an unknown item", func() {
			_, err := service.MarkReady("batch-1", "nope")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("RemoveImage", func() {
		var err error

		BeforeEach(func() {
			storage.files["item-1_a.jpg"] = []byte("photo")
			storage.files["item-1_cropped.png"] = []byte("cropped")
			db.batches["batch-1"] = &Batch{ID: "batch-1", Items: []*Item{
				{ID: "item-1", SourceImage: "item-1_a.jpg", CroppedImage: "item-1_cropped.png", Status: StatusReady},
				{ID: "item-2", SourceImage: "item-2_b.jpg", Status: StatusPending},
			}}
		})

		JustBeforeEach(func() {
			err = service.RemoveImage("batch-1", "item-1")
		})

		When("the item is settled", func() {
			It("removes the item and its files", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(db.batches["batch-1"].Items).To(HaveLen(1))
				Expect(db.batches["batch-1"].Items[0].ID).To(Equal("item-2"))
				Expect(storage.files).NotTo(HaveKey("item-1_a.jpg"))
				Expect(storage.files).NotTo(HaveKey("item-1_cropped.png"))
			})
		})

		When("the item is mid-flight", func() {
			BeforeEach(func() {
				db.batches["batch-1"].Items[0].Status = StatusProcessing
			})

			It("refuses", func() {
				Expect(err).To(MatchError(ErrItemProcessing))
			})
		})
	})

	Describe("Run", func() {
		var (
			candidates []extract.Candidate
			err        error
		)

		BeforeEach(func() {
			storage.files["item-1_a.jpg"] = []byte("image one")
			storage.files["item-2_b.jpg"] = []byte("image two")
			engine.transcripts["image one"] = "Coffee 3.50\nTaxi 8.20"
			engine.transcripts["image two"] = "Groceries 20.00"
			db.batches["batch-1"] = &Batch{ID: "batch-1", Items: []*Item{
				{ID: "item-1", SourceImage: "item-1_a.jpg", Status: StatusReady},
				{ID: "item-2", SourceImage: "item-2_b.jpg", Status: StatusPending},
			}}
		})

		JustBeforeEach(func() {
			candidates, err = service.Run(context.Background(), "batch-1", nil)
		})

		When("the run completes", func() {
			It("returns the flattened candidates in queue order", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(candidates).To(HaveLen(3))
				Expect(candidates[0].Note).To(Equal("Coffee"))
				Expect(candidates[2].Note).To(Equal("Groceries"))
			})

			It("persists the finished queue", func() {
				for _, item := range db.batches["batch-1"].Items {
					Expect(item.Status).To(Equal(StatusDone))
				}
			})

			It("releases the run guard", func() {
				Expect(service.isRunning("batch-1")).To(BeFalse())
			})
		})

		When("another run owns the batch", func() {
			BeforeEach(func() {
				Expect(service.beginRun("batch-1")).To(BeTrue())
			})

			AfterEach(func() {
				service.endRun("batch-1")
			})

			It("refuses to start", func() {
				Expect(err).To(MatchError(ErrRunInProgress))
			})
		})
	})

	Describe("DeleteBatch", func() {
		BeforeEach(func() {
			storage.files["item-1_a.jpg"] = []byte("photo")
			db.batches["batch-1"] = &Batch{ID: "batch-1", Items: []*Item{
				{ID: "item-1", SourceImage: "item-1_a.jpg", Status: StatusDone},
			}}
		})

		It("removes the batch and its files", func() {
			Expect(service.DeleteBatch("batch-1")).To(Succeed())
			Expect(db.batches).NotTo(HaveKey("batch-1"))
			Expect(storage.files).NotTo(HaveKey("item-1_a.jpg"))
		})

		It("refuses while a run is in progress", func() {
			Expect(service.beginRun("batch-1")).To(BeTrue())
			defer service.endRun("batch-1")
			Expect(service.DeleteBatch("batch-1")).To(MatchError(ErrRunInProgress))
		})
	})

	Describe("ExtractText", func() {
		It("runs single-receipt extraction", func() {
			candidate := service.ExtractText("KAFETERIA ALPHA\nTOTAL 12.50")
			Expect(candidate.Amount.StringFixed(2)).To(Equal("12.50"))
			Expect(candidate.Note).To(Equal("KAFETERIA ALPHA"))
		})
	})
})

var _ = Describe("sanitizeFilename", func() {
	It("strips special characters and keeps the extension", func() {
		Expect(sanitizeFilename("IMG#2024 (1).jpg")).To(Equal("IMG2024 1.jpg"))
	})

	It("falls back to a default base", func() {
		Expect(sanitizeFilename("###.png")).To(Equal("image.png"))
	})
})
