package batch

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		baseDir string
		storage *LocalStorage
	)

	BeforeEach(func() {
		baseDir = filepath.Join(GinkgoT().TempDir(), "images")
		var err error
		storage, err = NewLocalStorage(baseDir)
		Expect(err).NotTo(HaveOccurred())
	})

	It("creates the base directory", func() {
		info, err := os.Stat(baseDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(info.IsDir()).To(BeTrue())
	})

	Describe("Save and Get", func() {
		It("round-trips file data", func() {
			path, err := storage.Save("item-1_receipt.jpg", []byte("photo bytes"))
			Expect(err).NotTo(HaveOccurred())
			Expect(path).To(Equal("item-1_receipt.jpg"))

			data, err := storage.Get(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("photo bytes"))
		})

		It("returns an error for a missing file", func() {
			_, err := storage.Get("nope.jpg")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Delete", func() {
		It("removes a stored file", func() {
			path, err := storage.Save("item-1_receipt.jpg", []byte("photo"))
			Expect(err).NotTo(HaveOccurred())

			Expect(storage.Delete(path)).To(Succeed())
			_, err = storage.Get(path)
			Expect(err).To(HaveOccurred())
		})

		It("returns an error for a missing file", func() {
			Expect(storage.Delete("nope.jpg")).To(HaveOccurred())
		})
	})
})
