package jobwait_test

import (
	"context"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/VsevolodSauta/jobwait"
)

var _ = Describe("BadgerBackend", func() {
	BackendTestSuite(func() (jobwait.Backend, func()) {
		tmpDir, err := os.MkdirTemp("", "jobwait_badger_*")
		Expect(err).NotTo(HaveOccurred())

		backend, err := jobwait.NewBadgerBackend(tmpDir, testLogger())
		Expect(err).NotTo(HaveOccurred())

		return backend, func() {
			_ = backend.Close()
			_ = os.RemoveAll(tmpDir)
		}
	})

	Describe("active index ordering", func() {
		It("should list a large active set in ascending id order", func() {
			tmpDir, err := os.MkdirTemp("", "jobwait_badger_order_*")
			Expect(err).NotTo(HaveOccurred())

			backend, err := jobwait.NewBadgerBackend(tmpDir, testLogger())
			Expect(err).NotTo(HaveOccurred())
			defer func() {
				_ = backend.Close()
				_ = os.RemoveAll(tmpDir)
			}()

			ctx := context.Background()
			// Insert out of order, including ids whose decimal widths differ,
			// to exercise the zero-padded key scheme.
			ids := []int{100000, 7, 999, 42, 10, 8}
			for _, id := range ids {
				job := &jobwait.JobRecord{
					ID:          id,
					Owner:       "alice",
					Partition:   "batch",
					State:       jobwait.JobStatePending,
					SubmittedAt: time.Now(),
				}
				Expect(backend.PutJob(ctx, job)).To(Succeed())
			}

			active, err := backend.ListActive(ctx)
			Expect(err).NotTo(HaveOccurred())

			got := make([]int, 0, len(active))
			for _, job := range active {
				got = append(got, job.ID)
			}
			Expect(got).To(Equal([]int{7, 8, 10, 42, 999, 100000}))
		})
	})

	Describe("persistence", func() {
		It("should survive a close and reopen", func() {
			tmpDir, err := os.MkdirTemp("", "jobwait_badger_reopen_*")
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = os.RemoveAll(tmpDir) }()

			ctx := context.Background()

			backend, err := jobwait.NewBadgerBackend(tmpDir, testLogger())
			Expect(err).NotTo(HaveOccurred())
			job := &jobwait.JobRecord{
				ID:          1,
				Owner:       "alice",
				Partition:   "batch",
				State:       jobwait.JobStateRunning,
				SubmittedAt: time.Now(),
			}
			Expect(backend.PutJob(ctx, job)).To(Succeed())
			Expect(backend.Close()).To(Succeed())

			reopened, err := jobwait.NewBadgerBackend(tmpDir, testLogger())
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = reopened.Close() }()

			got, err := reopened.GetJob(ctx, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.State).To(Equal(jobwait.JobStateRunning))

			active, err := reopened.ListActive(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(active).To(HaveLen(1))
		})
	})
})
