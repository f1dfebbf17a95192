package jobwait_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/VsevolodSauta/jobwait"
)

// BackendTestSuite runs the shared backend conformance specs against a
// backend created by the given factory. The factory returns the backend and
// a cleanup function.
func BackendTestSuite(factory func() (jobwait.Backend, func())) {
	var (
		backend jobwait.Backend
		cleanup func()
		ctx     context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		backend, cleanup = factory()
	})

	AfterEach(func() {
		cleanup()
	})

	newJob := func(id int, owner, partition string, state jobwait.JobState) *jobwait.JobRecord {
		return &jobwait.JobRecord{
			ID:          id,
			Name:        "job",
			Owner:       owner,
			Partition:   partition,
			State:       state,
			SubmittedAt: time.Now().Truncate(time.Second),
		}
	}

	Describe("PutJob and GetJob", func() {
		It("should round-trip a job record", func() {
			job := newJob(1, "alice", "batch", jobwait.JobStatePending)
			Expect(backend.PutJob(ctx, job)).To(Succeed())

			got, err := backend.GetJob(ctx, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(1))
			Expect(got.Owner).To(Equal("alice"))
			Expect(got.Partition).To(Equal("batch"))
			Expect(got.State).To(Equal(jobwait.JobStatePending))
			Expect(got.SubmittedAt.Unix()).To(Equal(job.SubmittedAt.Unix()))
			Expect(got.StartedAt).To(BeNil())
			Expect(got.FinishedAt).To(BeNil())
		})

		It("should replace an existing record with the same id", func() {
			Expect(backend.PutJob(ctx, newJob(1, "alice", "batch", jobwait.JobStatePending))).To(Succeed())
			Expect(backend.PutJob(ctx, newJob(1, "bob", "long", jobwait.JobStateRunning))).To(Succeed())

			got, err := backend.GetJob(ctx, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Owner).To(Equal("bob"))
			Expect(got.Partition).To(Equal("long"))
		})

		It("should return a not-found error for unknown ids", func() {
			_, err := backend.GetJob(ctx, 404)
			Expect(err).To(HaveOccurred())
			Expect(jobwait.IsJobNotFound(err)).To(BeTrue())
		})

		It("should reject nil jobs", func() {
			Expect(backend.PutJob(ctx, nil)).NotTo(Succeed())
		})

		It("should reject non-positive ids", func() {
			Expect(backend.PutJob(ctx, newJob(-1, "alice", "batch", jobwait.JobStatePending))).NotTo(Succeed())
		})
	})

	Describe("PutJobs", func() {
		It("should store a batch", func() {
			jobs := []*jobwait.JobRecord{
				newJob(1, "alice", "batch", jobwait.JobStatePending),
				newJob(2, "bob", "batch", jobwait.JobStateRunning),
			}
			Expect(backend.PutJobs(ctx, jobs)).To(Succeed())

			for _, job := range jobs {
				_, err := backend.GetJob(ctx, job.ID)
				Expect(err).NotTo(HaveOccurred())
			}
		})

		It("should reject duplicate ids within a batch", func() {
			jobs := []*jobwait.JobRecord{
				newJob(1, "alice", "batch", jobwait.JobStatePending),
				newJob(1, "bob", "batch", jobwait.JobStatePending),
			}
			Expect(backend.PutJobs(ctx, jobs)).NotTo(Succeed())
		})

		It("should accept an empty batch", func() {
			Expect(backend.PutJobs(ctx, nil)).To(Succeed())
		})
	})

	Describe("ListActive", func() {
		It("should return only active jobs in ascending id order", func() {
			finished := time.Now().Add(-time.Minute)
			done := newJob(2, "bob", "batch", jobwait.JobStateCompleted)
			done.FinishedAt = &finished

			Expect(backend.PutJobs(ctx, []*jobwait.JobRecord{
				newJob(5, "alice", "batch", jobwait.JobStatePending),
				done,
				newJob(1, "alice", "long", jobwait.JobStateRunning),
				newJob(3, "carol", "batch", jobwait.JobStateSuspended),
			})).To(Succeed())

			active, err := backend.ListActive(ctx)
			Expect(err).NotTo(HaveOccurred())

			ids := make([]int, 0, len(active))
			for _, job := range active {
				ids = append(ids, job.ID)
			}
			Expect(ids).To(Equal([]int{1, 3, 5}))
		})

		It("should return an empty list for an empty store", func() {
			active, err := backend.ListActive(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(active).To(BeEmpty())
		})
	})

	Describe("SetJobState", func() {
		It("should stamp StartedAt on transition to running", func() {
			Expect(backend.PutJob(ctx, newJob(1, "alice", "batch", jobwait.JobStatePending))).To(Succeed())
			Expect(backend.SetJobState(ctx, 1, jobwait.JobStateRunning)).To(Succeed())

			got, err := backend.GetJob(ctx, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.State).To(Equal(jobwait.JobStateRunning))
			Expect(got.StartedAt).NotTo(BeNil())
			Expect(got.FinishedAt).To(BeNil())
		})

		It("should stamp FinishedAt on transition to a terminal state", func() {
			Expect(backend.PutJob(ctx, newJob(1, "alice", "batch", jobwait.JobStateRunning))).To(Succeed())
			Expect(backend.SetJobState(ctx, 1, jobwait.JobStateFailed)).To(Succeed())

			got, err := backend.GetJob(ctx, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.State).To(Equal(jobwait.JobStateFailed))
			Expect(got.FinishedAt).NotTo(BeNil())
		})

		It("should drop terminal jobs from the active set", func() {
			Expect(backend.PutJob(ctx, newJob(1, "alice", "batch", jobwait.JobStateRunning))).To(Succeed())
			Expect(backend.SetJobState(ctx, 1, jobwait.JobStateCompleted)).To(Succeed())

			active, err := backend.ListActive(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(active).To(BeEmpty())
		})

		It("should fail for unknown ids", func() {
			err := backend.SetJobState(ctx, 404, jobwait.JobStateRunning)
			Expect(err).To(HaveOccurred())
			Expect(jobwait.IsJobNotFound(err)).To(BeTrue())
		})
	})

	Describe("DeleteJob", func() {
		It("should remove the record", func() {
			Expect(backend.PutJob(ctx, newJob(1, "alice", "batch", jobwait.JobStatePending))).To(Succeed())
			Expect(backend.DeleteJob(ctx, 1)).To(Succeed())

			_, err := backend.GetJob(ctx, 1)
			Expect(jobwait.IsJobNotFound(err)).To(BeTrue())

			active, err := backend.ListActive(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(active).To(BeEmpty())
		})

		It("should fail for unknown ids", func() {
			err := backend.DeleteJob(ctx, 404)
			Expect(err).To(HaveOccurred())
			Expect(jobwait.IsJobNotFound(err)).To(BeTrue())
		})
	})

	Describe("PurgeFinished", func() {
		It("should delete only terminal jobs past the TTL", func() {
			old := time.Now().Add(-2 * time.Hour)
			recent := time.Now().Add(-time.Minute)

			expired := newJob(1, "alice", "batch", jobwait.JobStateCompleted)
			expired.FinishedAt = &old
			fresh := newJob(2, "alice", "batch", jobwait.JobStateFailed)
			fresh.FinishedAt = &recent
			running := newJob(3, "alice", "batch", jobwait.JobStateRunning)

			Expect(backend.PutJobs(ctx, []*jobwait.JobRecord{expired, fresh, running})).To(Succeed())
			Expect(backend.PurgeFinished(ctx, time.Hour)).To(Succeed())

			_, err := backend.GetJob(ctx, 1)
			Expect(jobwait.IsJobNotFound(err)).To(BeTrue())

			_, err = backend.GetJob(ctx, 2)
			Expect(err).NotTo(HaveOccurred())
			_, err = backend.GetJob(ctx, 3)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should reject a negative TTL", func() {
			Expect(backend.PurgeFinished(ctx, -time.Second)).NotTo(Succeed())
		})
	})
}

var _ = Describe("InMemoryBackend", func() {
	BackendTestSuite(func() (jobwait.Backend, func()) {
		backend := jobwait.NewInMemoryBackend()
		return backend, func() {
			_ = backend.Close()
		}
	})

	It("should reject operations after close", func() {
		backend := jobwait.NewInMemoryBackend()
		Expect(backend.Close()).To(Succeed())

		err := backend.PutJob(context.Background(), &jobwait.JobRecord{ID: 1, State: jobwait.JobStatePending})
		Expect(err).To(HaveOccurred())
	})
})
