package postgres

import (
	"testing"
	"time"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	apperrors "github.com/mkumbo/billing-gateway/internal"
	recontypes "github.com/mkumbo/billing-gateway/internal/core/datamodel/reconciliation"
	reconpkg "github.com/mkumbo/billing-gateway/internal/reconciliation"
)

func TestReconciliationRepository(t *testing.T) {
	gomega.RegisterFailHandler(ginkgo.Fail)
	ginkgo.RunSpecs(t, "Reconciliation Repository Suite")
}

var _ = ginkgo.Describe("ReconciliationRepository", func() {
	var (
		db   *gorm.DB
		repo reconpkg.RepositoryAPI
	)

	businessDate := time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC)

	ginkgo.BeforeEach(func() {
		var err error
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(db.AutoMigrate(&recontypes.Run{}, &recontypes.Record{})).To(gomega.Succeed())
		repo = NewReconciliationRepository(db)
	})

	newRun := func(reqID string) *recontypes.Run {
		run := &recontypes.Run{
			ReqID:        reqID,
			BusinessDate: businessDate,
			Status:       recontypes.RunRequested,
		}
		gomega.Expect(repo.CreateRun(run)).To(gomega.Succeed())
		return run
	}

	ginkgo.Describe("UpdateRun", func() {
		ginkgo.It("applies a transition on an open run", func() {
			run := newRun("req-001")

			err := repo.UpdateRun(run.ID, map[string]any{"status": recontypes.RunAcked})
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			got, err := repo.GetRun(run.ID)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(got.Status).To(gomega.Equal(recontypes.RunAcked))
		})

		ginkgo.It("refuses every transition on a closed run and leaves it untouched", func() {
			run := newRun("req-001")
			now := time.Now()
			gomega.Expect(repo.UpdateRun(run.ID, map[string]any{
				"status":    recontypes.RunClosed,
				"closed_at": now,
				"closed_by": "asha",
			})).To(gomega.Succeed())

			err := repo.UpdateRun(run.ID, map[string]any{"status": recontypes.RunReceived})
			gomega.Expect(err).To(gomega.MatchError(apperrors.ErrRunClosed))

			got, err := repo.GetRun(run.ID)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(got.Status).To(gomega.Equal(recontypes.RunClosed))
			gomega.Expect(got.ClosedBy).NotTo(gomega.BeNil())
			gomega.Expect(*got.ClosedBy).To(gomega.Equal("asha"))
		})

		ginkgo.It("reports ErrRunClosed for an unknown run id", func() {
			err := repo.UpdateRun(99, map[string]any{"status": recontypes.RunAcked})
			gomega.Expect(err).To(gomega.MatchError(apperrors.ErrRunClosed))
		})
	})

	ginkgo.Describe("run lookups", func() {
		ginkgo.It("finds a run by request id", func() {
			run := newRun("req-001")

			got, err := repo.GetRunByReqID("req-001")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(got.ID).To(gomega.Equal(run.ID))
		})
	})

	ginkgo.Describe("UpsertRecord", func() {
		ginkgo.It("rewrites the row for a replayed payref in place", func() {
			run := newRun("req-001")

			rec := &recontypes.Record{
				RunID:       run.ID,
				PayrefID:    "PR100",
				BillID:      "KDD20260814090000",
				MatchStatus: recontypes.MissingInternalPayment,
			}
			gomega.Expect(repo.UpsertRecord(rec)).To(gomega.Succeed())

			again := &recontypes.Record{
				RunID:       run.ID,
				PayrefID:    "PR100",
				BillID:      "KDD20260814090000",
				MatchStatus: recontypes.AutoCreated,
			}
			gomega.Expect(repo.UpsertRecord(again)).To(gomega.Succeed())

			records, err := repo.ListRecords(run.ID)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(records).To(gomega.HaveLen(1))
			gomega.Expect(records[0].MatchStatus).To(gomega.Equal(recontypes.AutoCreated))
		})
	})
})
