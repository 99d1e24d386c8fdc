package store_test

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/reviewlens/reviewlens/internal/config"
	"github.com/reviewlens/reviewlens/internal/store"
	"github.com/reviewlens/reviewlens/internal/store/model"
)

func seedBusiness(s store.Store, name, normalized string) *model.Business {
	business, err := s.Business().Upsert(context.TODO(), model.Business{
		Name:           name,
		NameNormalized: normalized,
		Source:         "google_maps",
	})
	Expect(err).To(BeNil())
	return business
}

func reviewFor(businessID uuid.UUID, fingerprint, text string, rating float64, scrapedAt time.Time) model.Review {
	return model.Review{
		BusinessID:    businessID,
		Fingerprint:   fingerprint,
		AuthorName:    "Ana",
		Rating:        rating,
		Text:          text,
		HasText:       text != "",
		RecencyBucket: "unknown",
		ScrapedAt:     scrapedAt,
	}
}

var _ = Describe("business store", Ordered, func() {
	var (
		s      store.Store
		gormdb *gorm.DB
	)

	BeforeAll(func() {
		db, err := store.InitDB(config.NewDefault())
		Expect(err).To(BeNil())

		s = store.NewStore(db)
		gormdb = db

		Expect(s.InitialMigration()).To(Succeed())
	})

	AfterAll(func() {
		s.Close()
	})

	AfterEach(func() {
		gormdb.Exec("DELETE FROM analyses;")
		gormdb.Exec("DELETE FROM reviews;")
		gormdb.Exec("DELETE FROM businesses;")
	})

	Context("upsert", func() {
		It("creates a business on first sight", func() {
			business := seedBusiness(s, "Casa Pepe", "casa pepe")
			Expect(business.ID).ToNot(Equal(uuid.Nil))
			Expect(business.Name).To(Equal("Casa Pepe"))
			Expect(business.LatestAnalysisID).To(BeNil())
		})

		It("dedupes on the normalized name and refreshes listing fields", func() {
			first := seedBusiness(s, "Casa Pepe", "casa pepe")

			updated, err := s.Business().Upsert(context.TODO(), model.Business{
				Name:           "CASA PEPE",
				NameNormalized: "casa pepe",
				Address:        "Calle Mayor 1",
				OverallRating:  4.4,
				TotalReviews:   812,
			})
			Expect(err).To(BeNil())
			Expect(updated.ID).To(Equal(first.ID))
			Expect(updated.Name).To(Equal("CASA PEPE"))
			Expect(updated.Address).To(Equal("Calle Mayor 1"))
			Expect(updated.OverallRating).To(Equal(4.4))

			_, total, err := s.Business().List(context.TODO(), nil, store.NewPagination(1, 10))
			Expect(err).To(BeNil())
			Expect(total).To(Equal(int64(1)))
		})

		It("lists businesses by name fragment", func() {
			seedBusiness(s, "Casa Pepe", "casa pepe")
			seedBusiness(s, "Bar Manolo", "bar manolo")

			businesses, total, err := s.Business().List(context.TODO(), store.NewBusinessQueryFilter().ByNameLike("pepe"), store.NewPagination(1, 10))
			Expect(err).To(BeNil())
			Expect(total).To(Equal(int64(1)))
			Expect(businesses[0].Name).To(Equal("Casa Pepe"))
		})

		It("points the business at its latest analysis", func() {
			business := seedBusiness(s, "Casa Pepe", "casa pepe")
			analysis, err := s.Analysis().Create(context.TODO(), model.Analysis{
				BusinessID:       business.ID,
				OverallSentiment: "positive",
			})
			Expect(err).To(BeNil())

			err = s.Business().SetLatestAnalysis(context.TODO(), business.ID, analysis.ID, []byte(`{"avg_rating":4.2}`), 7)
			Expect(err).To(BeNil())

			got, err := s.Business().Get(context.TODO(), business.ID)
			Expect(err).To(BeNil())
			Expect(*got.LatestAnalysisID).To(Equal(analysis.ID))
			Expect(got.ReviewCount).To(Equal(7))
			Expect(got.Stats).To(MatchJSON(`{"avg_rating":4.2}`))
		})

		It("refuses to point a missing business at an analysis", func() {
			err := s.Business().SetLatestAnalysis(context.TODO(), uuid.New(), uuid.New(), nil, 0)
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})
	})

	Context("reviews", func() {
		It("dedupes re-scraped reviews on their fingerprint", func() {
			business := seedBusiness(s, "Casa Pepe", "casa pepe")
			now := time.Now()

			err := s.Review().UpsertBatch(context.TODO(), []model.Review{
				reviewFor(business.ID, "fp-1", "great tapas", 5, now),
				reviewFor(business.ID, "fp-2", "slow service", 2, now),
			})
			Expect(err).To(BeNil())

			// second scrape sees fp-1 again with an owner reply
			again := reviewFor(business.ID, "fp-1", "great tapas", 5, now.Add(time.Hour))
			again.OwnerReply = "Gracias!"
			again.HasOwnerReply = true
			Expect(s.Review().UpsertBatch(context.TODO(), []model.Review{again})).To(Succeed())

			count, err := s.Review().CountByBusiness(context.TODO(), business.ID)
			Expect(err).To(BeNil())
			Expect(count).To(Equal(int64(2)))

			reviews, _, err := s.Review().List(context.TODO(), business.ID, store.NewPagination(1, 10))
			Expect(err).To(BeNil())
			var replied *model.Review
			for i := range reviews {
				if reviews[i].Fingerprint == "fp-1" {
					replied = &reviews[i]
				}
			}
			Expect(replied).ToNot(BeNil())
			Expect(replied.OwnerReply).To(Equal("Gracias!"))
			Expect(replied.HasOwnerReply).To(BeTrue())
		})

		It("keeps reviews of different businesses apart", func() {
			pepe := seedBusiness(s, "Casa Pepe", "casa pepe")
			manolo := seedBusiness(s, "Bar Manolo", "bar manolo")
			now := time.Now()

			Expect(s.Review().UpsertBatch(context.TODO(), []model.Review{
				reviewFor(pepe.ID, "fp-1", "great", 5, now),
				reviewFor(manolo.ID, "fp-1", "fine", 3, now),
			})).To(Succeed())

			count, err := s.Review().CountByBusiness(context.TODO(), pepe.ID)
			Expect(err).To(BeNil())
			Expect(count).To(Equal(int64(1)))
		})

		It("pools the most recently scraped reviews first", func() {
			business := seedBusiness(s, "Casa Pepe", "casa pepe")
			base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

			var batch []model.Review
			for i := 0; i < 5; i++ {
				batch = append(batch, reviewFor(business.ID, fmt.Sprintf("fp-%d", i), fmt.Sprintf("review %d", i), 4, base.Add(-time.Duration(i)*time.Hour)))
			}
			Expect(s.Review().UpsertBatch(context.TODO(), batch)).To(Succeed())

			pool, err := s.Review().Pool(context.TODO(), business.ID, 3)
			Expect(err).To(BeNil())
			Expect(pool).To(HaveLen(3))
			Expect(pool[0].Fingerprint).To(Equal("fp-0"))
			Expect(pool[1].Fingerprint).To(Equal("fp-1"))
			Expect(pool[2].Fingerprint).To(Equal("fp-2"))
		})
	})

	Context("analyses", func() {
		It("keeps analysis history and resolves the latest", func() {
			business := seedBusiness(s, "Casa Pepe", "casa pepe")

			older, err := s.Analysis().Create(context.TODO(), model.Analysis{
				BusinessID:       business.ID,
				OverallSentiment: "mixed",
				CreatedAt:        time.Now().Add(-time.Hour),
			})
			Expect(err).To(BeNil())
			newer, err := s.Analysis().Create(context.TODO(), model.Analysis{
				BusinessID:       business.ID,
				OverallSentiment: "positive",
			})
			Expect(err).To(BeNil())

			latest, err := s.Analysis().GetLatestByBusiness(context.TODO(), business.ID)
			Expect(err).To(BeNil())
			Expect(latest.ID).To(Equal(newer.ID))

			analyses, total, err := s.Analysis().List(context.TODO(), business.ID, store.NewPagination(1, 10))
			Expect(err).To(BeNil())
			Expect(total).To(Equal(int64(2)))
			Expect(analyses[0].ID).To(Equal(newer.ID))
			Expect(analyses[1].ID).To(Equal(older.ID))
		})

		It("returns not found when a business has no analyses", func() {
			business := seedBusiness(s, "Casa Pepe", "casa pepe")
			_, err := s.Analysis().GetLatestByBusiness(context.TODO(), business.ID)
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})
	})
})
