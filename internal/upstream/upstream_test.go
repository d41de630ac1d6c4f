package upstream_test

import (
	"net/url"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mindbridge-ai/emotion-inference/internal/upstream"
)

var _ = Describe("Upstream", func() {
	var (
		testURL *url.URL
		u       *upstream.Upstream
	)

	BeforeEach(func() {
		var err error
		testURL, err = url.Parse("http://localhost:8000")
		Expect(err).NotTo(HaveOccurred())
		u = upstream.New(testURL)
	})

	Describe("New", func() {
		It("should create an upstream with the correct URL", func() {
			Expect(u).NotTo(BeNil())
			Expect(u.URL()).To(Equal(testURL))
		})

		It("should start healthy", func() {
			Expect(u.IsHealthy()).To(BeTrue())
		})

		It("should have zero in-flight requests", func() {
			Expect(u.InFlight()).To(Equal(0))
		})
	})

	Describe("HealthURL", func() {
		It("should point at the upstream health endpoint", func() {
			Expect(u.HealthURL()).To(Equal("http://localhost:8000/health"))
		})
	})

	Describe("Health Management", func() {
		Context("SetHealthy", func() {
			It("should update health status to unhealthy", func() {
				changed := u.SetHealthy(false)
				Expect(changed).To(BeTrue())
				Expect(u.IsHealthy()).To(BeFalse())
			})

			It("should update health status back to healthy", func() {
				u.SetHealthy(false)
				changed := u.SetHealthy(true)
				Expect(changed).To(BeTrue())
				Expect(u.IsHealthy()).To(BeTrue())
			})

			It("should return false when setting same status", func() {
				changed := u.SetHealthy(true)
				Expect(changed).To(BeFalse())
			})

			It("should handle multiple toggles", func() {
				u.SetHealthy(false)
				Expect(u.IsHealthy()).To(BeFalse())

				u.SetHealthy(true)
				Expect(u.IsHealthy()).To(BeTrue())

				u.SetHealthy(false)
				Expect(u.IsHealthy()).To(BeFalse())
			})
		})

		Context("IsHealthy", func() {
			It("should be thread-safe", func() {
				var wg sync.WaitGroup
				for i := 0; i < 100; i++ {
					wg.Add(1)
					go func(healthy bool) {
						defer wg.Done()
						u.SetHealthy(healthy)
						_ = u.IsHealthy()
					}(i%2 == 0)
				}
				wg.Wait()
			})
		})
	})

	Describe("In-Flight Tracking", func() {
		Context("IncrementInFlight", func() {
			It("should increase the in-flight count", func() {
				Expect(u.InFlight()).To(Equal(0))

				u.IncrementInFlight()
				Expect(u.InFlight()).To(Equal(1))

				u.IncrementInFlight()
				u.IncrementInFlight()
				Expect(u.InFlight()).To(Equal(3))
			})

			It("should be thread-safe", func() {
				var wg sync.WaitGroup
				for i := 0; i < 100; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						u.IncrementInFlight()
					}()
				}
				wg.Wait()
				Expect(u.InFlight()).To(Equal(100))
			})
		})

		Context("DecrementInFlight", func() {
			It("should decrease the in-flight count", func() {
				u.IncrementInFlight()
				u.IncrementInFlight()
				u.IncrementInFlight()
				Expect(u.InFlight()).To(Equal(3))

				u.DecrementInFlight()
				Expect(u.InFlight()).To(Equal(2))

				u.DecrementInFlight()
				Expect(u.InFlight()).To(Equal(1))
			})

			It("should not go below zero", func() {
				Expect(u.InFlight()).To(Equal(0))
				u.DecrementInFlight()
				u.DecrementInFlight()
				Expect(u.InFlight()).To(Equal(0))
			})

			It("should be thread-safe", func() {
				for i := 0; i < 50; i++ {
					u.IncrementInFlight()
				}

				var wg sync.WaitGroup
				for i := 0; i < 50; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						u.DecrementInFlight()
					}()
				}
				wg.Wait()
				Expect(u.InFlight()).To(Equal(0))
			})
		})
	})

	Describe("Response Time Tracking (EWMA)", func() {
		Context("RecordResponse", func() {
			It("should return zero before any response is recorded", func() {
				Expect(u.EWMATime()).To(Equal(time.Duration(0)))
			})

			It("should use the first response time as the initial average", func() {
				u.RecordResponse(100 * time.Millisecond)
				Expect(u.EWMATime()).To(Equal(100 * time.Millisecond))
			})

			It("should smooth subsequent responses", func() {
				u.RecordResponse(100 * time.Millisecond)
				u.RecordResponse(200 * time.Millisecond)

				// 0.8 * 100ms + 0.2 * 200ms
				Expect(u.EWMATime()).To(Equal(120 * time.Millisecond))
			})

			It("should weight recent responses over old ones", func() {
				u.RecordResponse(10 * time.Millisecond)
				for i := 0; i < 20; i++ {
					u.RecordResponse(500 * time.Millisecond)
				}

				Expect(u.EWMATime()).To(BeNumerically(">", 400*time.Millisecond))
			})

			It("should be thread-safe", func() {
				var wg sync.WaitGroup
				for i := 0; i < 100; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						u.RecordResponse(time.Duration(i) * time.Millisecond)
					}(i)
				}
				wg.Wait()
			})
		})
	})

	Describe("URL", func() {
		It("should return the correct URL", func() {
			Expect(u.URL()).To(Equal(testURL))
			Expect(u.URL().String()).To(Equal("http://localhost:8000"))
		})

		It("should handle different URL schemes", func() {
			httpsURL, _ := url.Parse("https://ml.example.com:8443")
			httpsUpstream := upstream.New(httpsURL)
			Expect(httpsUpstream.URL().Scheme).To(Equal("https"))
			Expect(httpsUpstream.URL().Host).To(Equal("ml.example.com:8443"))
		})
	})
})
