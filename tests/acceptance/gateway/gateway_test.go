package gateway_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	gwcache "github.com/mediagate/gateway/internal/gateway/cache"
)

var _ = Describe("Media Gateway", func() {
	Context("Metadata endpoint", func() {
		It("should serve metadata for an allowed URL", func() {
			resp, body, err := testEnv.PostJSON("/media/info", "198.51.100.10",
				`{"url": "https://www.youtube.com/watch?v=dQw4w9WgXcQ"}`)
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("X-Request-ID")).ToNot(BeEmpty())

			var envelope struct {
				Success bool `json:"success"`
				Data    struct {
					ID              string `json:"id"`
					Title           string `json:"title"`
					DurationSeconds int    `json:"durationSeconds"`
					Author          string `json:"author"`
				} `json:"data"`
			}
			Expect(json.Unmarshal(body, &envelope)).To(Succeed())
			Expect(envelope.Success).To(BeTrue())
			Expect(envelope.Data.ID).To(Equal("dQw4w9WgXcQ"))
			Expect(envelope.Data.Title).To(Equal("Never Gonna Give You Up"))
			Expect(envelope.Data.DurationSeconds).To(Equal(213))
			Expect(envelope.Data.Author).To(Equal("Rick Astley"))
		})

		It("should serve repeated lookups from the cache", func() {
			url := "https://www.youtube.com/watch?v=cache00test"
			request := fmt.Sprintf(`{"url": %q}`, url)

			resp, _, err := testEnv.PostJSON("/media/info", "198.51.100.11", request)
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			callsAfterFirst := testEnv.MetadataCalls()

			// The cache write detaches from the request; wait for it to land.
			Eventually(func() bool {
				return testEnv.Redis.Exists(gwcache.Key(url))
			}, 2*time.Second, 20*time.Millisecond).Should(BeTrue())

			resp, _, err = testEnv.PostJSON("/media/info", "198.51.100.11", request)
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(testEnv.MetadataCalls()).To(Equal(callsAfterFirst))
		})

		It("should set security headers on every response", func() {
			resp, _, err := testEnv.PostJSON("/media/info", "198.51.100.12",
				`{"url": "https://www.youtube.com/watch?v=dQw4w9WgXcQ"}`)
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.Header.Get("X-Content-Type-Options")).To(Equal("nosniff"))
			Expect(resp.Header.Get("X-Frame-Options")).To(Equal("DENY"))
			Expect(resp.Header.Get("Referrer-Policy")).To(Equal("no-referrer"))
		})
	})

	Context("URL validation", func() {
		It("should reject private address targets without echoing them", func() {
			for _, target := range []string{
				"http://127.0.0.1/admin",
				"http://169.254.169.254/latest/meta-data/",
				"http://10.0.0.5/watch?v=dQw4w9WgXcQ",
				"http://localhost:8080/watch?v=dQw4w9WgXcQ",
			} {
				resp, body, err := testEnv.PostJSON("/media/info", "198.51.100.20",
					fmt.Sprintf(`{"url": %q}`, target))
				Expect(err).ToNot(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusForbidden), "target: %s", target)

				var envelope map[string]interface{}
				Expect(json.Unmarshal(body, &envelope)).To(Succeed())
				Expect(envelope["success"]).To(BeFalse())
				Expect(envelope["message"]).To(Equal("The requested URL is not permitted"))
				Expect(string(body)).ToNot(ContainSubstring("127.0.0.1"))
				Expect(string(body)).ToNot(ContainSubstring("169.254"))
			}
		})

		It("should reject domains outside the allow-list", func() {
			resp, body, err := testEnv.PostJSON("/media/info", "198.51.100.21",
				`{"url": "https://example.com/watch?v=dQw4w9WgXcQ"}`)
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusForbidden))

			var envelope map[string]interface{}
			Expect(json.Unmarshal(body, &envelope)).To(Succeed())
			Expect(envelope["message"]).To(Equal("The requested URL is not permitted"))
		})

		It("should reject malformed request bodies", func() {
			for _, body := range []string{
				``,
				`{invalid json}`,
				`{"quality": "high"}`,
				`{"url": "https://www.youtube.com/watch?v=x", "quality": "ultra"}`,
			} {
				resp, _, err := testEnv.PostJSON("/media/info", "198.51.100.22", body)
				Expect(err).ToNot(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest), "body: %s", body)
			}
		})
	})

	Context("Download endpoints", func() {
		It("should stream audio with download headers", func() {
			resp, body, err := testEnv.PostJSON("/media/audio", "198.51.100.30",
				`{"url": "https://www.youtube.com/watch?v=dQw4w9WgXcQ"}`)
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("audio/mpeg"))
			Expect(resp.Header.Get("Content-Disposition")).To(
				Equal(`attachment; filename="Never Gonna Give You Up.mp3"`))
			Expect(resp.Header.Get("X-Source-Title")).To(Equal("Never Gonna Give You Up"))
			Expect(resp.Header.Get("X-Source-Duration")).To(Equal("213"))
			Expect(body).To(Equal(testAudioBody))
		})

		It("should stream video with download headers", func() {
			resp, body, err := testEnv.PostJSON("/media/video", "198.51.100.31",
				`{"url": "https://www.youtube.com/watch?v=dQw4w9WgXcQ"}`)
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("video/mp4"))
			Expect(resp.Header.Get("Content-Disposition")).To(
				Equal(`attachment; filename="Never Gonna Give You Up.mp4"`))
			Expect(body).To(Equal(testVideoBody))
		})
	})

	Context("Rate limiting", func() {
		It("should deny download requests over the tier quota", func() {
			clientIP := "203.0.113.40"
			request := `{"url": "https://www.youtube.com/watch?v=dQw4w9WgXcQ"}`

			// Download tier allows 3 per window in the test config
			for i := 0; i < 3; i++ {
				resp, _, err := testEnv.PostJSON("/media/audio", clientIP, request)
				Expect(err).ToNot(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
			}

			resp, _, err := testEnv.PostJSON("/media/audio", clientIP, request)
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusTooManyRequests))
			Expect(resp.Header.Get("Retry-After")).ToNot(BeEmpty())
		})

		It("should keep quotas independent between clients", func() {
			request := `{"url": "https://www.youtube.com/watch?v=dQw4w9WgXcQ"}`

			for i := 0; i < 3; i++ {
				resp, _, err := testEnv.PostJSON("/media/audio", "203.0.113.41", request)
				Expect(err).ToNot(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
			}

			resp, _, err := testEnv.PostJSON("/media/audio", "203.0.113.42", request)
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Context("Upstream failures", func() {
		It("should return 503 when extraction keeps failing", func() {
			testEnv.SetFailExtraction(true)
			defer testEnv.SetFailExtraction(false)

			resp, _, err := testEnv.PostJSON("/media/info", "198.51.100.50",
				`{"url": "https://www.youtube.com/watch?v=failing0001"}`)
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
		})

		It("should recover once the provider is healthy again", func() {
			testEnv.SetFailExtraction(false)

			Eventually(func() int {
				resp, _, err := testEnv.PostJSON("/media/info", "198.51.100.51",
					`{"url": "https://www.youtube.com/watch?v=recover0001"}`)
				if err != nil {
					return 0
				}
				return resp.StatusCode
			}, 5*time.Second, 200*time.Millisecond).Should(Equal(http.StatusOK))
		})
	})

	Context("Health endpoint", func() {
		It("should report basic status", func() {
			resp, body, err := testEnv.Get("/healthz", "198.51.100.60")
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var health struct {
				Status        string `json:"status"`
				UptimeSeconds int64  `json:"uptimeSeconds"`
			}
			Expect(json.Unmarshal(body, &health)).To(Succeed())
			Expect(health.Status).To(Equal("healthy"))
			Expect(health.UptimeSeconds).To(BeNumerically(">=", 0))
		})

		It("should include process detail in verbose mode", func() {
			resp, body, err := testEnv.Get("/healthz?verbose=1", "198.51.100.61")
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var health map[string]interface{}
			Expect(json.Unmarshal(body, &health)).To(Succeed())
			Expect(health).To(HaveKey("goroutines"))
			Expect(health).To(HaveKey("memory"))
			Expect(health).To(HaveKey("upstream"))
		})

		It("should reject unknown routes and methods", func() {
			resp, _, err := testEnv.Get("/media/info", "198.51.100.62")
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusMethodNotAllowed))

			resp, _, err = testEnv.PostJSON("/media/unknown", "198.51.100.62", `{}`)
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})
})
