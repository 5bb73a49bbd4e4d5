//go:build integration

package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/bburrets/sp-webhook-integration-sub001/internal/changedetector"
)

var _ = Describe("HTTP ingress endpoint", func() {
	Context("during the subscription validation handshake", func() {
		It("echoes the validation token back verbatim with a text/plain body", func() {
			handler := New(zap.NewNop(), nil, 0, nil, nil, nil, nil, nil, nil)

			req := httptest.NewRequest(http.MethodGet, "/ingress?validationToken=tok-9a8b", nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Content-Type")).To(Equal("text/plain"))
			body, err := io.ReadAll(rec.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(Equal("tok-9a8b"))
		})
	})

	Context("when processing a batch of change notifications", func() {
		var (
			calls  *int32
			server *httptest.Server
		)

		BeforeEach(func() {
			var n int32
			calls = &n
			server = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(calls, 1)
				w.WriteHeader(http.StatusOK)
			}))
		})

		AfterEach(func() {
			server.Close()
		})

		It("forwards exactly once per distinct item and carries the field-level diff", func() {
			store := newMemStore()
			Expect(store.Put(context.Background(), "Lists/Invoices", "1", map[string]interface{}{
				"Status": "Pending", "Amount": 5000.0,
			})).To(Succeed())
			detector := changedetector.New(store)

			var received struct {
				Changes *struct {
					Details struct {
						Modified map[string]struct {
							Old interface{} `json:"old"`
							New interface{} `json:"new"`
						} `json:"modified"`
					} `json:"details"`
				} `json:"changes"`
			}
			recordingServer := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(calls, 1)
				_ = json.NewDecoder(r.Body).Decode(&received)
				w.WriteHeader(http.StatusOK)
			}))
			defer recordingServer.Close()

			platform := &fakePlatform{fields: map[string]interface{}{"Status": "Approved", "Amount": 5500.0}}
			fwd := newTestForwarder(recordingServer.Client())
			dispatcher := NewDispatcher(fwd, nil, nil, detector, zap.NewNop(), nil, 10)
			dedupCache := newTestDedupCache(GinkgoT(), time.Minute)
			handler := New(zap.NewNop(), dedupCache, time.Minute, platform, detector, dispatcher, nil, nil, nil)

			clientState := fmt.Sprintf("destination:forward|url:%s|changeDetection:enabled", recordingServer.URL)
			body := fmt.Sprintf(`{"value":[{"subscriptionId":"sub-1","resource":"Lists/Invoices","changeType":"updated","clientState":%q,"resourceData":{"id":"1"}}]}`, clientState)

			req := httptest.NewRequest(http.MethodPost, "/ingress", strings.NewReader(body))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(atomic.LoadInt32(calls)).To(Equal(int32(1)))
			Expect(received.Changes).NotTo(BeNil())
			Expect(received.Changes.Details.Modified).To(HaveKey("Status"))
		})

		It("suppresses a second identical notification delivered within the dedup window", func() {
			platform := &fakePlatform{fields: map[string]interface{}{"Status": "Approved"}}
			fwd := newTestForwarder(server.Client())
			dispatcher := NewDispatcher(fwd, nil, nil, nil, zap.NewNop(), nil, 10)
			dedupCache := newTestDedupCache(GinkgoT(), time.Minute)
			fixedNow := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
			handler := New(zap.NewNop(), dedupCache, time.Minute, platform, nil, dispatcher, nil, nil, func() time.Time { return fixedNow })

			clientState := fmt.Sprintf("destination:forward|url:%s|mode:withData", server.URL)
			body := fmt.Sprintf(`{"value":[{"subscriptionId":"sub-1","resource":"Lists/Invoices","changeType":"updated","clientState":%q,"resourceData":{"id":"1"}}]}`, clientState)

			for i := 0; i < 2; i++ {
				req := httptest.NewRequest(http.MethodPost, "/ingress", strings.NewReader(body))
				rec := httptest.NewRecorder()
				handler.ServeHTTP(rec, req)
				Expect(rec.Code).To(Equal(http.StatusOK))
			}

			Expect(atomic.LoadInt32(calls)).To(Equal(int32(1)))
		})

		It("skips a malformed sibling entry without aborting the rest of the batch", func() {
			platform := &fakePlatform{fields: map[string]interface{}{"Status": "Approved"}}
			fwd := newTestForwarder(server.Client())
			dispatcher := NewDispatcher(fwd, nil, nil, nil, zap.NewNop(), nil, 10)
			dedupCache := newTestDedupCache(GinkgoT(), time.Minute)
			handler := New(zap.NewNop(), dedupCache, time.Minute, platform, nil, dispatcher, nil, nil, nil)

			clientState := fmt.Sprintf("destination:forward|url:%s|mode:withData", server.URL)
			body := fmt.Sprintf(`{"value":[123, {"subscriptionId":"sub-1","resource":"Lists/Invoices","changeType":"updated","clientState":%q,"resourceData":{"id":"1"}}]}`, clientState)

			req := httptest.NewRequest(http.MethodPost, "/ingress", strings.NewReader(body))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(atomic.LoadInt32(calls)).To(Equal(int32(1)))
		})
	})
})
