package session

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"regexp"
	"strconv"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/pantry-tracker/internal/inventory"
	"github.com/zombor/pantry-tracker/internal/reconcile"
	"github.com/zombor/pantry-tracker/internal/scanning"
)

// mockStorage is a mock implementation of Storage
type mockStorage struct {
	mu      sync.Mutex
	files   map[string][]byte
	saveErr error
}

func newMockStorage() *mockStorage {
	return &mockStorage{files: make(map[string][]byte)}
}

func (m *mockStorage) Save(filename string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return "", m.saveErr
	}
	m.files[filename] = data
	return filename, nil
}

func (m *mockStorage) Get(path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[path]
	if !ok {
		return nil, errors.New("file not found")
	}
	return data, nil
}

func (m *mockStorage) Delete(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, path)
	return nil
}

func (m *mockStorage) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}

var anyPath = regexp.MustCompile(".*")

var _ = Describe("Server", func() {
	var (
		db          *inventory.BoltDB
		ledger      *inventory.Ledger
		scanner     *mockScanner
		storage     *mockStorage
		sess        *Session
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		db = newTestDB()
		ledger = inventory.NewLedger(db)
		scanner = &mockScanner{}
		storage = newMockStorage()
		auth = BasicAuth{}
	})

	JustBeforeEach(func() {
		sess = New(scanner, ledger, reconcile.BuiltinDefaults(), Options{Debounce: 10 * time.Millisecond})
		server = NewServerWithMux(sess, ledger, storage, auth, nil, http.NewServeMux())
		server.now = func() time.Time { return time.Unix(1700000000, 0) }
		ghttpServer = ghttp.NewServer()
		ghttpServer.SetAllowUnhandledRequests(true)
		ghttpServer.RouteToHandler("GET", anyPath, server.ServeHTTP)
		ghttpServer.RouteToHandler("POST", anyPath, server.ServeHTTP)
		ghttpServer.RouteToHandler("PATCH", anyPath, server.ServeHTTP)
		ghttpServer.RouteToHandler("DELETE", anyPath, server.ServeHTTP)
		ghttpServer.RouteToHandler("OPTIONS", anyPath, server.ServeHTTP)
	})

	AfterEach(func() {
		ghttpServer.Close()
		Expect(sess.Close()).To(Succeed())
	})

	do := func(method, path string, body any) *http.Response {
		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			Expect(err).NotTo(HaveOccurred())
			reader = bytes.NewReader(data)
		}
		req, err := http.NewRequest(method, ghttpServer.URL()+path, reader)
		Expect(err).NotTo(HaveOccurred())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(resp.Body.Close)
		return resp
	}

	decodeSnapshot := func(resp *http.Response) Snapshot {
		var snap Snapshot
		Expect(json.NewDecoder(resp.Body).Decode(&snap)).To(Succeed())
		return snap
	}

	upload := func(filename, contentType string, data []byte) *http.Response {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
		if contentType != "" {
			header.Set("Content-Type", contentType)
		}
		part, err := writer.CreatePart(header)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())

		resp, err := http.Post(ghttpServer.URL()+"/api/session/capture", writer.FormDataContentType(), body)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(resp.Body.Close)
		return resp
	}

	toReview := func() {
		Expect(do("POST", "/api/session/quick-scan", nil).StatusCode).To(Equal(http.StatusOK))
		Expect(upload("shelf.png", "image/png", photo).StatusCode).To(Equal(http.StatusAccepted))
		Eventually(stageOf(sess)).Should(Equal(StageReview))
	}

	Describe("GET /api/session", func() {
		It("should return the current stage as JSON", func() {
			resp := do("GET", "/api/session", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			snap := decodeSnapshot(resp)
			Expect(snap.Stage.Kind).To(Equal(StageAreaSelection))
			Expect(snap.Items).To(BeEmpty())
		})
	})

	Describe("POST /api/session/area", func() {
		It("should start the area", func() {
			resp := do("POST", "/api/session/area", map[string]string{"label": "Pantry Shelf"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			snap := decodeSnapshot(resp)
			Expect(snap.Stage.Kind).To(Equal(StageIdle))
			Expect(snap.Area).To(Equal(&Area{ID: "pantry shelf", Label: "Pantry Shelf"}))
		})

		It("should require a label", func() {
			resp := do("POST", "/api/session/area", map[string]string{"id": "x"})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should reject malformed bodies", func() {
			req, err := http.NewRequest("POST", ghttpServer.URL()+"/api/session/area", bytes.NewBufferString("{"))
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("POST /api/session/capture", func() {
		BeforeEach(func() {
			scanner.set([]scanning.Candidate{{Name: "Rice", Quantity: 2}}, nil)
		})

		It("should archive the photo and scan it", func() {
			toReview()
			Expect(storage.count()).To(Equal(1))
			Expect(storage.files).To(HaveKey("1700000000000000000_shelf.png"))
			Expect(itemsOf(sess)[0].Name).To(Equal("Rice"))
		})

		It("should serve and delete the archived photo", func() {
			Expect(do("POST", "/api/session/quick-scan", nil).StatusCode).To(Equal(http.StatusOK))
			resp := upload("shelf.png", "image/png", photo)
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
			name := resp.Header.Get("X-Photo-Name")
			Expect(name).To(Equal("1700000000000000000_shelf.png"))
			Eventually(stageOf(sess)).Should(Equal(StageReview))

			resp = do("GET", "/api/photos/"+name, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(body).To(Equal(photo))

			Expect(do("DELETE", "/api/photos/"+name, nil).StatusCode).To(Equal(http.StatusNoContent))
			Expect(storage.count()).To(BeZero())
			Expect(do("GET", "/api/photos/"+name, nil).StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should still scan when archiving fails", func() {
			storage.saveErr = errors.New("disk full")
			toReview()
		})

		It("should reject a request without a file", func() {
			Expect(do("POST", "/api/session/quick-scan", nil).StatusCode).To(Equal(http.StatusOK))
			body := &bytes.Buffer{}
			writer := multipart.NewWriter(body)
			Expect(writer.WriteField("other", "value")).To(Succeed())
			Expect(writer.Close()).To(Succeed())
			resp, err := http.Post(ghttpServer.URL()+"/api/session/capture", writer.FormDataContentType(), body)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should reject an empty file", func() {
			resp := upload("empty.jpg", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("review items", func() {
		BeforeEach(func() {
			mustInsert(db, &inventory.Record{Name: "Eggs", Quantity: 6})
			scanner.set([]scanning.Candidate{{Name: "Eggs", Quantity: 2}, {Name: "Kumquat", Quantity: 1}}, nil)
		})

		JustBeforeEach(func() {
			toReview()
		})

		It("should edit fields", func() {
			resp := do("PATCH", "/api/session/items/1", map[string]string{
				"quantity": "2.5",
				"unit":     "kg",
				"expiry":   "2030-05-01",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			item := decodeSnapshot(resp).Items[1]
			Expect(item.Quantity).To(Equal("2.5"))
			Expect(item.Unit).To(Equal("kg"))
			Expect(item.Expiry.Format(dateLayout)).To(Equal("2030-05-01"))
			Expect(item.ExpiryEstimated).To(BeFalse())
		})

		It("should reject a bad index", func() {
			Expect(do("PATCH", "/api/session/items/abc", map[string]string{"unit": "g"}).StatusCode).
				To(Equal(http.StatusBadRequest))
		})

		It("should reject a bad expiry", func() {
			Expect(do("PATCH", "/api/session/items/0", map[string]string{"expiry": "tomorrow"}).StatusCode).
				To(Equal(http.StatusBadRequest))
		})

		It("should ignore an out of range index", func() {
			resp := do("PATCH", "/api/session/items/9", map[string]string{"unit": "g"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decodeSnapshot(resp).Items).To(HaveLen(2))
		})

		It("should change the match type", func() {
			resp := do("POST", "/api/session/items/0/match", map[string]string{"match_type": "skip"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			snap := decodeSnapshot(resp)
			Expect(snap.Items[0].MatchType).To(Equal(reconcile.MatchSkip))
			Expect(snap.ActiveCount).To(Equal(1))
		})

		It("should reject an unknown match type", func() {
			Expect(do("POST", "/api/session/items/0/match", map[string]string{"match_type": "merge"}).StatusCode).
				To(Equal(http.StatusBadRequest))
		})

		It("should remove items by index", func() {
			resp := do("DELETE", "/api/session/items/0", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			snap := decodeSnapshot(resp)
			Expect(snap.Items).To(HaveLen(1))
			Expect(snap.Items[0].Name).To(Equal("Kumquat"))
		})

		It("should add a manual item", func() {
			resp := do("POST", "/api/session/items", map[string]string{"name": "Flour", "quantity": "1"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			snap := decodeSnapshot(resp)
			Expect(snap.Items).To(HaveLen(3))
			Expect(snap.Items[2].Manual).To(BeTrue())
		})

		It("should require a manual item name", func() {
			Expect(do("POST", "/api/session/items", map[string]string{"quantity": "1"}).StatusCode).
				To(Equal(http.StatusBadRequest))
		})

		It("should commit on confirm", func() {
			Expect(do("POST", "/api/session/confirm", nil).StatusCode).To(Equal(http.StatusOK))
			Eventually(stageOf(sess)).Should(Equal(StageAreaSuccess))
			record, err := db.FindByName("eggs")
			Expect(err).NotTo(HaveOccurred())
			Expect(record.Quantity).To(Equal(8.0))
		})

		It("should prompt before discarding on back", func() {
			snap := decodeSnapshot(do("POST", "/api/session/back", nil))
			Expect(snap.Stage.DiscardPrompt).To(BeTrue())
			snap = decodeSnapshot(do("POST", "/api/session/discard", nil))
			Expect(snap.Stage.Kind).To(Equal(StageIdle))
			Expect(snap.Items).To(BeEmpty())
		})

		It("should resume the held review after a retake", func() {
			snap := decodeSnapshot(do("POST", "/api/session/retake", nil))
			Expect(snap.Stage.Kind).To(Equal(StageIdle))
			snap = decodeSnapshot(do("POST", "/api/session/resume", nil))
			Expect(snap.Stage.Kind).To(Equal(StageReview))
			Expect(snap.Items).To(HaveLen(2))
		})
	})

	Describe("GET /api/tour/summary", func() {
		It("should return an empty summary", func() {
			resp := do("GET", "/api/tour/summary", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var summary reconcile.Summary
			Expect(json.NewDecoder(resp.Body).Decode(&summary)).To(Succeed())
			Expect(summary.TotalItems).To(BeZero())
			Expect(summary.PerArea).To(BeEmpty())
		})
	})

	Describe("records", func() {
		It("should create then increment on quick add", func() {
			resp := do("POST", "/api/items/quick-add", map[string]any{"name": "Coffee", "quantity": 1, "unit": "bag"})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var created struct {
				ID      int64 `json:"id"`
				Created bool  `json:"created"`
			}
			Expect(json.NewDecoder(resp.Body).Decode(&created)).To(Succeed())
			Expect(created.Created).To(BeTrue())

			resp = do("POST", "/api/items/quick-add", map[string]any{"name": "coffee"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			resp = do("GET", "/api/items/"+strconv.FormatInt(created.ID, 10), nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var body struct {
				Record    inventory.Record     `json:"record"`
				Purchases []inventory.Purchase `json:"purchases"`
			}
			Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
			Expect(body.Record.Quantity).To(Equal(2.0))
			Expect(body.Record.Unit).To(Equal("bag"))
			Expect(body.Purchases).To(HaveLen(2))
		})

		It("should list records in creation order", func() {
			do("POST", "/api/items/quick-add", map[string]any{"name": "Coffee"})
			do("POST", "/api/items/quick-add", map[string]any{"name": "Tea"})

			resp := do("GET", "/api/items", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var records []inventory.Record
			Expect(json.NewDecoder(resp.Body).Decode(&records)).To(Succeed())
			Expect(records).To(HaveLen(2))
			Expect(records[0].Name).To(Equal("Coffee"))
			Expect(records[1].Name).To(Equal("Tea"))
		})

		It("should require a name on quick add", func() {
			Expect(do("POST", "/api/items/quick-add", map[string]any{"quantity": 1}).StatusCode).
				To(Equal(http.StatusBadRequest))
		})

		It("should return 404 for a missing record", func() {
			Expect(do("GET", "/api/items/99", nil).StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should return 400 for a malformed id", func() {
			Expect(do("GET", "/api/items/abc", nil).StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("live lists", func() {
		It("should start empty", func() {
			resp := do("GET", "/api/categories", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var names []string
			Expect(json.NewDecoder(resp.Body).Decode(&names)).To(Succeed())
			Expect(names).NotTo(BeNil())
			Expect(names).To(BeEmpty())
		})

		It("should add categories and return the sorted list", func() {
			do("POST", "/api/categories", map[string]string{"name": "Produce"})
			resp := do("POST", "/api/categories", map[string]string{"name": " Dairy "})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var names []string
			Expect(json.NewDecoder(resp.Body).Decode(&names)).To(Succeed())
			Expect(names).To(Equal([]string{"Dairy", "Produce"}))
		})

		It("should add units", func() {
			Expect(do("POST", "/api/units", map[string]string{"name": "L"}).StatusCode).To(Equal(http.StatusOK))
			units, err := db.ListUnits()
			Expect(err).NotTo(HaveOccurred())
			Expect(units).To(ConsistOf("L"))
		})

		It("should require a name", func() {
			Expect(do("POST", "/api/units", map[string]string{"name": "  "}).StatusCode).
				To(Equal(http.StatusBadRequest))
		})

		It("should canonicalize scanned units against the saved list", func() {
			do("POST", "/api/units", map[string]string{"name": "kg"})
			scanner.set([]scanning.Candidate{{Name: "Rice", Quantity: 1, Unit: "KG"}}, nil)
			toReview()
			Expect(itemsOf(sess)[0].Unit).To(Equal("kg"))
		})
	})

	Describe("GET /metrics", func() {
		It("should expose prometheus metrics", func() {
			resp := do("GET", "/metrics", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("go_goroutines"))
		})
	})

	Describe("CORS", func() {
		It("should answer preflight requests", func() {
			resp := do("OPTIONS", "/api/session", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("PATCH"))
		})
	})

	Describe("authentication", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "kitchen", Password: "secret"}
		})

		It("should reject requests without credentials", func() {
			resp := do("GET", "/api/session", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Pantry Tracker"))
		})

		It("should reject wrong credentials", func() {
			req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/session", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("kitchen", "wrong")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("should accept valid credentials", func() {
			req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/session", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("kitchen:secret")))
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	When("the session is closed", func() {
		It("should answer commands with service unavailable", func() {
			Expect(sess.Close()).To(Succeed())
			Expect(do("POST", "/api/session/reset", nil).StatusCode).To(Equal(http.StatusServiceUnavailable))
		})
	})
})
