package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/protrace/protrace/internal/anchor"
	"github.com/protrace/protrace/internal/blobstore"
	"github.com/protrace/protrace/internal/identity"
	"github.com/protrace/protrace/internal/registry/handler"
	"github.com/protrace/protrace/internal/registry/model"
	"github.com/protrace/protrace/internal/registry/repository"
	"github.com/protrace/protrace/internal/registry/service"
	"github.com/protrace/protrace/internal/testimg"
	"github.com/protrace/protrace/pkg/dna"
	"github.com/protrace/protrace/pkg/merkle"
)

const rampDNA = "ffffffffffffffff0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f"

type testEnv struct {
	router *gin.Engine
	svc    *service.RegistrationService
	ledger *anchor.MemoryLedger
	tokens *identity.PlatformTokenIssuer
}

func setupRouter(t *testing.T, withAuth bool) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	svc := service.NewRegistrationService(repository.NewMemoryStore(), logger)
	ledger := anchor.NewMemoryLedger()
	anchorer := anchor.NewAnchorer(svc, blobstore.NewMemoryStore(), anchor.LedgerSink{Ledger: ledger}, logger)

	var tokens *identity.PlatformTokenIssuer
	if withAuth {
		var err error
		tokens, err = identity.NewPlatformTokenIssuer([]byte("test-secret"), "protrace", time.Hour)
		if err != nil {
			t.Fatal(err)
		}
	}

	r := gin.New()
	v1 := r.Group("/api/v1")
	handler.NewDNAHandler(svc.Extractor(), logger).Register(v1)
	handler.NewRegistrationHandler(svc, tokens, logger).Register(v1)
	handler.NewTreeHandler(svc, logger).Register(v1)
	handler.NewAnchorHandler(anchorer, ledger, tokens, logger).Register(v1)
	return &testEnv{router: r, svc: svc, ledger: ledger, tokens: tokens}
}

func multipartBody(t *testing.T, fields map[string]string, files map[string][][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for field, blobs := range files {
		for i, data := range blobs {
			fw, err := w.CreateFormFile(field, field+string(rune('a'+i))+".png")
			if err != nil {
				t.Fatal(err)
			}
			fw.Write(data) //nolint:errcheck
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, w.FormDataContentType()
}

func (e *testEnv) upload(t *testing.T, path string, img []byte, fields map[string]string, token string) *httptest.ResponseRecorder {
	t.Helper()
	files := map[string][][]byte{}
	if img != nil {
		files["image"] = [][]byte{img}
	}
	body, ct := multipartBody(t, fields, files)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", ct)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

// ── /dna ──────────────────────────────────────────────────────────────────

func TestFingerprint_200(t *testing.T) {
	env := setupRouter(t, false)
	w := env.upload(t, "/api/v1/dna", testimg.HorizontalRamp(), nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp handler.FingerprintResponse
	decode(t, w, &resp)
	if resp.DNA.String() != rampDNA {
		t.Errorf("dna = %s, want %s", resp.DNA, rampDNA)
	}
	if resp.DHash != "ffffffffffffffff" || resp.GridHash != strings.Repeat("0f", 24) {
		t.Errorf("components: dhash %s grid %s", resp.DHash, resp.GridHash)
	}
}

func TestFingerprint_400_missingImage(t *testing.T) {
	env := setupRouter(t, false)
	w := env.upload(t, "/api/v1/dna", nil, map[string]string{"x": "y"}, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestFingerprint_422_undecodable(t *testing.T) {
	env := setupRouter(t, false)
	w := env.upload(t, "/api/v1/dna", []byte("not an image"), nil, "")
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCompare(t *testing.T) {
	env := setupRouter(t, false)
	other := "00000000000000000f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f"

	w := env.do(t, http.MethodPost, "/api/v1/dna/compare", handler.CompareRequest{A: rampDNA, B: strings.ToUpper(other)})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp handler.CompareResponse
	decode(t, w, &resp)
	if resp.Distance != 64 || resp.Components.DHash != 64 || resp.Components.Grid != 0 {
		t.Errorf("distance %d components %+v", resp.Distance, resp.Components)
	}
	if resp.Similarity != 0.75 || resp.Verdict != "similar" || resp.Duplicate {
		t.Errorf("similarity %v verdict %s duplicate %v", resp.Similarity, resp.Verdict, resp.Duplicate)
	}

	w = env.do(t, http.MethodPost, "/api/v1/dna/compare", handler.CompareRequest{A: rampDNA, B: "xyz"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed: expected 400, got %d", w.Code)
	}
}

// ── /registrations ────────────────────────────────────────────────────────

func TestRegistration_acceptThenRejectDuplicate(t *testing.T) {
	env := setupRouter(t, false)
	img := testimg.HorizontalRamp()

	w := env.upload(t, "/api/v1/registrations", img, map[string]string{"identifier": "img-1", "platform_id": "web"}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var first model.RegisterResult
	decode(t, w, &first)
	if first.Status != model.StatusAccepted || first.LeafIndex == nil || *first.LeafIndex != 0 {
		t.Errorf("first registration: %+v", first)
	}

	w = env.upload(t, "/api/v1/registrations", img, map[string]string{"identifier": "img-2"}, "")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	var second model.RegisterResult
	decode(t, w, &second)
	if second.Status != model.StatusRejected || second.BestMatch == nil || second.BestMatch.Identifier != "img-1" {
		t.Errorf("second registration: %+v", second)
	}
	if second.BestMatch.Distance != 0 {
		t.Errorf("distance = %d, want 0", second.BestMatch.Distance)
	}

	if got := env.svc.TreeInfo().LeafCount; got != 1 {
		t.Errorf("leaf count = %d, want 1", got)
	}
}

func TestRegistration_400_badThreshold(t *testing.T) {
	env := setupRouter(t, false)
	for _, v := range []string{"abc", "-1", "257"} {
		w := env.upload(t, "/api/v1/registrations", testimg.HorizontalRamp(), map[string]string{"threshold_bits": v}, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("threshold_bits=%s: expected 400, got %d", v, w.Code)
		}
	}
}

func TestRegistration_409_duplicateIdentifier(t *testing.T) {
	env := setupRouter(t, false)
	env.upload(t, "/api/v1/registrations", testimg.HorizontalRamp(), map[string]string{"identifier": "same"}, "")
	w := env.upload(t, "/api/v1/registrations", testimg.VerticalRamp(), map[string]string{"identifier": "same"}, "")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRegistration_authRequired(t *testing.T) {
	env := setupRouter(t, true)
	img := testimg.HorizontalRamp()

	w := env.upload(t, "/api/v1/registrations", img, nil, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	token, _ := env.tokens.Issue("instagram", []string{identity.ScopeRegister})
	w = env.upload(t, "/api/v1/registrations", img, map[string]string{"identifier": "a", "platform_id": "spoofed"}, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	e, err := env.svc.Get(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	if e.PlatformID != "instagram" {
		t.Errorf("platform_id = %q, token claim must win", e.PlatformID)
	}

	// check stays public
	w = env.upload(t, "/api/v1/registrations/check", img, nil, "")
	if w.Code != http.StatusOK {
		t.Errorf("check: expected 200, got %d", w.Code)
	}
}

func TestRegistration_batch(t *testing.T) {
	env := setupRouter(t, false)
	body, ct := multipartBody(t, map[string]string{"identifier": "first"}, map[string][][]byte{
		"images": {testimg.HorizontalRamp(), testimg.VerticalRamp(), testimg.HorizontalRamp(), []byte("junk")},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/registrations/batch", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Items    []model.BatchItem `json:"items"`
		Accepted int               `json:"accepted"`
		Rejected int               `json:"rejected"`
		Failed   int               `json:"failed"`
	}
	decode(t, w, &resp)
	if resp.Accepted != 2 || resp.Rejected != 1 || resp.Failed != 1 {
		t.Errorf("accepted/rejected/failed = %d/%d/%d, want 2/1/1", resp.Accepted, resp.Rejected, resp.Failed)
	}
	if len(resp.Items) != 4 || resp.Items[0].Result.Identifier != "first" {
		t.Errorf("items: %+v", resp.Items)
	}
	if resp.Items[3].Error == "" {
		t.Error("undecodable item should carry an error")
	}
}

func TestCheck_doesNotRegister(t *testing.T) {
	env := setupRouter(t, false)
	env.upload(t, "/api/v1/registrations", testimg.HorizontalRamp(), map[string]string{"identifier": "orig"}, "")

	w := env.upload(t, "/api/v1/registrations/check", testimg.HorizontalRamp(), nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res model.CheckResult
	decode(t, w, &res)
	if !res.Duplicate || res.BestMatch == nil || res.BestMatch.Identifier != "orig" || res.Scanned != 1 {
		t.Errorf("check result: %+v", res)
	}
	if got := env.svc.TreeInfo().LeafCount; got != 1 {
		t.Errorf("check must not append, leaf count = %d", got)
	}
}

func TestGetRegistration(t *testing.T) {
	env := setupRouter(t, false)
	env.upload(t, "/api/v1/registrations", testimg.HorizontalRamp(), map[string]string{"identifier": "img-1"}, "")

	w := env.do(t, http.MethodGet, "/api/v1/registrations/img-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var e model.Entry
	decode(t, w, &e)
	if e.Fingerprint.String() != rampDNA || e.PlatformID != model.DefaultPlatformID {
		t.Errorf("entry: %+v", e)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/registrations/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing: expected 404, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/registrations/missing/proof", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing proof: expected 404, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/v1/registrations/img-1/proof", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("proof: expected 200, got %d", w.Code)
	}
}

// ── /tree ─────────────────────────────────────────────────────────────────

func TestTree_emptyAndProofs(t *testing.T) {
	env := setupRouter(t, false)

	w := env.do(t, http.MethodGet, "/api/v1/tree", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var info model.TreeInfo
	decode(t, w, &info)
	if info.Root != nil || info.LeafCount != 0 {
		t.Errorf("empty tree info: %+v", info)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/tree/manifest", nil); w.Code != http.StatusConflict {
		t.Errorf("empty manifest: expected 409, got %d", w.Code)
	}

	for i, img := range [][]byte{testimg.HorizontalRamp(), testimg.VerticalRamp(), testimg.DescendingRamp()} {
		w := env.upload(t, "/api/v1/registrations", img, map[string]string{"identifier": string(rune('a' + i))}, "")
		if w.Code != http.StatusCreated {
			t.Fatalf("register %d: %d %s", i, w.Code, w.Body.String())
		}
	}

	w = env.do(t, http.MethodGet, "/api/v1/tree/proofs/2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("proof: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var b model.ProofBundle
	decode(t, w, &b)
	if b.LeafCount != 3 || len(b.Proof) != 2 {
		t.Errorf("bundle: leaf_count %d proof len %d", b.LeafCount, len(b.Proof))
	}

	w = env.do(t, http.MethodPost, "/api/v1/tree/verify", handler.VerifyRequest{Leaf: b.Leaf, Proof: b.Proof, Root: b.Root})
	var v struct{ Valid bool }
	decode(t, w, &v)
	if w.Code != http.StatusOK || !v.Valid {
		t.Errorf("verify: %d %s", w.Code, w.Body.String())
	}

	tampered := b.Leaf
	tampered.Pointer = "other"
	w = env.do(t, http.MethodPost, "/api/v1/tree/verify", handler.VerifyRequest{Leaf: tampered, Proof: b.Proof, Root: b.Root})
	decode(t, w, &v)
	if v.Valid {
		t.Error("tampered leaf must not verify")
	}

	badLeaf := b.Leaf
	badLeaf.DNAHex = "zz"
	w = env.do(t, http.MethodPost, "/api/v1/tree/verify", handler.VerifyRequest{Leaf: badLeaf, Proof: b.Proof, Root: b.Root})
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed leaf: expected 400, got %d", w.Code)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/tree/proofs/3", nil); w.Code != http.StatusNotFound {
		t.Errorf("out of range: expected 404, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/tree/proofs/abc", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad idx: expected 400, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/v1/tree/manifest", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("manifest: expected 200, got %d", w.Code)
	}
	m, err := merkle.ParseManifest(w.Body.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := merkle.ImportManifest(m); err != nil {
		t.Errorf("manifest does not reproduce its root: %v", err)
	}
}

// ── /anchors ──────────────────────────────────────────────────────────────

func TestAnchors(t *testing.T) {
	env := setupRouter(t, false)

	if w := env.do(t, http.MethodPost, "/api/v1/anchors", nil); w.Code != http.StatusConflict {
		t.Errorf("empty tree: expected 409, got %d", w.Code)
	}

	env.upload(t, "/api/v1/registrations", testimg.HorizontalRamp(), nil, "")
	w := env.do(t, http.MethodPost, "/api/v1/anchors", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var res anchor.Result
	decode(t, w, &res)
	if res.Payload.LeafCount != 1 || !strings.HasPrefix(res.Payload.ManifestRef, "b3:") {
		t.Errorf("payload: %+v", res.Payload)
	}

	if w := env.do(t, http.MethodPost, "/api/v1/anchors", nil); w.Code != http.StatusConflict {
		t.Errorf("unchanged root: expected 409, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/v1/anchors", nil)
	var overview struct {
		Entries int          `json:"entries"`
		Head    anchor.Entry `json:"head"`
	}
	decode(t, w, &overview)
	if overview.Entries != 2 || overview.Head.Root != res.Payload.Root.String() {
		t.Errorf("overview: %+v", overview)
	}

	w = env.do(t, http.MethodGet, "/api/v1/anchors/verify", nil)
	var v struct{ Valid bool }
	decode(t, w, &v)
	if !v.Valid {
		t.Errorf("verify: %s", w.Body.String())
	}

	if w := env.do(t, http.MethodGet, "/api/v1/anchors/entries/1", nil); w.Code != http.StatusOK {
		t.Errorf("entry 1: expected 200, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/anchors/entries/9", nil); w.Code != http.StatusNotFound {
		t.Errorf("entry 9: expected 404, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/anchors/entries/x", nil); w.Code != http.StatusBadRequest {
		t.Errorf("entry x: expected 400, got %d", w.Code)
	}
}

func TestAnchors_authRequired(t *testing.T) {
	env := setupRouter(t, true)
	if w := env.do(t, http.MethodPost, "/api/v1/anchors", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/anchors", nil); w.Code != http.StatusOK {
		t.Errorf("read routes stay public, got %d", w.Code)
	}
}

// ── middleware ────────────────────────────────────────────────────────────

func TestRateLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := gin.New()
	r.Use(handler.RateLimiter(ctx, 1, 2))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	codes := make([]int, 3)
	for i := range codes {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		codes[i] = w.Code
	}
	if codes[0] != http.StatusNoContent || codes[1] != http.StatusNoContent || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [204 204 429]", codes)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handler.PrometheusMiddleware())
	r.GET("/metrics", handler.MetricsHandler())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))
	handler.RecordRegistration("accepted")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()
	for _, name := range []string{"protrace_requests_total", "protrace_registrations_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestRegistryGauges_countStoreEntries(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	// Entries stored before the service starts are not in the tree until
	// Restore, so the two gauges differ.
	store := repository.NewMemoryStore()
	for i, hex := range []string{strings.Repeat("00", 32), strings.Repeat("f0", 32)} {
		e := model.Entry{Identifier: "pre-" + string(rune('a'+i)), Fingerprint: dna.MustParse(hex), PlatformID: "test"}
		if err := store.Append(context.Background(), e); err != nil {
			t.Fatal(err)
		}
	}
	svc := service.NewRegistrationService(store, logger)

	r := gin.New()
	v1 := r.Group("/api/v1")
	handler.NewRegistrationHandler(svc, nil, logger).Register(v1)
	r.GET("/metrics", handler.MetricsHandler())
	env := &testEnv{router: r, svc: svc}

	w := env.upload(t, "/api/v1/registrations", testimg.HorizontalRamp(), map[string]string{"identifier": "img-1"}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()
	for _, line := range []string{"protrace_registry_entries 3", "protrace_tree_leaves 1"} {
		if !strings.Contains(body, line+"\n") {
			t.Errorf("metrics output missing %q", line)
		}
	}
}
