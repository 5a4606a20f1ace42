package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/protrace/protrace/pkg/dna"
	"github.com/protrace/protrace/pkg/merkle"
)

// maxResponseBytes bounds response bodies; manifests grow with the registry.
const maxResponseBytes = 64 << 20

// Registration outcomes.
const (
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

// APIError is returned for any non-2xx response the server explains.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Fingerprint is the response of POST /api/v1/dna.
type Fingerprint struct {
	DNA      dna.DNA `json:"dna"`
	DHash    string  `json:"dhash"`
	GridHash string  `json:"grid_hash"`
}

// Comparison is the response of POST /api/v1/dna/compare.
type Comparison struct {
	Distance      int               `json:"hamming_distance"`
	Similarity    float64           `json:"similarity"`
	Verdict       dna.Verdict       `json:"verdict"`
	Duplicate     bool              `json:"duplicate"`
	ThresholdBits int               `json:"threshold_bits"`
	Components    dna.ComponentDiff `json:"components"`
}

// Match is the closest registered fingerprint to a candidate.
type Match struct {
	Identifier  string  `json:"identifier"`
	PlatformID  string  `json:"platform_id"`
	Fingerprint dna.DNA `json:"fingerprint"`
	Distance    int     `json:"hamming_distance"`
	Similarity  float64 `json:"similarity"`
}

// RegisterOptions are the optional fields of a registration.
type RegisterOptions struct {
	Identifier string
	// PlatformID is ignored by servers that authenticate platforms by token.
	PlatformID    string
	ThresholdBits *int
}

// RegisterResult is the outcome of Register. Status is StatusAccepted or
// StatusRejected; a rejection is not an error.
type RegisterResult struct {
	Status        string       `json:"status"`
	Fingerprint   dna.DNA      `json:"fingerprint"`
	Identifier    string       `json:"identifier,omitempty"`
	LeafIndex     *int         `json:"leaf_index,omitempty"`
	LeafHash      *merkle.Hash `json:"leaf_hash,omitempty"`
	ThresholdBits int          `json:"threshold_bits"`
	BestMatch     *Match       `json:"best_match,omitempty"`
}

// CheckResult is the outcome of Check.
type CheckResult struct {
	Fingerprint   dna.DNA `json:"fingerprint"`
	Duplicate     bool    `json:"duplicate"`
	ThresholdBits int     `json:"threshold_bits"`
	Scanned       int     `json:"scanned"`
	BestMatch     *Match  `json:"best_match,omitempty"`
}

// Entry is a stored registration.
type Entry struct {
	Identifier   string    `json:"identifier"`
	Fingerprint  dna.DNA   `json:"fingerprint"`
	PlatformID   string    `json:"platform_id"`
	RegisteredAt time.Time `json:"registered_at"`
}

// TreeInfo summarizes the server's Merkle tree. Root is nil when empty.
type TreeInfo struct {
	Root      *merkle.Hash `json:"root"`
	LeafCount int          `json:"leaf_count"`
	Depth     int          `json:"depth"`
}

// ProofBundle is an inclusion proof for one leaf.
type ProofBundle struct {
	LeafIndex int          `json:"leaf_index"`
	Leaf      merkle.Leaf  `json:"leaf"`
	LeafHash  merkle.Hash  `json:"leaf_hash"`
	Proof     merkle.Proof `json:"proof"`
	Root      merkle.Hash  `json:"root"`
	LeafCount int          `json:"leaf_count"`
}

// Verify checks the bundle locally.
func (b *ProofBundle) Verify() (bool, error) {
	return merkle.VerifyProofStandalone(b.Leaf, b.Proof, b.Root)
}

// AnchorPayload is what was handed to the anchor sink.
type AnchorPayload struct {
	Root        merkle.Hash `json:"root"`
	ManifestRef string      `json:"manifest_ref"`
	LeafCount   uint64      `json:"leaf_count"`
	Timestamp   int64       `json:"timestamp"`
}

// AnchorResult is the response of POST /api/v1/anchors.
type AnchorResult struct {
	Payload      AnchorPayload `json:"payload"`
	Confirmation struct {
		ID   string    `json:"id"`
		Sink string    `json:"sink"`
		At   time.Time `json:"at"`
	} `json:"confirmation"`
}

// Client is the protrace SDK entry point.
type Client struct {
	base        string
	httpClient  *http.Client
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return fmt.Errorf("http client is nil")
		}
		c.httpClient = hc
		return nil
	}
}

// WithTimeout sets the request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{Timeout: d}
		return nil
	}
}

// WithBearerToken attaches a platform token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// New creates a Client for the server at base.
//
//	c, err := client.New("http://localhost:8080", client.WithBearerToken(tok))
func New(base string, opts ...Option) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", base)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Fingerprint computes the fingerprint of image on the server.
func (c *Client) Fingerprint(ctx context.Context, image []byte) (*Fingerprint, error) {
	var out Fingerprint
	if err := c.upload(ctx, "/api/v1/dna", image, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Compare compares two fingerprints. thresholdBits < 0 uses the server default.
func (c *Client) Compare(ctx context.Context, a, b dna.DNA, thresholdBits int) (*Comparison, error) {
	body := map[string]any{"a": a.String(), "b": b.String()}
	if thresholdBits >= 0 {
		body["threshold_bits"] = thresholdBits
	}
	var out Comparison
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/dna/compare", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Register submits image for registration. A duplicate comes back as a
// result with Status == StatusRejected, not as an error.
func (c *Client) Register(ctx context.Context, image []byte, opts RegisterOptions) (*RegisterResult, error) {
	fields := map[string]string{}
	if opts.Identifier != "" {
		fields["identifier"] = opts.Identifier
	}
	if opts.PlatformID != "" {
		fields["platform_id"] = opts.PlatformID
	}
	if opts.ThresholdBits != nil {
		fields["threshold_bits"] = strconv.Itoa(*opts.ThresholdBits)
	}

	req, err := newUploadRequest(ctx, c.base+"/api/v1/registrations", image, fields)
	if err != nil {
		return nil, err
	}
	status, body, err := c.doStatusBody(req)
	if err != nil {
		return nil, err
	}

	var out RegisterResult
	switch status {
	case http.StatusCreated, http.StatusOK:
	case http.StatusConflict:
		// 409 carries either a rejected result or an error message.
		if json.Unmarshal(body, &out) == nil && out.Status == StatusRejected {
			return &out, nil
		}
		return nil, apiError(status, body)
	default:
		return nil, apiError(status, body)
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode registration: %w", err)
	}
	return &out, nil
}

// Check reports the best match for image without registering it.
// thresholdBits < 0 uses the server default.
func (c *Client) Check(ctx context.Context, image []byte, thresholdBits int) (*CheckResult, error) {
	var fields map[string]string
	if thresholdBits >= 0 {
		fields = map[string]string{"threshold_bits": strconv.Itoa(thresholdBits)}
	}
	var out CheckResult
	if err := c.upload(ctx, "/api/v1/registrations/check", image, fields, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRegistration fetches a stored entry.
func (c *Client) GetRegistration(ctx context.Context, identifier string) (*Entry, error) {
	var out Entry
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/registrations/"+url.PathEscape(identifier), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Tree returns the current root and leaf count.
func (c *Client) Tree(ctx context.Context) (*TreeInfo, error) {
	var out TreeInfo
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/tree", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Proof fetches the inclusion proof for leaf idx.
func (c *Client) Proof(ctx context.Context, idx int) (*ProofBundle, error) {
	var out ProofBundle
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/tree/proofs/"+strconv.Itoa(idx), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ProofFor fetches the inclusion proof for a registered identifier.
func (c *Client) ProofFor(ctx context.Context, identifier string) (*ProofBundle, error) {
	var out ProofBundle
	path := "/api/v1/registrations/" + url.PathEscape(identifier) + "/proof"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Manifest downloads the full tree manifest with proofs.
func (c *Client) Manifest(ctx context.Context) (*merkle.Manifest, error) {
	var out merkle.Manifest
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/tree/manifest", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyRemote asks the server to verify a proof.
func (c *Client) VerifyRemote(ctx context.Context, leaf merkle.Leaf, proof merkle.Proof, root merkle.Hash) (bool, error) {
	body := map[string]any{"leaf": leaf, "proof": proof, "root": root}
	var out struct {
		Valid bool `json:"valid"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/tree/verify", body, &out); err != nil {
		return false, err
	}
	return out.Valid, nil
}

// Anchor anchors the current root.
func (c *Client) Anchor(ctx context.Context) (*AnchorResult, error) {
	var out AnchorResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/anchors", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyAnchors checks the anchor ledger chain. The string is the server's
// reason when the chain is broken.
func (c *Client) VerifyAnchors(ctx context.Context) (bool, string, error) {
	var out struct {
		Valid bool   `json:"valid"`
		Error string `json:"error"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/anchors/verify", nil, &out); err != nil {
		return false, "", err
	}
	return out.Valid, out.Error, nil
}

// ── internal HTTP helpers ───────────────────────────────────────────────

func (c *Client) doJSON(ctx context.Context, method, path string, reqBody, respBody any) error {
	var rd io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	body, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, respBody); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) upload(ctx context.Context, path string, image []byte, fields map[string]string, respBody any) error {
	req, err := newUploadRequest(ctx, c.base+path, image, fields)
	if err != nil {
		return err
	}
	body, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, respBody); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func newUploadRequest(ctx context.Context, endpoint string, image []byte, fields map[string]string) (*http.Request, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("write field %s: %w", k, err)
		}
	}
	fw, err := w.CreateFormFile("image", "image")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(image); err != nil {
		return nil, fmt.Errorf("write image: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	status, body, err := c.doStatusBody(req)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, apiError(status, body)
	}
	return body, nil
}

func (c *Client) doStatusBody(req *http.Request) (int, []byte, error) {
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func apiError(status int, body []byte) error {
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &APIError{StatusCode: status, Message: msg}
}
