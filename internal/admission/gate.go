// Package admission decides, before any costly external call, whether a
// request may proceed: method, origin, per-client rate, body shape, and
// per-batch upload limits.
package admission

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/estimator/internal/model"
)

// Rejection is a gate failure. It carries the HTTP status to answer with and
// marshals to the response body.
type Rejection struct {
	Status     int           `json:"-"`
	Code       string        `json:"error"`
	Message    string        `json:"message,omitempty"`
	Issues     []Issue       `json:"issues,omitempty"`
	RetryAfter time.Duration `json:"-"`
	Allow      string        `json:"-"`
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("admission: %d %s", r.Status, r.Code)
}

// Limits bounds request bodies and uploads.
type Limits struct {
	MaxBodyBytes        int64
	MaxFileBytes        int64
	MaxBatchBytes       int64
	AllowedContentTypes []string
}

// Gate runs the admission pipeline. The limiter and batch counter are
// injected so tests can use fresh instances with a fake clock.
type Gate struct {
	origins   OriginPolicy
	limiter   Limiter
	batches   BatchCounter
	validator *RequestValidator
	limits    Limits
	types     map[string]struct{}
}

// NewGate wires a Gate.
func NewGate(origins OriginPolicy, limiter Limiter, batches BatchCounter, v *RequestValidator, limits Limits) *Gate {
	if limits.MaxBodyBytes <= 0 {
		limits.MaxBodyBytes = 1 << 20
	}
	types := make(map[string]struct{}, len(limits.AllowedContentTypes))
	for _, t := range limits.AllowedContentTypes {
		types[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}
	return &Gate{
		origins:   origins,
		limiter:   limiter,
		batches:   batches,
		validator: v,
		limits:    limits,
		types:     types,
	}
}

// Origins returns the gate's origin policy.
func (g *Gate) Origins() OriginPolicy { return g.origins }

// Admitted is a quote request that passed the gate.
type Admitted struct {
	Request  model.QuoteRequest
	ClientIP string
}

// AdmitQuote runs method, origin, rate, body and schema checks in that
// order. The rate slot is consumed before the body is read, so a request
// that fails schema validation still counts against the client.
func (g *Gate) AdmitQuote(r *http.Request) (*Admitted, error) {
	if r.Method != http.MethodPost {
		return nil, methodNotAllowed()
	}
	if !g.origins.Allowed(r.Header.Get("Origin")) {
		return nil, forbidden()
	}

	ip := ClientIP(r)
	if d := g.limiter.Admit(ip); !d.Allowed {
		zap.L().Info("admission: rate limited",
			zap.String("client_ip", ip),
			zap.Duration("retry_after", d.RetryAfter),
		)
		return nil, &Rejection{
			Status:     http.StatusTooManyRequests,
			Code:       "too many requests",
			Message:    "Please try again later.",
			RetryAfter: d.RetryAfter,
		}
	}

	body, err := readBody(r, g.limits.MaxBodyBytes)
	if err != nil {
		return nil, cannotProcess()
	}
	req, issues, err := g.validator.ParseQuote(body)
	if err != nil {
		return nil, cannotProcess()
	}
	if len(issues) > 0 {
		return nil, &Rejection{
			Status:  http.StatusBadRequest,
			Code:    "invalid request",
			Message: "Please check your details and try again.",
			Issues:  issues,
		}
	}

	return &Admitted{Request: req, ClientIP: ip}, nil
}

var batchIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// UploadAdmitted is a sign request that passed the gate.
type UploadAdmitted struct {
	Pathname string
	Claim    model.UploadClaim
	// Count is the number of files admitted for the batch, this one included.
	Count int
}

// AdmitUpload checks method and origin, then the client-declared size, type
// and batch file count. The batch counter only moves once every other check
// has passed. The per-client rate limit does not apply here.
func (g *Gate) AdmitUpload(r *http.Request) (*UploadAdmitted, error) {
	if r.Method != http.MethodPost {
		return nil, methodNotAllowed()
	}
	if !g.origins.Allowed(r.Header.Get("Origin")) {
		return nil, forbidden()
	}

	body, err := readBody(r, g.limits.MaxBodyBytes)
	if err != nil {
		return nil, invalidPayload("Could not read upload request.")
	}
	var sr model.SignRequest
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, invalidPayload("Upload request must be a JSON object.")
	}
	var claim model.UploadClaim
	if err := json.Unmarshal([]byte(sr.ClientPayload), &claim); err != nil {
		return nil, invalidPayload("clientPayload must be a JSON object.")
	}
	if !batchIDPattern.MatchString(claim.BatchID) {
		return nil, invalidPayload("batchId is missing or invalid.")
	}

	if claim.Size <= 0 || (g.limits.MaxFileBytes > 0 && claim.Size > g.limits.MaxFileBytes) {
		return nil, uploadRejection("file_too_large",
			fmt.Sprintf("Each photo must be under %s.", humanBytes(g.limits.MaxFileBytes)))
	}
	if g.limits.MaxBatchBytes > 0 && claim.BatchTotal > g.limits.MaxBatchBytes {
		return nil, uploadRejection("batch_too_large",
			fmt.Sprintf("All photos together must be under %s.", humanBytes(g.limits.MaxBatchBytes)))
	}
	claim.Type = strings.ToLower(strings.TrimSpace(claim.Type))
	if _, ok := g.types[claim.Type]; !ok {
		return nil, uploadRejection("unsupported_type", "Please upload JPEG, PNG or WebP photos.")
	}

	n, err := g.batches.RecordUpload(claim.BatchID)
	if err != nil {
		if errors.Is(err, ErrBatchFull) {
			return nil, uploadRejection("too_many_files", "Too many photos in this upload.")
		}
		return nil, err
	}

	return &UploadAdmitted{Pathname: sr.Pathname, Claim: claim, Count: n}, nil
}

func readBody(r *http.Request, max int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	b, err := io.ReadAll(io.LimitReader(r.Body, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > max {
		return nil, errors.New("body too large")
	}
	return b, nil
}

func methodNotAllowed() *Rejection {
	return &Rejection{
		Status: http.StatusMethodNotAllowed,
		Code:   "method not allowed",
		Allow:  "POST, OPTIONS",
	}
}

func forbidden() *Rejection {
	return &Rejection{Status: http.StatusForbidden, Code: "forbidden"}
}

func cannotProcess() *Rejection {
	return &Rejection{Status: http.StatusBadRequest, Code: "could not process request"}
}

func invalidPayload(msg string) *Rejection {
	return uploadRejection("invalid_payload", msg)
}

func uploadRejection(code, msg string) *Rejection {
	return &Rejection{Status: http.StatusBadRequest, Code: code, Message: msg}
}

func humanBytes(n int64) string {
	const mb = 1 << 20
	if n >= mb && n%mb == 0 {
		return fmt.Sprintf("%d MB", n/mb)
	}
	return fmt.Sprintf("%d bytes", n)
}
