package admission

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/estimator/internal/model"
)

// Issue is one machine-readable validation failure.
type Issue struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errMalformed marks a body that is not UTF-8 JSON at all.
var errMalformed = errors.New("malformed body")

// RequestValidator decodes and validates quote requests.
type RequestValidator struct {
	v         *validator.Validate
	maxImages int
}

// NewRequestValidator creates a validator capping image_urls at maxImages.
func NewRequestValidator(maxImages int) *RequestValidator {
	if maxImages <= 0 {
		maxImages = 8
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &RequestValidator{v: v, maxImages: maxImages}
}

// ParseQuote decodes body into a QuoteRequest. It returns errMalformed for
// bodies that are not valid UTF-8 JSON, and a non-empty issue list for
// bodies that parse but violate the request shape. An empty body is an
// empty object.
func (rv *RequestValidator) ParseQuote(body []byte) (model.QuoteRequest, []Issue, error) {
	var req model.QuoteRequest

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		body = []byte("{}")
	}
	if !utf8.Valid(body) || !json.Valid(body) {
		return req, nil, errMalformed
	}
	if body[0] != '{' {
		return req, []Issue{{Code: "type", Message: "request body must be a JSON object"}}, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return req, nil, errMalformed
	}

	typed := map[string]bool{}
	var issues []Issue
	for _, f := range []struct {
		name string
		dst  any
	}{
		{"zip", &req.Zip},
		{"description", &req.Description},
		{"image_urls", &req.ImageURLs},
	} {
		v, ok := raw[f.name]
		if !ok {
			continue
		}
		if err := json.Unmarshal(v, f.dst); err != nil {
			var ute *json.UnmarshalTypeError
			if !errors.As(err, &ute) {
				return req, nil, errMalformed
			}
			typed[f.name] = true
			issues = append(issues, Issue{
				Field:   f.name,
				Code:    "type",
				Message: fmt.Sprintf("%s must be a %s", f.name, expectedType(f.name)),
			})
		}
	}

	req.Zip = strings.TrimSpace(req.Zip)
	req.Description = norm.NFC.String(strings.TrimSpace(req.Description))

	if err := rv.v.Struct(req); err != nil {
		var ves validator.ValidationErrors
		if !errors.As(err, &ves) {
			return req, nil, err
		}
		for _, fe := range ves {
			field, _, _ := strings.Cut(fe.Field(), "[")
			if typed[field] {
				continue
			}
			issues = append(issues, Issue{
				Field:   fe.Field(),
				Code:    fe.Tag(),
				Message: issueMessage(fe),
			})
		}
	}

	if len(req.ImageURLs) > rv.maxImages && !typed["image_urls"] {
		issues = append(issues, Issue{
			Field:   "image_urls",
			Code:    "max",
			Message: fmt.Sprintf("image_urls must contain at most %d items", rv.maxImages),
		})
	}

	return req, issues, nil
}

func expectedType(field string) string {
	if field == "image_urls" {
		return "list of strings"
	}
	return "string"
}

func issueMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "http_url":
		return fe.Field() + " must be an http(s) URL"
	default:
		return fe.Field() + " is invalid"
	}
}
