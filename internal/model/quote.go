package model

import "time"

// QuoteRequest is the body of POST /estimate.
type QuoteRequest struct {
	Zip         string   `json:"zip" validate:"required,min=5,max=10"`
	Description string   `json:"description" validate:"required,min=3,max=5000"`
	ImageURLs   []string `json:"image_urls" validate:"omitempty,dive,required,http_url"`
}

// QuoteResponse is what the widget renders. It has the same shape whether
// the model answered or the fallback was used.
type QuoteResponse struct {
	Serviceable  bool           `json:"serviceable"`
	CustomerLine string         `json:"customer_line"`
	Data         map[string]any `json:"data"`
}

// QuoteRecord is the immutable audit record written once per successful
// model call.
type QuoteRecord struct {
	ID           string         `json:"id"`
	CreatedAt    time.Time      `json:"created_at"`
	ClientIP     string         `json:"client_ip"`
	Zip          string         `json:"zip"`
	ImageCount   int            `json:"image_count"`
	Serviceable  bool           `json:"serviceable"`
	CustomerLine string         `json:"customer_line"`
	RawText      string         `json:"raw_text"`
	Data         map[string]any `json:"data"`
	Extracted    bool           `json:"extracted"`
	Request      QuoteRequest   `json:"request"`
	Model        string         `json:"model"`
	Timing       Timing         `json:"timing"`
	Usage        Usage          `json:"usage"`
}

// Timing holds wall-clock durations in milliseconds.
type Timing struct {
	ModelMS int64 `json:"model_ms"`
	TotalMS int64 `json:"total_ms"`
}

// Usage is the token accounting reported by the model provider.
type Usage struct {
	InputTokens      int64   `json:"input_tokens"`
	OutputTokens     int64   `json:"output_tokens"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// UploadClaim is the client-declared metadata for one file of a batch. The
// widget sends it JSON-encoded in the clientPayload string of a sign request.
type UploadClaim struct {
	Size       int64  `json:"size"`
	BatchTotal int64  `json:"batchTotal"`
	Type       string `json:"type"`
	BatchID    string `json:"batchId"`
}

// SignRequest is the body of POST /blob/sign.
type SignRequest struct {
	Pathname      string `json:"pathname"`
	ClientPayload string `json:"clientPayload"`
}

// SignedUpload tells the widget where and how to PUT one file.
type SignedUpload struct {
	URL       string            `json:"url"`
	Key       string            `json:"key"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers"`
	ExpiresIn int               `json:"expires_in"`
	PublicURL string            `json:"public_url"`
}

// QuoteSummary is one row of the admin listing, derived from the object key
// and store metadata without fetching the record body.
type QuoteSummary struct {
	Key        string    `json:"key"`
	URL        string    `json:"url"`
	ID         string    `json:"id"`
	Zip        string    `json:"zip"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploaded_at"`
}
