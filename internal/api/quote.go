package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/estimator/internal/admission"
	"github.com/sells-group/estimator/internal/model"
	"github.com/sells-group/estimator/internal/store"
)

// handleEstimate admits the request and answers with a quote. Once past
// the gate the response is always 200.
func (s *server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	adm, err := s.gate.AdmitQuote(r)
	if err != nil {
		respondRejection(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.quotes.Quote(r.Context(), adm.Request, adm.ClientIP))
}

// handleSign grants a direct upload for one photo of a batch.
func (s *server) handleSign(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if s.uploads == nil {
		respondError(w, http.StatusNotImplemented, "uploads not supported",
			"This store cannot accept direct uploads.")
		return
	}
	adm, err := s.gate.AdmitUpload(r)
	if err != nil {
		respondRejection(w, err)
		return
	}

	key := store.UploadKey(adm.Claim.BatchID, adm.Pathname, adm.Claim.Type)
	p, err := s.uploads.PresignUpload(r.Context(), key, adm.Claim.Type, adm.Claim.Size)
	if err != nil {
		zap.L().Error("api: presign upload failed",
			zap.String("key", key),
			zap.String("client_ip", admission.ClientIP(r)),
			zap.Error(err),
		)
		respondError(w, http.StatusInternalServerError, "upload unavailable",
			"Could not prepare the upload. Please try again.")
		return
	}

	zap.L().Info("api: upload signed",
		zap.String("key", key),
		zap.String("batch_id", adm.Claim.BatchID),
		zap.Int("batch_count", adm.Count),
		zap.Int64("size", adm.Claim.Size),
	)
	respondJSON(w, http.StatusOK, model.SignedUpload{
		URL:       p.URL,
		Key:       key,
		Method:    p.Method,
		Headers:   p.Headers,
		ExpiresIn: int(p.ExpiresIn.Seconds()),
		PublicURL: s.records.Store().URL(key),
	})
}
