package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"colleague-auth/internal/apperrors"
)

// Response is the envelope of every API response. Status is 200 on success
// and the domain error code otherwise; the transport status is only non-200
// for transport level failures such as bad or missing tokens.
type Response struct {
	Status int         `json:"status"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

func respondWithJSON(w http.ResponseWriter, logger *zap.Logger, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

func respondWithResult(w http.ResponseWriter, logger *zap.Logger, result interface{}) {
	respondWithJSON(w, logger, http.StatusOK, Response{Status: http.StatusOK, Result: result})
}

// respondWithError translates err into the envelope. Errors outside the
// domain taxonomy are logged and reported as a generic internal error.
func respondWithError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	appErr := apperrors.From(err)
	if appErr == apperrors.ErrInternal {
		logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	} else {
		logger.Debug("Request rejected",
			zap.String("path", r.URL.Path),
			zap.Int("code", appErr.Code),
			zap.String("error", appErr.Message),
		)
	}
	respondWithJSON(w, logger, appErr.HTTPStatus, Response{Status: appErr.Code, Error: appErr.Message})
}

// decodeJSON reads a JSON body into dst. Unknown fields are ignored.
func decodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.BadRequest("request body is required")
		}
		return apperrors.BadRequest("invalid request body")
	}
	return nil
}
