package mockapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/supplyops/opsconsole/internal/common/logtrace"
)

// Error represents an HTTP error response with status code and description.
type Error struct {
	Description string `json:"description"`
	StatusCode  int    `json:"http_status_code"`
}

type errorRsp struct {
	Result int    `json:"result"`
	Error  string `json:"error"`
}

// Failure represents the error result code in error responses.
const Failure int = 0

// Send writes the error response to w.
func (e *Error) Send(w http.ResponseWriter) {
	rspJson, err := json.Marshal(&errorRsp{Result: Failure, Error: e.Description})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Unable to encode error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	w.Write(rspJson)
}

// Error returns the error description.
func (e *Error) Error() string {
	return e.Description
}

// SendJsonRsp sends msg as JSON with the given status code.
func SendJsonRsp(ctx context.Context, w http.ResponseWriter, statusCode int, msg any) {
	msgJson, err := json.Marshal(msg)
	if err != nil {
		log.Ctx(ctx).Err(err).Msg("unable to marshal json")
		ErrApplicationError("unable to encode response, id: " + logtrace.RequestIDFromContext(ctx)).Send(w)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(msgJson)
}

func ErrUnableToParseReqData() *Error {
	return &Error{Description: "unable to parse request data", StatusCode: http.StatusBadRequest}
}

func ErrUnableToReadRequest() *Error {
	return &Error{Description: "unable to read request", StatusCode: http.StatusBadRequest}
}

func ErrInvalidCredentials() *Error {
	return &Error{Description: "invalid credentials", StatusCode: http.StatusUnauthorized}
}

func ErrInvalidRefreshToken() *Error {
	return &Error{Description: "invalid refresh token", StatusCode: http.StatusUnauthorized}
}

func ErrTokenExpired() *Error {
	return &Error{Description: "token expired", StatusCode: http.StatusUnauthorized}
}

func ErrApplicationError(msg string) *Error {
	return &Error{Description: msg, StatusCode: http.StatusInternalServerError}
}
