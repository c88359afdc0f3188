package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/user/edgegate/internal/apperr"
	"github.com/user/edgegate/internal/util"
)

// errorResponse is the body of every failed request. Result carries the
// partial outcome when the operation produced one.
type errorResponse struct {
	Error    string      `json:"error"`
	Message  string      `json:"message"`
	Upstream int         `json:"upstream_status,omitempty"`
	Result   interface{} `json:"result,omitempty"`
}

var kindStatus = map[apperr.Kind]int{
	apperr.KindValidation:     http.StatusBadRequest,
	apperr.KindAuthentication: http.StatusUnauthorized,
	apperr.KindTenant:         http.StatusForbidden,
	apperr.KindUpstream:       http.StatusBadGateway,
	apperr.KindConnection:     http.StatusBadGateway,
	apperr.KindTimeout:        http.StatusGatewayTimeout,
	apperr.KindParse:          http.StatusBadGateway,
}

var kindMessage = map[apperr.Kind]string{
	apperr.KindAuthentication: "authentication failed",
	apperr.KindUpstream:       "controller request failed",
	apperr.KindConnection:     "could not connect to the target",
	apperr.KindTimeout:        "operation timed out",
	apperr.KindParse:          "unrecognized response from the target",
	apperr.KindUnknown:        "internal error",
}

// httpStatus maps an error kind onto an HTTP status.
func httpStatus(kind apperr.Kind) int {
	if st, ok := kindStatus[kind]; ok {
		return st
	}
	return http.StatusInternalServerError
}

// publicMessage is what callers see. Only validation and tenant errors carry
// their own message, since those describe the caller's input.
func publicMessage(err error) string {
	kind := apperr.KindOf(err)
	var e *apperr.Error
	if (kind == apperr.KindValidation || kind == apperr.KindTenant) && errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	if msg, ok := kindMessage[kind]; ok {
		return msg
	}
	return kindMessage[apperr.KindUnknown]
}

func writeError(c *gin.Context, err error, partial interface{}) {
	kind := apperr.KindOf(err)
	status := httpStatus(kind)
	if status >= http.StatusInternalServerError {
		util.WithFields(util.Fields{
			"request_id": c.GetString("request_id"),
			"kind":       kind,
			"error":      err.Error(),
		}).Warn("request error")
	}

	resp := errorResponse{Error: string(kind), Message: publicMessage(err), Result: partial}
	if kind == apperr.KindUpstream {
		resp.Upstream = apperr.StatusOf(err)
	}
	c.AbortWithStatusJSON(status, resp)
}

func badRequest(c *gin.Context, format string, args ...interface{}) {
	writeError(c, apperr.Validationf("request", format, args...), nil)
}
