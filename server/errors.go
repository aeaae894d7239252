package server

import (
	iface "FireDetServer/interface"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, iface.ErrNoFile), errors.Is(err, iface.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, iface.ErrInvalidImage):
		return http.StatusUnprocessableEntity
	case errors.Is(err, iface.ErrCameraBusy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// messageFor keeps client errors descriptive and server errors opaque.
func messageFor(err error) string {
	switch {
	case errors.Is(err, iface.ErrNoFile):
		return iface.ErrNoFile.Error()
	case errors.Is(err, iface.ErrCameraBusy):
		return iface.ErrCameraBusy.Error()
	case errors.Is(err, iface.ErrInference):
		return iface.ErrInference.Error()
	case errors.Is(err, iface.ErrIO):
		return iface.ErrIO.Error()
	case statusFor(err) >= 500:
		return "internal error"
	default:
		return err.Error()
	}
}

func outcomeFor(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, iface.ErrNoFile):
		return "no_file"
	case errors.Is(err, iface.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, iface.ErrInvalidImage):
		return "invalid_image"
	case errors.Is(err, iface.ErrInference):
		return "inference_error"
	case errors.Is(err, iface.ErrIO):
		return "io_error"
	default:
		return "error"
	}
}

func abortWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(statusFor(err), gin.H{"error": messageFor(err)})
}
