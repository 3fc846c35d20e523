package rest

import (
	"context"
	"errors"
	"net/http"

	"github.com/KevinKickass/OpenLaserCore/internal/device"
	"github.com/KevinKickass/OpenLaserCore/internal/dispatcher"
	"github.com/KevinKickass/OpenLaserCore/internal/job"
	"github.com/KevinKickass/OpenLaserCore/internal/types"
	"github.com/gin-gonic/gin"
)

// respondError maps dispatcher, device and job errors onto API errors.
func respondError(c *gin.Context, message string, err error) {
	status, code := classify(err)
	c.Error(err)
	c.JSON(status, types.NewErrorResponse(code, message, err.Error()))
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, dispatcher.ErrNotConnected),
		errors.Is(err, device.ErrInvalidState),
		errors.Is(err, device.ErrPositionUnknown),
		errors.Is(err, device.ErrAmbiguousDevice):
		return http.StatusConflict, types.CodeDeviceConflict
	case errors.Is(err, device.ErrOutOfRange),
		errors.Is(err, device.ErrMissingConfiguration):
		return http.StatusBadRequest, types.CodeDeviceInvalid
	case errors.Is(err, device.ErrNoDeviceFound):
		return http.StatusNotFound, types.CodeDeviceNotFound
	case errors.Is(err, dispatcher.ErrNoJob):
		return http.StatusNotFound, types.CodeJobNotFound
	case errors.Is(err, dispatcher.ErrNotPaused),
		errors.Is(err, dispatcher.ErrNotPausable),
		errors.Is(err, job.ErrAlreadyRunning),
		errors.Is(err, job.ErrFinished):
		return http.StatusConflict, types.CodeJobConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, types.CodeDeviceTimeout
	default:
		return http.StatusBadGateway, types.CodeDeviceFailure
	}
}

func badRequest(c *gin.Context, message string, err error) {
	c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, message, err.Error()))
}
