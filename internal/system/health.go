package system

import (
	"github.com/KevinKickass/OpenLaserCore/internal/device"
	"github.com/KevinKickass/OpenLaserCore/internal/dispatcher"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// DeviceService is the health service name tracking the engraver.
const DeviceService = "openlasercore.Device"

// servingStatus is SERVING while the device can take or is running jobs.
func servingStatus(s device.Status) healthpb.HealthCheckResponse_ServingStatus {
	switch s {
	case device.StatusReady, device.StatusExecuting:
		return healthpb.HealthCheckResponse_SERVING
	default:
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
}

type healthReporter struct {
	server *health.Server
}

func newHealthReporter() *healthReporter {
	r := &healthReporter{server: health.NewServer()}
	r.set(device.StatusDisconnected)
	return r
}

func (r *healthReporter) set(s device.Status) {
	status := servingStatus(s)
	r.server.SetServingStatus("", status)
	r.server.SetServingStatus(DeviceService, status)
}

// Handle is a dispatcher listener.
func (r *healthReporter) Handle(ev dispatcher.Event) {
	if ev.Type != dispatcher.EventDeviceStatus || ev.Status == nil {
		return
	}
	r.set(*ev.Status)
}
