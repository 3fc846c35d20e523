package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/KevinKickass/OpenLaserCore/internal/config"
	"github.com/KevinKickass/OpenLaserCore/internal/device"
	"github.com/KevinKickass/OpenLaserCore/internal/dispatcher"
	"github.com/KevinKickass/OpenLaserCore/internal/job"
	"github.com/KevinKickass/OpenLaserCore/internal/planner"
	"github.com/KevinKickass/OpenLaserCore/internal/raster"
	"github.com/KevinKickass/OpenLaserCore/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxImageBytes = 16 << 20

var errUnknownPreset = errors.New("unknown preset")

// start hands j to the dispatcher. Jobs run until done, so the response is
// sent right away and the outcome follows as job_status notifications.
func (s *Server) start(c *gin.Context, j *job.Job) {
	result, err := s.dispatcher.Start(j)
	if err != nil {
		respondError(c, "Failed to start job", err)
		return
	}

	go func() {
		if err := <-result; err != nil && j.Status() != job.StatusFailed {
			s.logger.Warn("Job did not run",
				zap.String("job_id", j.ID().String()),
				zap.Error(err))
		}
	}()

	c.JSON(http.StatusAccepted, dispatcher.Snapshot(j))
}

// POST /api/v1/jobs/homing
func (s *Server) startHoming(c *gin.Context) {
	s.start(c, job.NewHoming())
}

// POST /api/v1/jobs/move
func (s *Server) startMove(c *gin.Context) {
	var req struct {
		X *int `json:"x" binding:"required"`
		Y *int `json:"y" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	s.start(c, job.NewMoveAbsolute(device.Point{X: *req.X, Y: *req.Y}))
}

// POST /api/v1/jobs/framing
func (s *Server) startFraming(c *gin.Context) {
	var req struct {
		X           int `json:"x"`
		Y           int `json:"y"`
		Width       int `json:"width" binding:"required,gt=0"`
		Height      int `json:"height" binding:"required,gt=0"`
		StepDelayMs int `json:"step_delay_ms" binding:"gte=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	frame := job.Rect{X: req.X, Y: req.Y, Width: req.Width, Height: req.Height}
	s.start(c, job.NewFraming(frame, time.Duration(req.StepDelayMs)*time.Millisecond))
}

type burnRequest struct {
	Power                   *uint8  `json:"power"`
	Duration                *uint8  `json:"duration"`
	FixedIntensityThreshold *uint8  `json:"fixed_intensity_threshold"`
	PlottingMode            *string `json:"plotting_mode"`
	IntensityMode           *string `json:"intensity_mode"`
	StepDelayMs             *int    `json:"step_delay_ms"`
}

type engraveRequest struct {
	Offset device.Vector           `json:"offset"`
	Preset string                  `json:"preset"`
	Burn   *burnRequest            `json:"burn"`
	Points []*planner.EngravePoint `json:"points"`
}

// resolveBurn starts from the configured defaults, replaces them with the
// named preset and applies explicit overrides last.
func (s *Server) resolveBurn(preset string, override *burnRequest) (config.BurnConfig, error) {
	burn := s.cfg.Burn
	if preset != "" {
		p, ok := s.presets.Get(preset)
		if !ok {
			return burn, fmt.Errorf("%w: %q", errUnknownPreset, preset)
		}
		burn = p.Burn
	}

	if o := override; o != nil {
		if o.Power != nil {
			burn.Power = *o.Power
		}
		if o.Duration != nil {
			burn.Duration = *o.Duration
		}
		if o.FixedIntensityThreshold != nil {
			burn.FixedIntensityThreshold = *o.FixedIntensityThreshold
		}
		if o.PlottingMode != nil {
			burn.PlottingMode = *o.PlottingMode
		}
		if o.IntensityMode != nil {
			burn.IntensityMode = *o.IntensityMode
		}
		if o.StepDelayMs != nil {
			burn.StepDelay = time.Duration(*o.StepDelayMs) * time.Millisecond
		}
	}

	return burn, burn.Validate()
}

func (s *Server) respondBurnError(c *gin.Context, err error) {
	if errors.Is(err, errUnknownPreset) {
		c.JSON(http.StatusNotFound, types.NewErrorResponse(types.CodePresetNotFound, "Preset not found", err.Error()))
		return
	}
	badRequest(c, "Invalid burn configuration", err)
}

func (s *Server) startEngraveJob(c *gin.Context, burn config.BurnConfig, offset device.Vector, points []*planner.EngravePoint) {
	j, err := job.NewEngrave(job.EngraveOptions{
		MaxPowerMw: s.cfg.Device.MaxPowerMw,
		Burn:       burn,
		Offset:     offset,
	}, points)
	if err != nil {
		badRequest(c, "Invalid engrave job", err)
		return
	}
	s.start(c, j)
}

// POST /api/v1/jobs/engrave
func (s *Server) startEngrave(c *gin.Context) {
	data, err := c.GetRawData()
	if err != nil {
		badRequest(c, "Failed to read request body", err)
		return
	}
	if err := s.validator.validateEngraveJob(data); err != nil {
		badRequest(c, "Invalid engrave job", err)
		return
	}

	var req engraveRequest
	if err := json.Unmarshal(data, &req); err != nil {
		badRequest(c, "Invalid engrave job", err)
		return
	}
	burn, err := s.resolveBurn(req.Preset, req.Burn)
	if err != nil {
		s.respondBurnError(c, err)
		return
	}
	s.startEngraveJob(c, burn, req.Offset, req.Points)
}

// POST /api/v1/jobs/engrave/image
//
// Multipart form: image (PNG or JPEG), optional preset, offset_x, offset_y,
// intensity_mode and plotting_mode.
func (s *Server) startEngraveImage(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxImageBytes)

	file, err := c.FormFile("image")
	if err != nil {
		badRequest(c, "Missing image", err)
		return
	}

	var offset device.Vector
	for name, dst := range map[string]*int{"offset_x": &offset.X, "offset_y": &offset.Y} {
		if v := c.PostForm(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				badRequest(c, "Invalid "+name, err)
				return
			}
			*dst = n
		}
	}

	override := &burnRequest{}
	if v := c.PostForm("intensity_mode"); v != "" {
		override.IntensityMode = &v
	}
	if v := c.PostForm("plotting_mode"); v != "" {
		override.PlottingMode = &v
	}
	burn, err := s.resolveBurn(c.PostForm("preset"), override)
	if err != nil {
		s.respondBurnError(c, err)
		return
	}

	f, err := file.Open()
	if err != nil {
		badRequest(c, "Failed to read image", err)
		return
	}
	defer f.Close()

	img, format, err := raster.Decode(f)
	if err != nil {
		badRequest(c, "Unsupported image", err)
		return
	}

	points, err := raster.Points(c.Request.Context(), img, burn)
	if err != nil {
		badRequest(c, "Failed to rasterize image", err)
		return
	}

	s.logger.Info("Image rasterized",
		zap.String("format", format),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()),
		zap.Int("points", len(points)))

	s.startEngraveJob(c, burn, offset, points)
}

// GET /api/v1/jobs/current
func (s *Server) getCurrentJob(c *gin.Context) {
	j := s.dispatcher.CurrentJob()
	if j == nil {
		respondError(c, "No current job", dispatcher.ErrNoJob)
		return
	}
	c.JSON(http.StatusOK, dispatcher.Snapshot(j))
}

// POST /api/v1/jobs/current/cancel
func (s *Server) cancelJob(c *gin.Context) {
	if err := s.dispatcher.CancelJob(); err != nil {
		respondError(c, "Failed to cancel job", err)
		return
	}
	c.JSON(http.StatusAccepted, dispatcher.Snapshot(s.dispatcher.CurrentJob()))
}

// POST /api/v1/jobs/current/pause
func (s *Server) pauseJob(c *gin.Context) {
	if err := s.dispatcher.PauseJob(); err != nil {
		respondError(c, "Failed to pause job", err)
		return
	}
	c.JSON(http.StatusAccepted, dispatcher.Snapshot(s.dispatcher.CurrentJob()))
}

// POST /api/v1/jobs/current/continue
func (s *Server) continueJob(c *gin.Context) {
	result, err := s.dispatcher.Resume()
	if err != nil {
		respondError(c, "Failed to continue job", err)
		return
	}
	j := s.dispatcher.CurrentJob()
	go func() {
		if err := <-result; err != nil {
			s.logger.Warn("Continued job returned error", zap.Error(err))
		}
	}()
	c.JSON(http.StatusAccepted, dispatcher.Snapshot(j))
}

// GET /api/v1/jobs/history?limit=50
func (s *Server) listHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse(types.CodeHistoryOff, "Job history is disabled", nil))
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 1000 {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, "Invalid limit", c.Query("limit")))
		return
	}

	records, err := s.history.ListJobs(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list job history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeHistoryFailure, "Failed to list job history", err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":  records,
		"count": len(records),
	})
}

// GET /api/v1/presets
func (s *Server) listPresets(c *gin.Context) {
	presets := s.presets.List()
	c.JSON(http.StatusOK, gin.H{
		"presets": presets,
		"count":   len(presets),
	})
}
