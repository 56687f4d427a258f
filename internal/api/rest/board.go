package rest

import (
	"net/http"
	"strconv"

	"github.com/Teodor85/Tekdaqc-Firmware/internal/channel"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/types"
	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
)

const defaultArchiveLimit = 100

// GET /api/v1/board
func (s *Server) getBoard(c *gin.Context) {
	id, err := s.inst.Board().Identity()
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.ErrorCode("BOARD", http.StatusInternalServerError), "Failed to read board identity", err.Error()))
		return
	}

	now := s.inst.Board().Now()
	c.JSON(http.StatusOK, gin.H{
		"identity": id,
		"profile":  s.inst.Board().Profile().Board,
		"channels": s.inst.Board().Profile().Channels,
		"clock":    now,
	})
}

// GET /api/v1/calibration
func (s *Server) getCalibration(c *gin.Context) {
	engine := s.inst.Calibration()
	store := engine.Store()
	header := store.Header()
	thermo := s.inst.Thermometer()

	c.JSON(http.StatusOK, gin.H{
		"valid":             engine.IsCalibrationValid(),
		"programmed":        header.Valid,
		"write_mode":        store.WriteMode(),
		"header":            header,
		"temperature_slots": humanize.Comma(int64(store.Capacity())),
		"temperature": gin.H{
			"current": thermo.Temperature(),
			"min":     thermo.MinTemperature(),
			"max":     thermo.MaxTemperature(),
		},
	})
}

// GET /api/v1/channels
func (s *Server) listChannels(c *gin.Context) {
	banks := s.inst.Banks()
	c.JSON(http.StatusOK, gin.H{
		string(channel.TypeAnalogInput):   banks.Analog.List(),
		string(channel.TypeDigitalInput):  banks.Inputs.List(),
		string(channel.TypeDigitalOutput): banks.Outputs.List(),
	})
}

// GET /api/v1/archive/:type/:number?limit=N
func (s *Server) getArchivedReadings(c *gin.Context) {
	archive := s.inst.Archive()
	if archive == nil {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse(types.ErrorCode("ARCHIVE", http.StatusServiceUnavailable), "Sample archive is not configured", nil))
		return
	}

	typ := channel.Type(c.Param("type"))
	switch typ {
	case channel.TypeAnalogInput, channel.TypeDigitalInput, channel.TypeDigitalOutput:
	default:
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.ErrorCode("ARCHIVE", http.StatusBadRequest), "Unknown channel type", c.Param("type")))
		return
	}

	number, err := strconv.Atoi(c.Param("number"))
	if err != nil || number < 0 {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.ErrorCode("ARCHIVE", http.StatusBadRequest), "Invalid channel number", c.Param("number")))
		return
	}

	limit := defaultArchiveLimit
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.ErrorCode("ARCHIVE", http.StatusBadRequest), "Invalid limit", raw))
			return
		}
	}

	readings, err := archive.RecentReadings(c.Request.Context(), typ, number, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.ErrorCode("ARCHIVE", http.StatusInternalServerError), "Failed to query archive", err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"type":     typ,
		"number":   number,
		"readings": readings,
	})
}
