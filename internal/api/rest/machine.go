package rest

import (
	"net/http"

	"github.com/Teodor85/Tekdaqc-Firmware/internal/api/websocket"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/command"
	"github.com/Teodor85/Tekdaqc-Firmware/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GET /api/v1/state
func (s *Server) getCommandState(c *gin.Context) {
	c.JSON(http.StatusOK, s.inst.Controller().Status())
}

// POST /api/v1/commands
//
// Runs one command line through the same interpreter as the telnet and serial
// consoles. Commands that close the session are refused here.
func (s *Server) executeCommand(c *gin.Context) {
	var req struct {
		Line string `json:"line" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.ErrorCode("COMMAND", http.StatusBadRequest), "Invalid request body", err.Error()))
		return
	}

	kind := command.Unrecognized
	if parsed, err := command.NewParser(s.inst.Dispatcher().Limits()).Parse(req.Line); err == nil {
		kind = parsed.Kind
	}
	if kind == command.Disconnect || kind == command.Upgrade {
		c.JSON(http.StatusConflict, types.NewErrorResponse(types.ErrorCode("COMMAND", http.StatusConflict),
			"Command is only available on a command session", kind.String()))
		return
	}

	resp := s.inst.Dispatcher().Execute(c.Request.Context(), req.Line)
	if resp == nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.ErrorCode("COMMAND", http.StatusBadRequest), "Empty command line", nil))
		return
	}

	status := resp.StatusLine()
	s.logger.Debug("Command executed over REST",
		zap.Stringer("command", resp.Kind),
		zap.String("status", status))
	if s.wsHub != nil {
		s.wsHub.Broadcast(websocket.NewCommandMessage(resp.Kind.String(), status, resp.Lines))
	}

	if resp.Status != command.StatusOK {
		var cause *types.CommandCode
		if resp.Status == command.StatusFunctionError {
			cause = &types.CommandCode{Code: int(resp.Cause), Message: resp.Cause.String()}
		}
		c.JSON(http.StatusUnprocessableEntity, types.NewCommandFailure(resp.Kind.String(), status,
			types.CommandCode{Code: int(resp.Status), Message: resp.Status.String()}, cause, resp.Lines))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"command": resp.Kind.String(),
		"lines":   resp.Lines,
		"status":  status,
	})
}

// GET /api/v1/commands/last-error
func (s *Server) getLastError(c *gin.Context) {
	cause := s.inst.Dispatcher().LastFunctionError()
	c.JSON(http.StatusOK, gin.H{
		"code":    int(cause),
		"message": cause.String(),
	})
}
