package controller

import (
	"context"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/polygate/polygate/common"
	"github.com/polygate/polygate/common/config"
	relaymodel "github.com/polygate/polygate/relay/model"
)

type toolExecuteRequest struct {
	ToolUseID  string `json:"tool_use_id"`
	Command    string `json:"command"`
	WorkingDir string `json:"working_dir,omitempty"`
}

type toolExecuteResponse struct {
	Type      string `json:"type"`
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

// RelayToolsExecute serves POST /w/v1/tools/execute: it runs the command in
// a shell with a bounded deadline and returns a canonical tool_result. The
// endpoint is disabled unless the operator opts in.
func RelayToolsExecute(c *gin.Context) {
	if !config.ToolExecuteEnabled {
		RenderError(c, &relaymodel.ErrorWithStatusCode{
			Error: relaymodel.Error{
				Type:    relaymodel.ErrClient,
				Message: "tool execution is disabled",
			},
			StatusCode: http.StatusForbidden,
		})
		return
	}

	var request toolExecuteRequest
	if err := common.UnmarshalBodyReusable(c, &request); err != nil {
		RenderError(c, relaymodel.NewClientError(err))
		return
	}
	if request.ToolUseID == "" || strings.TrimSpace(request.Command) == "" {
		RenderError(c, relaymodel.NewClientError(errors.New("tool_use_id and command are required")))
		return
	}

	ctx, cancel := context.WithTimeout(gmw.Ctx(c), config.ToolExecuteTimeout)
	defer cancel()

	startedAt := time.Now()
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", request.Command)
	if request.WorkingDir != "" {
		cmd.Dir = request.WorkingDir
	}
	output, err := cmd.CombinedOutput()

	content := string(output)
	isError := err != nil
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		content = strings.TrimSpace(content + "\ncommand timed out after " + config.ToolExecuteTimeout.String())
		isError = true
	} else if err != nil && content == "" {
		content = err.Error()
	}

	gmw.GetLogger(c).Info("tool executed",
		zap.String("tool_use_id", request.ToolUseID),
		zap.Bool("is_error", isError),
		zap.Duration("duration", time.Since(startedAt)))

	c.JSON(http.StatusOK, toolExecuteResponse{
		Type:      "tool_result",
		ToolUseID: request.ToolUseID,
		Content:   content,
		IsError:   isError,
	})
}
