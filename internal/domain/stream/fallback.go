package stream

import (
	"context"
	"encoding/base64"
	"time"

	"go.uber.org/zap"

	"github.com/agentpass/agentpass/backend/internal/persistence"
	"github.com/agentpass/agentpass/backend/internal/shared/types"
)

const dataURLPrefix = "data:image/jpeg;base64,"

// runFallback streams over plain HTTP: screenshots pushed on one ticker,
// commands polled on another. The two cadences are independent and a missed
// beat is simply skipped, not retried.
func (c *Channel) runFallback(ctx context.Context, sess *session) {
	c.pushScreenshot(ctx, sess)

	screenshots := time.NewTicker(c.cfg.ScreenshotInterval)
	defer screenshots.Stop()
	commands := time.NewTicker(c.cfg.CommandPollInterval)
	defer commands.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-screenshots.C:
			c.pushScreenshot(ctx, sess)
		case <-commands.C:
			c.pollCommands(ctx, sess)
		}
	}
}

func (c *Channel) pushScreenshot(ctx context.Context, sess *session) {
	shot, err := sess.page.Screenshot(ctx)
	if err != nil {
		c.logger.Debug("screenshot capture failed",
			zap.String("session_id", sess.id),
			zap.Error(err))
		return
	}
	if url, err := sess.page.URL(ctx); err == nil {
		sess.rememberURL(url)
	}

	dataURL := dataURLPrefix + base64.StdEncoding.EncodeToString(shot)
	if err := c.store.UpdateScreenshot(ctx, sess.id, dataURL, sess.lastURL()); err != nil {
		c.logger.Debug("screenshot push failed",
			zap.String("session_id", sess.id),
			zap.Error(err))
		return
	}
	if c.metrics != nil {
		c.metrics.RecordStreamFrame(string(types.ModePolling))
	}
}

// pollCommands drains the pending queue once. Every fetched command gets a
// terminal status so the platform never hands it out again.
func (c *Channel) pollCommands(ctx context.Context, sess *session) {
	records, err := c.store.GetCommands(ctx, sess.id, persistence.CommandPending)
	if err != nil {
		c.logger.Debug("command poll failed",
			zap.String("session_id", sess.id),
			zap.Error(err))
		return
	}

	for _, record := range records {
		status := persistence.CommandExecuted
		cmd, err := types.ParseCommand(record.Type, record.Payload)
		if err != nil {
			c.logger.Warn("discarding malformed command payload",
				zap.String("session_id", sess.id),
				zap.String("command_id", record.ID),
				zap.String("command", record.Type),
				zap.Error(err))
			status = persistence.CommandFailed
		} else if err := Execute(ctx, sess.page, cmd); err != nil {
			c.logger.Warn("command execution failed",
				zap.String("session_id", sess.id),
				zap.String("command_id", record.ID),
				zap.String("command", record.Type),
				zap.Error(err))
			status = persistence.CommandFailed
		}
		if c.metrics != nil {
			result := "executed"
			if status == persistence.CommandFailed {
				result = "failed"
			}
			c.metrics.RecordStreamCommand(record.Type, result)
		}

		if err := c.store.UpdateCommandStatus(ctx, sess.id, record.ID, status); err != nil {
			c.logger.Debug("command status report failed",
				zap.String("session_id", sess.id),
				zap.String("command_id", record.ID),
				zap.Error(err))
		}
	}
}
