package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/agentpass/agentpass/backend/internal/shared/types"
	"github.com/go-resty/resty/v2"
)

// CreateEscalation registers a new escalation with the platform and returns
// the platform-assigned record.
func (c *Client) CreateEscalation(ctx context.Context, agent types.AgentIdentity, captchaType, screenshot string) (record *EscalationRecord, err error) {
	defer func(start time.Time) { c.observe("create_escalation", start, err) }(time.Now())

	body := map[string]interface{}{
		"agentId":     agent.ID,
		"agentName":   agent.Name,
		"captchaType": captchaType,
	}
	if screenshot != "" {
		body["screenshot"] = screenshot
	}

	var out EscalationRecord
	if err = c.do("create escalation", func() (*resty.Response, error) {
		return c.request(ctx).
			SetBody(body).
			SetResult(&out).
			Post("/escalations")
	}); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetEscalationStatus reads the remote status of an escalation.
func (c *Client) GetEscalationStatus(ctx context.Context, id string) (status *EscalationStatus, err error) {
	defer func(start time.Time) { c.observe("get_escalation_status", start, err) }(time.Now())

	var out EscalationStatus
	if err = c.do("get escalation status", func() (*resty.Response, error) {
		return c.request(ctx).
			SetResult(&out).
			Get(fmt.Sprintf("/escalations/%s/status", id))
	}); err != nil {
		return nil, err
	}
	return &out, nil
}
