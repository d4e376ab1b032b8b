package monitor

import (
	"fmt"

	"signal-trader/internal/events"
)

// Evaluate maps a bus message to an alert. Routine events produce none.
func Evaluate(msg events.Message) (Alert, bool) {
	a := Alert{At: msg.At}
	switch p := msg.Payload.(type) {
	case events.StreamPayload:
		if msg.Event != events.EventStreamClosed {
			return Alert{}, false
		}
		a.Severity = SeverityCritical
		a.CampaignID = p.CampaignID
		a.Message = fmt.Sprintf("%s stream closed, campaign stopped: %s", p.Kind, p.Error)
	case events.OrderPayload:
		if p.OK || p.Skipped {
			return Alert{}, false
		}
		a.Severity = SeverityCritical
		if p.Tolerated {
			a.Severity = SeverityWarning
		}
		a.CampaignID, a.InstID = p.CampaignID, p.InstID
		a.Message = fmt.Sprintf("%s %s failed after %d attempts: %s", p.Action, p.PosSide, p.Attempts, firstNonEmpty(p.Error, p.Msg))
	case events.TrailingPayload:
		if p.OK {
			return Alert{}, false
		}
		a.Severity = SeverityCritical
		a.CampaignID, a.InstID = p.CampaignID, p.InstID
		a.Message = "trailing stop placement failed: " + p.Error
	case events.ErrorPayload:
		a.Severity = SeverityWarning
		a.CampaignID, a.InstID = p.CampaignID, p.InstID
		a.Message = fmt.Sprintf("%s: %s", p.Stage, p.Error)
	default:
		return Alert{}, false
	}
	return a, true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
