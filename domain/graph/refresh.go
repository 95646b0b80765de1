package graph

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultDriftThreshold applies when a policy omits drift_threshold.
const DefaultDriftThreshold = 0.1

// Duration accepts both Go duration strings ("90s", "15m") and bare
// numbers of seconds in JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value) * time.Second)
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
}

// RefreshPolicy controls when the scheduler re-embeds a node and when a
// refresh is loud enough to produce an event.
type RefreshPolicy struct {
	Interval       Duration `json:"interval,omitempty"`
	Cron           string   `json:"cron,omitempty"`
	DriftThreshold float64  `json:"drift_threshold,omitempty"`
}

// Threshold returns the effective drift threshold.
func (p *RefreshPolicy) Threshold() float64 {
	if p == nil || p.DriftThreshold <= 0 {
		return DefaultDriftThreshold
	}
	return p.DriftThreshold
}

// IsDue decides whether a node needs a refresh at now. Cron wins over
// interval; a cron expression that fails to parse falls back to the
// interval; a policy with neither is never due. A node that has never
// been refreshed is always due.
func (p *RefreshPolicy) IsDue(lastRefreshed *time.Time, now time.Time) bool {
	if p == nil {
		return false
	}

	if p.Cron != "" {
		schedule, err := cron.ParseStandard(p.Cron)
		if err == nil {
			if lastRefreshed == nil {
				return true
			}
			return !schedule.Next(*lastRefreshed).After(now)
		}
		// fall through to interval on parse failure
	}

	if p.Interval > 0 {
		if lastRefreshed == nil {
			return true
		}
		return now.Sub(*lastRefreshed) >= time.Duration(p.Interval)
	}

	return false
}
