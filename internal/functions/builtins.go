// Package functions holds the built-in registrable functions. The host
// application registers its own functions through the same assistant API;
// these ship with the engine so a fresh deployment has something to call.
package functions

import (
	"context"
	"time"

	"github.com/cmskit/assistant-engine/internal/assistant"
)

// SiteInfo describes the host installation exposed via get_site_info.
type SiteInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

// Builtins returns the built-in functions. This replaces init-based side
// effects and is intended to be called from cmd wiring and tests.
func Builtins(info SiteInfo) ([]*assistant.Function, error) {
	currentTime, err := assistant.NewFunction(
		"get_current_time",
		"Get the current date and time.",
		[]assistant.Param{
			{Name: "timezone", Type: "string", Description: "IANA timezone name, defaults to UTC", Default: "UTC"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			tz, _ := args["timezone"].(string)
			if tz == "" {
				tz = "UTC"
			}
			loc, err := time.LoadLocation(tz)
			if err != nil {
				return nil, err
			}
			return map[string]string{
				"time":     time.Now().In(loc).Format(time.RFC3339),
				"timezone": loc.String(),
			}, nil
		})
	if err != nil {
		return nil, err
	}

	siteInfo, err := assistant.NewFunction(
		"get_site_info",
		"Get the name, description and URL of this site.",
		nil,
		func(ctx context.Context, args map[string]any) (any, error) {
			return info, nil
		})
	if err != nil {
		return nil, err
	}

	return []*assistant.Function{currentTime, siteInfo}, nil
}
