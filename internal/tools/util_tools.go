package tools

import (
	"context"
	"fmt"
	"time"
)

type currentTimeArgs struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"Optional IANA time zone name such as Asia/Tokyo; defaults to the user's zone"`
}

// RegisterUtilityTools registers tools that need no backend. loc is the
// default zone for get_current_time; nil means UTC.
func RegisterUtilityTools(r *Registry, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	return r.Register(Typed("get_current_time",
		"Get the current date and time. Use before resolving relative dates like tomorrow or next week.",
		func(_ context.Context, args currentTimeArgs) Envelope {
			zone := loc
			if args.Timezone != "" {
				z, err := time.LoadLocation(args.Timezone)
				if err != nil {
					return Failf(CodeValidation, "unknown time zone %q", args.Timezone)
				}
				zone = z
			}
			now := clock().In(zone)
			return OK(map[string]any{
				"time":     now.Format(time.RFC3339),
				"timezone": zone.String(),
				"weekday":  now.Weekday().String(),
				"unix":     now.Unix(),
			}, fmt.Sprintf("It is %s", now.Format("Monday, 2 January 2006 15:04 MST")))
		}))
}
