package quota

import (
	"time"

	"github.com/pairlingo/entitlements/internal/domain/entitlement"
)

// Action identifies a metered feature call.
type Action string

const (
	ActionChat           Action = "chat"
	ActionValidateWord   Action = "validate_word"
	ActionTTS            Action = "tts"
	ActionVoiceMinutes   Action = "voice_minutes"
	ActionGenerateInvite Action = "generate_invite"
	ActionExportData     Action = "export_data"
	ActionDeleteAccount  Action = "delete_account"
)

// Window is the calendar period a counter accumulates over before
// resetting. Windows are UTC calendar boundaries, so ResetAt is exact.
type Window string

const (
	WindowDay   Window = "day"
	WindowMonth Window = "month"
)

// Unlimited marks a plan with no cap for an action.
const Unlimited = -1

// Limit is one row of the static quota table.
type Limit struct {
	// UsageType is the counter row key; distinct from Action so several
	// endpoints can share one counter.
	UsageType string
	Window    Window
	PerPlan   map[entitlement.Plan]int
}

// Limits is the static table keyed by action. Accounts without a paid
// plan get the none-tier numbers; the unknown sentinel plan is treated
// the same way. To change a cap, edit this table.
var Limits = map[Action]Limit{
	ActionChat: {
		UsageType: "text_messages",
		Window:    WindowMonth,
		PerPlan: map[entitlement.Plan]int{
			entitlement.PlanNone:      25,
			entitlement.PlanStandard:  5000,
			entitlement.PlanUnlimited: Unlimited,
		},
	},
	ActionValidateWord: {
		UsageType: "word_validations",
		Window:    WindowMonth,
		PerPlan: map[entitlement.Plan]int{
			entitlement.PlanNone:      50,
			entitlement.PlanStandard:  2000,
			entitlement.PlanUnlimited: Unlimited,
		},
	},
	ActionTTS: {
		UsageType: "tts_requests",
		Window:    WindowMonth,
		PerPlan: map[entitlement.Plan]int{
			entitlement.PlanNone:      100,
			entitlement.PlanStandard:  1000,
			entitlement.PlanUnlimited: Unlimited,
		},
	},
	// Voice minutes are reported per session and tracked per day.
	ActionVoiceMinutes: {
		UsageType: "voice_minutes",
		Window:    WindowDay,
		PerPlan: map[entitlement.Plan]int{
			entitlement.PlanNone:      15,
			entitlement.PlanStandard:  480,
			entitlement.PlanUnlimited: Unlimited,
		},
	},
	// Abuse prevention: capped on every tier, including unlimited.
	ActionGenerateInvite: {
		UsageType: "invite_generations",
		Window:    WindowMonth,
		PerPlan: map[entitlement.Plan]int{
			entitlement.PlanNone:      3,
			entitlement.PlanStandard:  10,
			entitlement.PlanUnlimited: 20,
		},
	},
	ActionExportData: {
		UsageType: "data_exports",
		Window:    WindowMonth,
		PerPlan: map[entitlement.Plan]int{
			entitlement.PlanNone:      2,
			entitlement.PlanStandard:  5,
			entitlement.PlanUnlimited: 10,
		},
	},
	ActionDeleteAccount: {
		UsageType: "account_deletions",
		Window:    WindowMonth,
		PerPlan: map[entitlement.Plan]int{
			entitlement.PlanNone:      1,
			entitlement.PlanStandard:  1,
			entitlement.PlanUnlimited: 1,
		},
	},
}

// limitFor resolves the cap for (action, plan). Unknown actions get no
// cap; unknown plans fall back to the none tier.
func limitFor(action Action, plan entitlement.Plan) (Limit, int, bool) {
	l, ok := Limits[action]
	if !ok {
		return Limit{}, Unlimited, false
	}
	n, ok := l.PerPlan[plan]
	if !ok {
		n = l.PerPlan[entitlement.PlanNone]
	}
	return l, n, true
}

// windowStart truncates now to the start of the window in UTC.
func windowStart(w Window, now time.Time) time.Time {
	now = now.UTC()
	switch w {
	case WindowDay:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
}

// windowEnd is the start of the next window: the counter's reset time.
func windowEnd(w Window, start time.Time) time.Time {
	switch w {
	case WindowDay:
		return start.AddDate(0, 0, 1)
	default:
		return start.AddDate(0, 1, 0)
	}
}
