package gateway

import (
	"fmt"
	"strings"
	"time"

	"github.com/rahul/planpilot/internal/plan"
	"github.com/rahul/planpilot/internal/store"
)

// RenderPlan lists the steps of a plan with their status icons.
func RenderPlan(p *plan.Plan) string {
	var b strings.Builder
	title := p.Title
	if title == "" {
		title = p.ID
	}
	fmt.Fprintf(&b, "📋 %s (%d steps)\n", title, len(p.Steps))
	b.WriteString(RenderSteps(p.Steps, -1))
	return strings.TrimRight(b.String(), "\n")
}

// RenderSteps lists steps one per line. current, when in range, is marked.
func RenderSteps(steps []plan.Step, current int) string {
	var b strings.Builder
	for i, s := range steps {
		marker := "  "
		if i == current {
			marker = "➜ "
		}
		icon := s.Status.Icon()
		if s.Skipped {
			icon = "⏭"
		}
		fmt.Fprintf(&b, "%s%s %d. %s", marker, icon, i+1, s.Label())
		if s.Result != nil && s.Status.Terminal() {
			fmt.Fprintf(&b, ": %s", s.Result.Message)
		}
		if s.Attempts > 1 {
			fmt.Fprintf(&b, " (attempt %d)", s.Attempts)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// RenderStatus summarises a driver snapshot.
func RenderStatus(snap plan.Snapshot, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "State: %s", snap.State)
	if snap.Mode != "" {
		fmt.Fprintf(&b, " (%s mode)", snap.Mode)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Progress: %s\n", snap.Progress())

	if cur, ok := snap.Current(); ok {
		fmt.Fprintf(&b, "Current: step %d/%d %s [%s]", snap.Index+1, len(snap.Steps), cur.Label(), cur.Status)
		if snap.InFlight {
			b.WriteString(", running")
		}
		if snap.PauseRequested {
			b.WriteString(", pause requested")
		}
		b.WriteString("\n")
	}
	if snap.LastResult != nil {
		fmt.Fprintf(&b, "Last result: %s: %s\n", snap.LastResult.Classification, snap.LastResult.Message)
		if snap.LastResult.Suggestion != "" {
			fmt.Fprintf(&b, "Suggestion: %s\n", snap.LastResult.Suggestion)
		}
	}
	if snap.AdvancePending() {
		wait := snap.AdvanceAt.Sub(now).Round(time.Second)
		if wait < 0 {
			wait = 0
		}
		fmt.Fprintf(&b, "Next step in %s (/continue to go now)\n", wait)
	}
	if snap.State == plan.StatePaused {
		b.WriteString(holdHint(snap.LastResult) + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderLog returns the last n entries, oldest first.
func RenderLog(entries []plan.LogEntry, n int) string {
	if len(entries) == 0 {
		return "Log is empty."
	}
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s %s\n", e.At.Format("15:04:05"), e.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}

func RenderPlanList(plans []store.PlanSummary) string {
	if len(plans) == 0 {
		return "No saved plans."
	}
	var b strings.Builder
	for _, p := range plans {
		title := p.Title
		if title == "" {
			title = "Untitled plan"
		}
		fmt.Fprintf(&b, "%s  %s (%d steps)", p.ID, title, p.Steps)
		if !p.CreatedAt.IsZero() {
			fmt.Fprintf(&b, ", %s", p.CreatedAt.Format("2006-01-02 15:04"))
		}
		b.WriteString("\n")
	}
	b.WriteString("Use /load <id> to run one.")
	return b.String()
}

// RenderSessionRecord summarises a persisted session.
func RenderSessionRecord(rec store.SessionRecord) string {
	return fmt.Sprintf("Session %s\nPlan: %s\nMode: %s\nState: %s\nStep index: %d\nUpdated: %s",
		rec.ID, rec.PlanID, rec.Mode, rec.State, rec.Index, rec.UpdatedAt.Format("2006-01-02 15:04:05"))
}

// FormatEvent renders a driver event as a chat notification. Events that are
// not worth a message return "".
func FormatEvent(ev plan.Event) string {
	switch ev.Kind {
	case plan.EventSessionStarted:
		return fmt.Sprintf("🚀 Session started in %s mode with %d steps.", ev.Mode, ev.Total)
	case plan.EventStepStarted:
		if ev.Step == nil {
			return ""
		}
		msg := fmt.Sprintf("▶️ Step %d/%d: %s", ev.Index+1, ev.Total, ev.Step.Label())
		if ev.Step.Attempts > 1 {
			msg += fmt.Sprintf(" (attempt %d)", ev.Step.Attempts)
		}
		return msg
	case plan.EventStepFinished:
		if ev.Step == nil || ev.Step.Result == nil {
			return ""
		}
		r := ev.Step.Result
		msg := fmt.Sprintf("%s Step %d/%d %s: %s", classIcon(r.Classification), ev.Index+1, ev.Total, r.Classification, r.Message)
		if r.Suggestion != "" {
			msg += "\n💡 " + r.Suggestion
		}
		return msg
	case plan.EventStepSkipped:
		if ev.Step == nil {
			return ""
		}
		return fmt.Sprintf("⏭ Skipped step %d/%d: %s", ev.Index+1, ev.Total, ev.Step.Label())
	case plan.EventAdvanceScheduled:
		delay := plan.DefaultAutoDelay
		if ev.Decision != nil {
			delay = ev.Decision.Delay
		}
		return fmt.Sprintf("⏩ Next step in %s. /continue to go now, /pause to hold.", delay)
	case plan.EventHeld:
		return fmt.Sprintf("⏸ %s. %s", ev.Message, holdCommands)
	case plan.EventFinished:
		return "🏁 Plan finished: " + ev.Message
	case plan.EventStopped:
		return "⏹ Session stopped."
	default:
		return ""
	}
}

const holdCommands = "Reply /continue, /retry or /skip."

func holdHint(last *plan.Result) string {
	if last != nil && last.Classification == plan.ClassSuccess {
		return "Waiting for confirmation: /continue to proceed."
	}
	return "Waiting for operator: " + holdCommands
}

func classIcon(c plan.Classification) string {
	switch c {
	case plan.ClassSuccess:
		return "✅"
	case plan.ClassError:
		return "❌"
	default:
		return "❓"
	}
}
