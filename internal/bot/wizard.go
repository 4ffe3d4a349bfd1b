package bot

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/tbourn/max-bridge/internal/domain"
	"github.com/tbourn/max-bridge/internal/maxapi"
	"github.com/tbourn/max-bridge/internal/platform"
	"github.com/tbourn/max-bridge/internal/utils"
)

// Event type indexes of the calendar wizard, see platform.EventTypes.
const (
	eventUser int64 = iota
	eventCourse
	eventGroup
)

// defaultEventDelay is applied when the entered start time is unusable.
const defaultEventDelay = 48 * time.Hour

// timeLayouts are the accepted wizard date formats, most specific first.
var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"02.01.2006 15:04",
	"02.01.2006",
	"2006-01-02",
}

// newEvent walks "/newevent type course group start duration name". Each
// press of a button appends one argument; free-text answers come back
// through the input transitions as an Apply button with the value appended.
func (d *Dispatcher) newEvent(ctx context.Context, t *turn, cmd Command) error {
	switch len(cmd.Args) {
	case 0:
		t.next.LastStep = domain.StepType
		kb := maxapi.Column(
			maxapi.CallbackButton("📌 "+t.p.Sprintf(msgPersonal), payload(CmdNewEvent, eventUser)),
			maxapi.CallbackButton("🎓 "+t.p.Sprintf(msgCourse), payload(CmdNewEvent, eventCourse)),
			maxapi.CallbackButton("🔔 "+t.p.Sprintf(msgGroup), payload(CmdNewEvent, eventGroup)),
		)
		return d.edit(ctx, t, t.p.Sprintf(msgEventType), kb)

	case 1:
		kind := cmd.Arg(0)
		if kind == eventUser {
			return d.promptTime(ctx, t, payload(CmdNewEvent, kind, 0, 0))
		}
		courses, err := d.dir().UserCourses(ctx, t.account)
		if err != nil {
			return err
		}
		t.next.LastStep = domain.StepCourse
		return d.selectCourse(ctx, t, courses, CmdNewEvent, kind)

	case 2:
		kind, course := cmd.Arg(0), cmd.Arg(1)
		if kind == eventGroup {
			t.next.LastStep = domain.StepGroup
			return d.selectGroup(ctx, t, CmdNewEvent, course, false)
		}
		return d.promptTime(ctx, t, payload(CmdNewEvent, kind, course, 0))

	case 3:
		return d.promptTime(ctx, t, payload(CmdNewEvent, cmd.Args...))

	case 4:
		return d.prompt(ctx, t, domain.StepGetDuration, payload(CmdNewEvent, cmd.Args...), t.p.Sprintf(msgEnterDuration))
	}

	name := strings.TrimSpace(cmd.Tail)
	if name == "" {
		return d.prompt(ctx, t, domain.StepGetName, payload(CmdNewEvent, cmd.Args...), t.p.Sprintf(msgEnterName))
	}
	return d.createEvent(ctx, t, cmd, name)
}

// createEvent downgrades the requested event type to the widest the
// account may create: group, then course, then a personal event.
func (d *Dispatcher) createEvent(ctx context.Context, t *turn, cmd Command, name string) error {
	kind, course, group := cmd.Arg(0), cmd.Arg(1), cmd.Arg(2)
	if kind < eventUser || kind > eventGroup {
		kind = eventUser
	}
	if kind == eventGroup && (group <= 0 || !d.can(ctx, t.account, course, platform.CapManageGroupEntries)) {
		kind = eventCourse
	}
	if kind == eventCourse && (course == 0 || !d.can(ctx, t.account, course, platform.CapManageEntries)) {
		kind = eventUser
	}
	ev := platform.NewEvent{
		Name:     name,
		Type:     platform.EventTypes[kind],
		Start:    time.Unix(cmd.Arg(3), 0),
		Duration: time.Duration(cmd.Arg(4)) * time.Minute,
	}
	switch kind {
	case eventGroup:
		ev.CourseID, ev.GroupID = course, group
	case eventCourse:
		ev.CourseID = course
	default:
		ev.UserID = t.account
	}

	t.next.LastStep = domain.StepDone
	d.remove(ctx, t.prev.LastMessageID)
	if _, err := d.dir().CreateEvent(ctx, ev); err != nil {
		if eerr := d.edit(ctx, t, "❌ "+t.p.Sprintf(msgEventError)); eerr != nil {
			return eerr
		}
		return err
	}
	return d.edit(ctx, t, "✅ "+t.p.Sprintf(msgEventCreated))
}

func (d *Dispatcher) promptTime(ctx context.Context, t *turn, data string) error {
	return d.prompt(ctx, t, domain.StepGetTime, data, t.p.Sprintf(msgEnterTime))
}

// prompt replaces the pressed message with a question and waits for a
// typed answer in step.
func (d *Dispatcher) prompt(ctx context.Context, t *turn, step domain.Step, data, text string, attachments ...maxapi.OutAttachment) error {
	d.remove(ctx, t.ev.MessageID)
	mid, err := d.send(ctx, t, text, attachments...)
	t.next = domain.DialogueState{LastStep: step, LastMessageID: mid, LastData: data}
	return err
}

// answer replaces the previous prompt with an echo of the typed value and
// an Apply button. The chat stays in the same step so the value can be
// retyped.
func (d *Dispatcher) answer(ctx context.Context, t *turn, text string, attachments ...maxapi.OutAttachment) error {
	d.remove(ctx, t.prev.LastMessageID)
	mid, err := d.send(ctx, t, text, attachments...)
	t.next = domain.DialogueState{LastStep: t.prev.LastStep, LastMessageID: mid, LastData: t.prev.LastData}
	return err
}

func (d *Dispatcher) apply(t *turn, value string) maxapi.OutAttachment {
	return maxapi.InlineKeyboard([]maxapi.Button{
		maxapi.CallbackButton("✅ "+t.p.Sprintf(msgApply), t.prev.LastData+" "+value),
	})
}

func (d *Dispatcher) inputTime(ctx context.Context, t *turn, input string) error {
	start := d.parseTime(input)
	text := "⏰ " + start.In(d.loc()).Format("02.01.2006 15:04")
	return d.answer(ctx, t, text, d.apply(t, strconv.FormatInt(start.Unix(), 10)))
}

// parseTime reads a wall-clock time in the dispatcher location. Input that
// cannot be read or lies in the past yields now plus two days.
func (d *Dispatcher) parseTime(input string) time.Time {
	now := d.now()
	input = strings.TrimSpace(input)
	for _, layout := range timeLayouts {
		if ts, err := time.ParseInLocation(layout, input, d.loc()); err == nil {
			if ts.After(now) {
				return ts
			}
			break
		}
	}
	return now.Add(defaultEventDelay).Truncate(time.Minute)
}

func (d *Dispatcher) inputDuration(ctx context.Context, t *turn, input string) error {
	n := utils.AtoiDefault(input, 0)
	if n <= 0 {
		return d.answer(ctx, t, t.p.Sprintf(msgEnterDuration))
	}
	return d.answer(ctx, t, "⏳ "+t.p.Sprintf(msgDuration, n), d.apply(t, strconv.Itoa(n)))
}

func (d *Dispatcher) inputName(ctx context.Context, t *turn, input string) error {
	text := fmt.Sprintf("🏷 %s:\n%s", t.p.Sprintf(msgEventName), html.EscapeString(input))
	return d.answer(ctx, t, text, d.apply(t, input))
}

func (d *Dispatcher) inputText(ctx context.Context, t *turn, input string) error {
	kb := maxapi.InlineKeyboard([]maxapi.Button{
		maxapi.CallbackButton("✉️ "+t.p.Sprintf(msgSubmit), t.prev.LastData+" 1"),
		maxapi.CallbackButton("❌ "+t.p.Sprintf(msgCancel), t.prev.LastData+" 0"),
	})
	return d.answer(ctx, t, html.EscapeString(input), kb)
}
