package bot

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/tbourn/max-bridge/internal/domain"
	"github.com/tbourn/max-bridge/internal/maxapi"
	"github.com/tbourn/max-bridge/internal/platform"
	"github.com/tbourn/max-bridge/internal/utils"
)

// studentsReport walks "/students course group accept": course, then
// group, then consent to show personal data, then the listing.
func (d *Dispatcher) studentsReport(ctx context.Context, t *turn, cmd Command) error {
	if !cmd.Has(0) {
		courses := d.teachingCourses(ctx, t.account)
		if len(courses) == 0 {
			_, err := d.send(ctx, t, "📚 "+t.p.Sprintf(msgStudents)+"\n💁🏻 "+t.p.Sprintf(msgNone))
			return err
		}
		return d.selectCourse(ctx, t, courses, CmdStudents)
	}

	course, group := cmd.Arg(0), cmd.Arg(1)
	accept, answered := cmd.Arg(2), cmd.Has(2)
	if !d.Config.WarnReport {
		accept, answered = 1, true
	}
	d.remove(ctx, t.ev.MessageID)
	t.ev.MessageID = ""

	if !d.can(ctx, t.account, course, platform.CapViewParticipants) || !d.hasRole(ctx, t.account, course) {
		_, err := d.send(ctx, t, "💁🏻 "+t.p.Sprintf(msgNone))
		return err
	}

	switch {
	case cmd.Has(1) && answered && accept == 1:
		t.next.LastStep = domain.StepDone
		return d.listStudents(ctx, t, course, group)

	case !cmd.Has(1):
		t.next.LastStep = domain.StepGetGroup
		return d.selectGroup(ctx, t, CmdStudents, course, true)

	case answered && accept == 0:
		t.next.LastStep = domain.StepCancel
		_, err := d.send(ctx, t, "❎ "+t.p.Sprintf(msgCancelled))
		return err
	}

	t.next.LastStep = domain.StepAccept
	kb := maxapi.InlineKeyboard([]maxapi.Button{
		maxapi.CallbackButton("⚠️ "+t.p.Sprintf(msgAccept), payload(CmdStudents, course, group, 1)),
		maxapi.CallbackButton("❌ "+t.p.Sprintf(msgCancel), payload(CmdStudents, course, group, 0)),
	})
	_, err := d.send(ctx, t, "⁉️ "+t.p.Sprintf(msgReportWarning), kb)
	return err
}

func (d *Dispatcher) listStudents(ctx context.Context, t *turn, course, group int64) error {
	people, err := d.dir().Participants(ctx, course, group)
	if err != nil {
		return err
	}
	lines := make([]string, 0, len(people))
	for i, p := range people {
		icon := "👤"
		if p.Suspended {
			icon = "⛔"
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%d. %s %s", i+1, icon, html.EscapeString(p.FullName()))
		if u := p.Field(d.Config.UsernameField); d.Config.UsernameField != "" && u != "" {
			b.WriteString(" @" + html.EscapeString(u))
		}
		for _, f := range d.Config.ReportFields {
			if v := p.Field(f); v != "" {
				b.WriteString(" | " + html.EscapeString(v))
			}
		}
		seen := t.p.Sprintf(msgNever)
		if !p.LastCourseAccess.IsZero() {
			seen = p.LastCourseAccess.In(d.loc()).Format("02.01.2006 15:04")
		}
		fmt.Fprintf(&b, " | %s - %.0f%%", seen, p.Progress)
		lines = append(lines, b.String())
	}
	header := "📚 <b>" + t.p.Sprintf(msgStudents) + "</b>\n"
	if len(lines) == 0 {
		_, err := d.send(ctx, t, header+t.p.Sprintf(msgNone))
		return err
	}
	return d.sendPages(ctx, t, utils.PaginateLines(header, lines, reportPageLimit, "..."))
}

// selectGroup offers the course groups visible to the account. Users who
// may see all groups also get "no group" (-1) and "all" (0) choices.
func (d *Dispatcher) selectGroup(ctx context.Context, t *turn, kind CommandKind, course int64, extra bool) error {
	all := d.can(ctx, t.account, course, platform.CapAccessAllGroups)
	owner := t.account
	if all {
		owner = 0
	}
	groups, err := d.dir().Groups(ctx, course, owner)
	if err != nil {
		return err
	}
	buttons := make([]maxapi.Button, 0, len(groups)+2)
	for _, g := range groups {
		buttons = append(buttons, maxapi.CallbackButton(g.Label(), payload(kind, course, g.ID)))
	}
	if extra && all {
		buttons = append(buttons,
			maxapi.CallbackButton("✖️ "+t.p.Sprintf(msgNoGroup), payload(kind, course, -1)),
			maxapi.CallbackButton("✳️ "+t.p.Sprintf(msgAllParticipants), payload(kind, course, 0)),
		)
	}
	if len(buttons) == 0 {
		buttons = append(buttons, maxapi.CallbackButton(t.p.Sprintf(msgToAll), payload(kind, course, 0)))
	}
	return d.edit(ctx, t, t.p.Sprintf(msgSelectGroup), maxapi.Column(buttons...))
}

// groupMessage walks "/message course group submit". The text to
// broadcast is the body of the confirmation message whose button was
// pressed.
func (d *Dispatcher) groupMessage(ctx context.Context, t *turn, cmd Command) error {
	if !cmd.Has(0) {
		return d.selectCourse(ctx, t, d.teachingCourses(ctx, t.account), CmdMessage)
	}
	course, group := cmd.Arg(0), cmd.Arg(1)
	if !d.hasRole(ctx, t.account, course) {
		t.next.LastStep = domain.StepDone
		return d.edit(ctx, t, "💁🏻 "+t.p.Sprintf(msgNone))
	}

	switch {
	case cmd.Has(2) && cmd.Arg(2) == 0:
		t.next.LastStep = domain.StepCancel
		return d.edit(ctx, t, "❎ "+t.p.Sprintf(msgCancelled))

	case cmd.Has(2):
		people, err := d.dir().Participants(ctx, course, group)
		if err != nil {
			return err
		}
		var ids []int64
		for _, p := range people {
			if p.ID == t.account || p.Suspended || p.HasRole(d.Config.MsgRoles...) {
				continue
			}
			ids = append(ids, p.ID)
		}
		outcomes := d.Delivery.DeliverMany(ctx, ids, t.ev.MessageText)
		d.Log.Info().Int64("course_id", course).Int64("group_id", group).
			Interface("outcomes", outcomes).Msg("group message")
		t.next.LastStep = domain.StepDone
		return d.edit(ctx, t, "✅ "+t.p.Sprintf(msgSent))

	case cmd.Has(1):
		t.next = domain.DialogueState{LastStep: domain.StepGetText, LastMessageID: t.ev.MessageID, LastData: payload(CmdMessage, course, group)}
		return d.edit(ctx, t, t.p.Sprintf(msgEnterText))
	}

	t.next.LastStep = domain.StepGroup
	return d.selectGroup(ctx, t, CmdMessage, course, false)
}
