package bot

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/tbourn/max-bridge/internal/config"
	"github.com/tbourn/max-bridge/internal/maxapi"
	"github.com/tbourn/max-bridge/internal/platform"
	"github.com/tbourn/max-bridge/internal/textfmt"
	"github.com/tbourn/max-bridge/internal/utils"
)

// Page limits of paginated listings.
const (
	coursesPageLimit = 3980
	reportPageLimit  = 4093
)

var plain = textfmt.NewPlainText()

func payEnabled(cfg config.BotConfig) bool     { return cfg.PayURL != "" }
func reportsEnabled(cfg config.BotConfig) bool { return cfg.ReportsEnabled }

// commands are typed slash commands.
var commands = map[CommandKind]commandHandler{
	CmdStart:        {run: (*Dispatcher).cmdHelp, anonymous: true},
	CmdHelp:         {run: (*Dispatcher).cmdHelp, anonymous: true},
	CmdInfo:         {run: (*Dispatcher).cmdInfo, anonymous: true},
	CmdFAQ:          {run: (*Dispatcher).cmdFAQ, anonymous: true},
	CmdPay:          {run: (*Dispatcher).cmdPay, anonymous: true, when: payEnabled},
	CmdLang:         {run: (*Dispatcher).cmdLang},
	CmdCourses:      {run: (*Dispatcher).cmdCourses},
	CmdEnrols:       {run: (*Dispatcher).cmdEnrols},
	CmdProgress:     {run: (*Dispatcher).showProgress},
	CmdEvents:       {run: (*Dispatcher).cmdEvents},
	CmdNewEvent:     {run: (*Dispatcher).newEvent},
	CmdCertificates: {run: (*Dispatcher).cmdCertificates},
	CmdGetCert:      {run: (*Dispatcher).getCert},
	CmdUserID:       {run: (*Dispatcher).cmdUserID},
	CmdStudents:     {run: (*Dispatcher).studentsReport, when: reportsEnabled},
	CmdMessage:      {run: (*Dispatcher).groupMessage},
}

func (d *Dispatcher) cmdHelp(ctx context.Context, t *turn, _ Command) error {
	var b strings.Builder
	if !t.linked() {
		b.WriteString(t.p.Sprintf(msgHelpAnonymous))
	} else {
		b.WriteString(t.p.Sprintf(msgHelp))
		b.WriteString("\n" + t.p.Sprintf(msgHelpCerts))
		if len(t.accounts) > 1 {
			b.WriteString("\n" + t.p.Sprintf(msgHelpUserID))
		}
		if teaching := d.teachingCourses(ctx, t.account); len(teaching) > 0 {
			if d.Config.ReportsEnabled {
				b.WriteString("\n" + t.p.Sprintf(msgHelpStudents))
			}
			b.WriteString("\n" + t.p.Sprintf(msgHelpMessage))
		}
	}
	if payEnabled(d.Config) {
		b.WriteString("\n" + t.p.Sprintf(msgHelpPay))
	}
	_, err := d.send(ctx, t, b.String())
	return err
}

func (d *Dispatcher) cmdInfo(ctx context.Context, t *turn, _ Command) error {
	text := "🌐 " + html.EscapeString(d.Config.SiteURL)
	if d.Config.InfoText != "" {
		text += "\n\n" + d.Config.InfoText
	}
	_, err := d.send(ctx, t, text)
	return err
}

func (d *Dispatcher) cmdFAQ(ctx context.Context, t *turn, _ Command) error {
	text := t.p.Sprintf(msgFAQ)
	if d.Config.FAQText != "" {
		text += "\n\n" + d.Config.FAQText
	}
	_, err := d.send(ctx, t, text)
	return err
}

func (d *Dispatcher) cmdPay(ctx context.Context, t *turn, cmd Command) error {
	if cmd.Has(0) && cmd.Arg(0) > 0 {
		return d.payLink(ctx, t, cmd)
	}
	buttons := make([]maxapi.Button, 0, len(d.Config.PayCosts))
	for _, c := range d.Config.PayCosts {
		buttons = append(buttons, maxapi.CallbackButton(
			t.p.Sprintf(msgPayButton, c, d.Config.PayCurrency), payload(CmdPay, int64(c))))
	}
	_, err := d.send(ctx, t, t.p.Sprintf(msgPay, d.Config.PayCurrency), maxapi.Column(buttons...))
	return err
}

func (d *Dispatcher) payLink(ctx context.Context, t *turn, cmd Command) error {
	amount := cmd.Arg(0)
	if amount <= 0 {
		return d.cmdPay(ctx, t, Command{Kind: CmdPay})
	}
	url := strings.NewReplacer(
		"{amount}", strconv.FormatInt(amount, 10),
		"{currency}", d.Config.PayCurrency,
	).Replace(d.Config.PayURL)
	label := t.p.Sprintf(msgPayButton, amount, d.Config.PayCurrency)
	return d.edit(ctx, t, label, maxapi.InlineKeyboard([]maxapi.Button{maxapi.LinkButton(label, url)}))
}

func (d *Dispatcher) cmdLang(ctx context.Context, t *turn, cmd Command) error {
	if cmd.Tail != "" {
		return d.selectLang(ctx, t, cmd)
	}
	buttons := make([]maxapi.Button, 0, len(d.Config.Locales))
	for _, code := range d.Config.Locales {
		buttons = append(buttons, maxapi.CallbackButton(LanguageName(code), string("/"+CmdLang)+" "+code))
	}
	_, err := d.send(ctx, t, t.p.Sprintf(msgLang, LanguageName(t.lang)), maxapi.Column(buttons...))
	return err
}

// selectLang stores the chosen interface language for the account and on
// the platform profile.
func (d *Dispatcher) selectLang(ctx context.Context, t *turn, cmd Command) error {
	code := strings.ToLower(strings.TrimSpace(cmd.Tail))
	known := false
	for _, l := range d.Config.Locales {
		if strings.EqualFold(l, code) {
			known = true
			break
		}
	}
	if !known {
		_, err := d.send(ctx, t, t.p.Sprintf(msgIDontKnow))
		return err
	}
	if err := d.Links.SetLanguage(ctx, t.account, code); err != nil {
		return err
	}
	if err := d.dir().UpdateUser(ctx, t.account, platform.UserUpdate{Lang: code}); err != nil {
		d.Log.Warn().Err(err).Int64("account_id", t.account).Msg("mirror language")
	}
	d.localize(ctx, t)

	flag, ok := langFlags[code]
	if !ok {
		flag = defaultFlag
	}
	return d.edit(ctx, t, flag+" "+LanguageName(code))
}

func (d *Dispatcher) cmdCourses(ctx context.Context, t *turn, _ Command) error {
	courses, err := d.dir().Courses(ctx)
	if err != nil {
		return err
	}
	lines := make([]string, 0, len(courses))
	for i, c := range courses {
		icon := "🔸"
		if i == 0 {
			icon = "🏰"
		}
		line := fmt.Sprintf("%s %s", icon, courseLink(c))
		if s := strings.TrimSpace(plain.Convert(c.Summary)); s != "" {
			line += "\n<i>" + html.EscapeString(s) + "</i>\n"
		}
		lines = append(lines, line)
	}
	return d.sendPages(ctx, t, utils.PaginateLines("", lines, coursesPageLimit, "..."))
}

func (d *Dispatcher) cmdEnrols(ctx context.Context, t *turn, _ Command) error {
	courses, err := d.dir().UserCourses(ctx, t.account)
	if err != nil {
		return err
	}
	if len(courses) == 0 {
		_, err := d.send(ctx, t, t.p.Sprintf(msgEnrols)+"\n"+t.p.Sprintf(msgNone))
		return err
	}
	lines := make([]string, 0, len(courses))
	for _, c := range courses {
		lines = append(lines, fmt.Sprintf("• %s (%.0f%%)", courseLink(c), c.Progress))
	}
	return d.sendPages(ctx, t, utils.PaginateLines(t.p.Sprintf(msgEnrols)+"\n", lines, coursesPageLimit, "..."))
}

// showProgress lists activity completion of a course, or offers the
// enrolled courses when none is given.
func (d *Dispatcher) showProgress(ctx context.Context, t *turn, cmd Command) error {
	if !cmd.Has(0) {
		courses, err := d.dir().UserCourses(ctx, t.account)
		if err != nil {
			return err
		}
		return d.selectCourse(ctx, t, courses, CmdProgress)
	}
	course := cmd.Arg(0)
	states, err := d.dir().Completion(ctx, course, t.account)
	if err != nil {
		return err
	}
	var b strings.Builder
	for _, s := range states {
		b.WriteString(completionIcon(s.State))
		b.WriteByte(' ')
		b.WriteString(html.EscapeString(s.Name))
		b.WriteByte('\n')
	}
	pct, err := d.dir().CourseProgress(ctx, course, t.account)
	if err != nil {
		return err
	}
	fmt.Fprintf(&b, "\n📈 %s: %.0f%%", t.p.Sprintf(msgProgress), pct)
	return d.edit(ctx, t, b.String())
}

func completionIcon(state int) string {
	switch state {
	case platform.CompletionComplete, platform.CompletionPass:
		return "🟩"
	case platform.CompletionFail:
		return "🟥"
	default:
		return "⬜️"
	}
}

func (d *Dispatcher) cmdEvents(ctx context.Context, t *turn, _ Command) error {
	events, err := d.dir().UpcomingEvents(ctx, t.account)
	if err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString(t.p.Sprintf(msgEvents))
	if len(events) == 0 {
		b.WriteString(t.p.Sprintf(msgNone))
	}
	for _, e := range events {
		name := html.EscapeString(e.Name)
		if e.URL != "" {
			name = fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(e.URL), name)
		}
		fmt.Fprintf(&b, "%s %s - %s", eventIcon(e.Type), e.Start.In(d.loc()).Format("02.01.2006 15:04"), name)
		if e.Duration > 0 {
			fmt.Fprintf(&b, " (%d %s)", int(e.Duration.Minutes()), t.p.Sprintf(msgMinutes))
		}
		b.WriteByte('\n')
		if s := strings.TrimSpace(plain.Convert(e.Description)); s != "" {
			fmt.Fprintf(&b, "%s: %s\n", t.p.Sprintf(msgSubject), html.EscapeString(textfmt.Truncate(s, 100)))
		}
		b.WriteByte('\n')
	}
	kb := maxapi.InlineKeyboard([]maxapi.Button{maxapi.CallbackButton("+ "+t.p.Sprintf(msgNewEvent), payload(CmdNewEvent))})
	_, err = d.send(ctx, t, b.String(), kb)
	return err
}

func eventIcon(kind string) string {
	switch kind {
	case "user":
		return "📌"
	case "group":
		return "🔔"
	case "course":
		return "🎓"
	}
	return "🗓"
}

func (d *Dispatcher) cmdCertificates(ctx context.Context, t *turn, _ Command) error {
	certs, err := d.dir().Certificates(ctx, t.account)
	if err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString(t.p.Sprintf(msgCerts))
	if len(certs) == 0 {
		b.WriteString(t.p.Sprintf(msgNone))
		_, err := d.send(ctx, t, b.String())
		return err
	}
	for _, c := range certs {
		name := html.EscapeString(c.Name)
		if c.URL != "" {
			name = fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(c.URL), name)
		}
		fmt.Fprintf(&b, "• %s - %s\n", name, c.Issued.In(d.loc()).Format("02.01.2006"))
	}
	kb := maxapi.InlineKeyboard([]maxapi.Button{maxapi.CallbackButton(t.p.Sprintf(msgCertDownload), payload(CmdGetCert))})
	_, err = d.send(ctx, t, b.String(), kb)
	return err
}

// getCert sends the download link of one certificate, or lets the user
// pick one when no code is given.
func (d *Dispatcher) getCert(ctx context.Context, t *turn, cmd Command) error {
	code := strings.TrimSpace(cmd.Tail)
	if code == "" {
		certs, err := d.dir().Certificates(ctx, t.account)
		if err != nil {
			return err
		}
		buttons := make([]maxapi.Button, 0, len(certs))
		for _, c := range certs {
			buttons = append(buttons, maxapi.CallbackButton(c.Name, string("/"+CmdGetCert)+" "+c.Code))
		}
		if len(buttons) == 0 {
			return d.edit(ctx, t, t.p.Sprintf(msgCerts)+t.p.Sprintf(msgNone))
		}
		return d.edit(ctx, t, t.p.Sprintf(msgCertSelect), maxapi.Column(buttons...))
	}

	cert, err := d.dir().Certificate(ctx, code)
	if err != nil {
		_, serr := d.send(ctx, t, t.p.Sprintf(msgIDontKnow))
		if serr != nil {
			return serr
		}
		return err
	}
	url := cert.FileURL
	if url == "" {
		url = cert.URL
	}
	kb := maxapi.InlineKeyboard([]maxapi.Button{maxapi.LinkButton(t.p.Sprintf(msgCertDownload), url)})
	_, err = d.send(ctx, t, t.p.Sprintf(msgCertYour)+": "+html.EscapeString(cert.Name), kb)
	return err
}

func (d *Dispatcher) cmdUserID(ctx context.Context, t *turn, cmd Command) error {
	if cmd.Has(0) {
		return d.selectAccount(ctx, t, cmd)
	}
	buttons := make([]maxapi.Button, 0, len(t.accounts))
	for _, a := range t.accounts {
		buttons = append(buttons, maxapi.CallbackButton(fmt.Sprintf("🆔 %d", a), payload(CmdUserID, a)))
	}
	_, err := d.send(ctx, t, t.p.Sprintf(msgUserID, t.account), maxapi.Column(buttons...))
	return err
}

func (d *Dispatcher) selectAccount(ctx context.Context, t *turn, cmd Command) error {
	id := cmd.Arg(0)
	if err := d.Links.SetPreferredAccount(ctx, t.ev.ChatID, id); err != nil {
		_, serr := d.send(ctx, t, t.p.Sprintf(msgIDontKnow))
		if serr != nil {
			return serr
		}
		return err
	}
	t.account = id
	return d.edit(ctx, t, "✅ "+t.p.Sprintf(msgSelected, fmt.Sprintf("🆔 %d", id)))
}

// sendPages sends each page on its own; a failed page does not stop the
// rest.
func (d *Dispatcher) sendPages(ctx context.Context, t *turn, pages []string) error {
	var first error
	for _, p := range pages {
		if _, err := d.send(ctx, t, p); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// selectCourse offers one button per course whose payload is kind plus
// prefix plus the course id.
func (d *Dispatcher) selectCourse(ctx context.Context, t *turn, courses []platform.Course, kind CommandKind, prefix ...int64) error {
	if len(courses) == 0 {
		return d.edit(ctx, t, "💁🏻 "+t.p.Sprintf(msgNone))
	}
	buttons := make([]maxapi.Button, 0, len(courses))
	for _, c := range courses {
		args := append(append([]int64(nil), prefix...), c.ID)
		buttons = append(buttons, maxapi.CallbackButton(c.FullName, payload(kind, args...)))
	}
	return d.edit(ctx, t, t.p.Sprintf(msgSelectCourse), maxapi.Column(buttons...))
}

// teachingCourses are the account's courses in which it holds one of the
// broadcast roles.
func (d *Dispatcher) teachingCourses(ctx context.Context, account int64) []platform.Course {
	if len(d.Config.MsgRoles) == 0 {
		return nil
	}
	courses, err := d.dir().UserCourses(ctx, account)
	if err != nil {
		d.Log.Warn().Err(err).Int64("account_id", account).Msg("load courses")
		return nil
	}
	var out []platform.Course
	for _, c := range courses {
		if d.hasRole(ctx, account, c.ID) {
			out = append(out, c)
		}
	}
	return out
}

func (d *Dispatcher) hasRole(ctx context.Context, account, course int64) bool {
	ok, err := d.dir().HasRole(ctx, account, course, d.Config.MsgRoles)
	if err != nil {
		d.Log.Debug().Err(err).Int64("course_id", course).Msg("role check")
	}
	return err == nil && ok
}

func (d *Dispatcher) can(ctx context.Context, account, course int64, capability string) bool {
	ok, err := d.dir().HasCapability(ctx, account, course, capability)
	if err != nil {
		d.Log.Debug().Err(err).Str("capability", capability).Msg("capability check")
	}
	return err == nil && ok
}

func courseLink(c platform.Course) string {
	name := html.EscapeString(c.FullName)
	if c.URL == "" {
		return name
	}
	return fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(c.URL), name)
}
