package bot

import (
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys of the bot catalog.
const (
	msgWelcome         = "welcome"
	msgWelcomeBack     = "welcome.back"
	msgEnterPhone      = "phone.enter"
	msgProvidePhone    = "phone.provide"
	msgThanks          = "thanks"
	msgUnknownUser     = "user.unknown"
	msgIDontKnow       = "idontknow"
	msgFirstRegister   = "register.first"
	msgHelp            = "help"
	msgHelpAnonymous   = "help.anonymous"
	msgHelpCerts       = "help.certificates"
	msgHelpUserID      = "help.userid"
	msgHelpStudents    = "help.students"
	msgHelpMessage     = "help.message"
	msgHelpPay         = "help.pay"
	msgFAQ             = "faq"
	msgSelectCourse    = "select.course"
	msgSelectGroup     = "select.group"
	msgNone            = "none"
	msgNo              = "no"
	msgEnrols          = "enrols"
	msgEvents          = "events"
	msgNewEvent        = "event.new"
	msgSubject         = "subject"
	msgMinutes         = "minutes"
	msgLang            = "lang"
	msgUserID          = "userid"
	msgSelected        = "selected"
	msgCerts           = "certs"
	msgCertDownload    = "cert.download"
	msgCertSelect      = "cert.select"
	msgCertYour        = "cert.your"
	msgPay             = "pay"
	msgPayButton       = "pay.button"
	msgStudents        = "students"
	msgNever           = "never"
	msgReportWarning   = "report.warning"
	msgAccept          = "accept"
	msgCancel          = "cancel"
	msgNoGroup         = "group.none"
	msgAllParticipants = "group.all"
	msgProgress        = "progress"
	msgEventType       = "event.type"
	msgPersonal        = "event.personal"
	msgCourse          = "event.course"
	msgGroup           = "event.group"
	msgEnterTime       = "event.enter.time"
	msgEnterDuration   = "event.enter.duration"
	msgEnterName       = "event.enter.name"
	msgEventName       = "event.name"
	msgDuration        = "event.duration"
	msgApply           = "apply"
	msgEventCreated    = "event.created"
	msgEventError      = "event.error"
	msgEnterText       = "text.enter"
	msgSubmit          = "submit"
	msgCancelled       = "cancelled"
	msgSent            = "sent"
	msgToAll           = "group.toall"
)

var translations = map[language.Tag]map[string]string{
	language.English: {
		msgWelcome:       "Welcome, %s! 👋",
		msgWelcomeBack:   "Welcome back, %s! 👋",
		msgEnterPhone:    "For better interaction with curators, please provide your mobile phone number.",
		msgProvidePhone:  "📱 Provide a phone number",
		msgThanks:        "Thanks 🙂",
		msgUnknownUser:   "😕 Unknown user",
		msgIDontKnow:     "I don't know what this is 🤷🏻 /help",
		msgFirstRegister: "First, register on the website and enable notifications via MAX. %s",
		msgHelp: "👓 Help\n/info - platform information\n/faq  - frequently asked questions\n/lang - language switching\n" +
			"/courses - course list\n/events - upcoming\n/enrols - participation in courses\n/progress - status of course elements",
		msgHelpAnonymous:   "👓 Help\n/info - platform information\n/faq  - frequently asked questions",
		msgHelpCerts:       "/certificates - issued certificates",
		msgHelpUserID:      "/userid - select user",
		msgHelpStudents:    "/students - personal data report",
		msgHelpMessage:     "/message - send group message",
		msgHelpPay:         "/pay - Donation 🕉",
		msgFAQ:             "⁉️ Frequently Asked Questions:",
		msgSelectCourse:    "Select a course",
		msgSelectGroup:     "Select a group",
		msgNone:            "None",
		msgNo:              "No",
		msgEnrols:          "🎓 Participation in courses:",
		msgEvents:          "🗓 Upcoming Events:\n\n",
		msgNewEvent:        "New event",
		msgSubject:         "Subject",
		msgMinutes:         "min",
		msgLang:            "🈯 Select language (%s)",
		msgUserID:          "👑 User ID: %d",
		msgSelected:        "Selected: %s",
		msgCerts:           "📜 Your certificates:\n\n",
		msgCertDownload:    "📥 Download",
		msgCertSelect:      "📥 Select a certificate",
		msgCertYour:        "💾 Your certificate",
		msgPay:             "🏦 Select amount %s",
		msgPayButton:       "💳 Pay %d %s",
		msgStudents:        "Students",
		msgNever:           "Never",
		msgReportWarning:   "Please note that users personal data is transferred to third-party MAX servers, this may violate the law of your country.",
		msgAccept:          "I agree",
		msgCancel:          "Cancel",
		msgNoGroup:         "No group",
		msgAllParticipants: "All participants",
		msgProgress:        "Progress",
		msgEventType:       "Select event type",
		msgPersonal:        "User",
		msgCourse:          "Course",
		msgGroup:           "Group",
		msgEnterTime:       "Enter the date and start time of the event\nThe date and time are specified in one of the standard formats, for example: YYYY-MM-DD HH:MM",
		msgEnterDuration:   "Enter the duration in minutes",
		msgEnterName:       "Enter the event name",
		msgEventName:       "Event name",
		msgDuration:        "Duration %d minutes",
		msgApply:           "Apply",
		msgEventCreated:    "The calendar event was created",
		msgEventError:      "Error adding the calendar event",
		msgEnterText:       "✏️ Enter your message text",
		msgSubmit:          "Submit",
		msgCancelled:       "Cancelled",
		msgSent:            "Sent",
		msgToAll:           "To all students",
	},
	language.Russian: {
		msgWelcome:       "Добро пожаловать, %s! 👋",
		msgWelcomeBack:   "С возвращением, %s! 👋",
		msgEnterPhone:    "Для лучшего взаимодействия с кураторами, пожалуйста, укажите номер мобильного телефона.",
		msgProvidePhone:  "📱 Указать номер телефона",
		msgThanks:        "Спасибо 🙂",
		msgUnknownUser:   "😕 Неизвестный пользователь",
		msgIDontKnow:     "Я не знаю, что это 🤷🏻 /help",
		msgFirstRegister: "Сначала зарегистрируйтесь на сайте и включите уведомления через MAX. %s",
		msgHelp: "👓 Помощь\n/info - информация о платформе\n/faq  - частые вопросы\n/lang - выбор языка\n" +
			"/courses - список курсов\n/events - предстоящие события\n/enrols - участие в курсах\n/progress - состояние элементов курса",
		msgHelpAnonymous:   "👓 Помощь\n/info - информация о платформе\n/faq  - частые вопросы",
		msgHelpCerts:       "/certificates - выданные сертификаты",
		msgHelpUserID:      "/userid - выбор пользователя",
		msgHelpStudents:    "/students - отчёт с персональными данными",
		msgHelpMessage:     "/message - сообщение группе",
		msgHelpPay:         "/pay - Пожертвование 🕉",
		msgFAQ:             "⁉️ Частые вопросы:",
		msgSelectCourse:    "Выберите курс",
		msgSelectGroup:     "Выберите группу",
		msgNone:            "Нет",
		msgNo:              "Нет",
		msgEnrols:          "🎓 Участие в курсах:",
		msgEvents:          "🗓 Предстоящие события:\n\n",
		msgNewEvent:        "Новое событие",
		msgSubject:         "Тема",
		msgMinutes:         "мин",
		msgLang:            "🈯 Выберите язык (%s)",
		msgUserID:          "👑 ID пользователя: %d",
		msgSelected:        "Выбрано: %s",
		msgCerts:           "📜 Ваши сертификаты:\n\n",
		msgCertDownload:    "📥 Скачать",
		msgCertSelect:      "📥 Выберите сертификат",
		msgCertYour:        "💾 Ваш сертификат",
		msgPay:             "🏦 Выберите сумму %s",
		msgPayButton:       "💳 Оплатить %d %s",
		msgStudents:        "Студенты",
		msgNever:           "Никогда",
		msgReportWarning:   "Обратите внимание: персональные данные пользователей передаются на сторонние серверы MAX, это может нарушать законодательство вашей страны.",
		msgAccept:          "Согласен",
		msgCancel:          "Отмена",
		msgNoGroup:         "Без группы",
		msgAllParticipants: "Все участники",
		msgProgress:        "Прогресс",
		msgEventType:       "Выберите тип события",
		msgPersonal:        "Личное",
		msgCourse:          "Курс",
		msgGroup:           "Группа",
		msgEnterTime:       "Введите дату и время начала события\nДата и время указываются в одном из стандартных форматов, например: ГГГГ-ММ-ДД ЧЧ:ММ",
		msgEnterDuration:   "Введите продолжительность в минутах",
		msgEnterName:       "Введите название события",
		msgEventName:       "Название события",
		msgDuration:        "Продолжительность %d минут",
		msgApply:           "Применить",
		msgEventCreated:    "Событие календаря создано",
		msgEventError:      "Ошибка при добавлении события",
		msgEnterText:       "✏️ Введите текст сообщения",
		msgSubmit:          "Отправить",
		msgCancelled:       "Отменено",
		msgSent:            "Отправлено",
		msgToAll:           "Всем студентам",
	},
}

// langFlags decorate the /lang confirmation.
var langFlags = map[string]string{
	"ru": "🇷🇺",
	"en": "🇺🇸",
	"be": "🇧🇾",
	"uk": "🇺🇦",
}

const defaultFlag = "Ⓜ️"

// Catalog holds the bot's translated strings.
type Catalog struct {
	cat     catalog.Catalog
	matcher language.Matcher
	tags    []language.Tag
}

var defaultCatalog = NewCatalog()

// NewCatalog builds the catalog. The first entry of supported is the
// fallback language.
func NewCatalog() *Catalog {
	tags := []language.Tag{language.English, language.Russian}
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for _, tag := range tags {
		for key, msg := range translations[tag] {
			_ = b.SetString(tag, key, msg)
		}
	}
	return &Catalog{cat: b, matcher: language.NewMatcher(tags), tags: tags}
}

// Printer returns a printer for the best supported match of lang.
func (c *Catalog) Printer(lang ...string) *message.Printer {
	tag, _ := language.MatchStrings(c.matcher, lang...)
	base, _ := tag.Base()
	return message.NewPrinter(language.Make(base.String()), message.Catalog(c.cat))
}

// LanguageName is the native display name of a locale code, e.g.
// "русский" for "ru".
func LanguageName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	name := display.Self.Name(tag)
	if name == "" {
		return code
	}
	return cases.Title(tag, cases.NoLower).String(name)
}
