package bot

// callbacks are inline button presses, keyed by the verb of the payload.
var callbacks = map[CommandKind]commandHandler{
	CmdPay:      {run: (*Dispatcher).payLink, anonymous: true, when: payEnabled},
	CmdLang:     {run: (*Dispatcher).selectLang},
	CmdUserID:   {run: (*Dispatcher).selectAccount},
	CmdProgress: {run: (*Dispatcher).showProgress},
	CmdGetCert:  {run: (*Dispatcher).getCert},
	CmdStudents: {run: (*Dispatcher).studentsReport, when: reportsEnabled},
	CmdMessage:  {run: (*Dispatcher).groupMessage},
	CmdNewEvent: {run: (*Dispatcher).newEvent},
}
