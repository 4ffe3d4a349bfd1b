package bot

import (
	"context"
	"errors"

	"github.com/tbourn/max-bridge/internal/maxapi"
	"github.com/tbourn/max-bridge/internal/platform"
	"github.com/tbourn/max-bridge/internal/services"
)

// onLink completes a deep-link handshake and greets the user. Users
// without a phone number on file get a contact request instead of the menu.
func (d *Dispatcher) onLink(ctx context.Context, t *turn) error {
	var name string
	if t.ev.Sender != nil {
		name = t.ev.Sender.DisplayName()
	}
	account, err := d.Links.CompleteLink(ctx, services.Caller{}, t.ev.ChatID, t.ev.Payload, name)
	if errors.Is(err, services.ErrLinkNotFound) {
		_, serr := d.send(ctx, t, t.p.Sprintf(msgFirstRegister, d.Config.SiteURL))
		return serr
	}
	if err != nil {
		return err
	}
	t.account = account
	d.localize(ctx, t)

	var user *platform.User
	if u, uerr := d.dir().User(ctx, account); uerr == nil {
		user = u
	} else if !errors.Is(uerr, platform.ErrUnavailable) {
		d.Log.Warn().Err(uerr).Int64("account_id", account).Msg("load linked user")
	}
	if user != nil && user.FullName() != "" {
		name = user.FullName()
	} else if t.ev.Sender != nil && t.ev.Sender.FirstName != "" {
		name = t.ev.Sender.FirstName
	}

	if user != nil && d.Config.PhoneField != "" && user.Field(d.Config.PhoneField) == "" {
		text := t.p.Sprintf(msgWelcome, name) + "\n\n" + t.p.Sprintf(msgEnterPhone)
		kb := maxapi.InlineKeyboard([]maxapi.Button{maxapi.ContactButton(t.p.Sprintf(msgProvidePhone))})
		if _, err := d.send(ctx, t, text, kb); err != nil {
			return err
		}
	} else {
		greeting := msgWelcome
		if !t.prev.UpdatedAt.IsZero() {
			greeting = msgWelcomeBack
		}
		menu := maxapi.InlineKeyboard(
			[]maxapi.Button{maxapi.MessageButton("/info"), maxapi.MessageButton("/lang")},
			[]maxapi.Button{maxapi.MessageButton("/help")},
		)
		if _, err := d.send(ctx, t, t.p.Sprintf(greeting, name), menu); err != nil {
			return err
		}
	}

	if d.Config.GroupInviteChat != 0 {
		res, err := d.API.AddMembers(ctx, d.Config.GroupInviteChat, t.ev.ChatID)
		switch {
		case err != nil:
			d.Log.Warn().Err(err).Msg("invite to news channel")
		case res.Err != nil:
			d.Log.Warn().Err(res.Err).Msg("invite to news channel rejected")
		}
	}
	return nil
}

// onContact stores the phone number from a contact card the user shared
// about themselves.
func (d *Dispatcher) onContact(ctx context.Context, t *turn) error {
	if !t.linked() {
		t.replay = true
		_, err := d.send(ctx, t, t.p.Sprintf(msgFirstRegister, d.Config.SiteURL))
		return err
	}
	c := t.ev.Contact
	if c == nil || c.MaxInfo == nil || t.ev.Sender == nil || c.MaxInfo.UserID != t.ev.Sender.UserID {
		_, err := d.send(ctx, t, t.p.Sprintf(msgUnknownUser))
		return err
	}
	phone := c.Phone()
	if phone == "" {
		_, err := d.send(ctx, t, t.p.Sprintf(msgUnknownUser))
		return err
	}

	var upd platform.UserUpdate
	switch d.Config.PhoneField {
	case "phone1":
		upd.Phone1 = phone
	case "phone2", "":
		upd.Phone2 = phone
	default:
		upd.Custom = map[string]string{d.Config.PhoneField: phone}
	}
	if err := d.dir().UpdateUser(ctx, t.account, upd); err != nil {
		return err
	}
	_, err := d.send(ctx, t, t.p.Sprintf(msgThanks))
	return err
}
