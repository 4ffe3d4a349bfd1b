package maxapi

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

func typed[T any](ctx context.Context, c *Client, method, command string, params any) (Result[T], error) {
	res, err := c.Call(ctx, method, command, params)
	if err != nil {
		return Result[T]{}, err
	}
	return decode[T](res)
}

// acknowledged additionally treats {"success": false} as a rejection.
func acknowledged(r Result[SimpleResult], err error) (Result[SimpleResult], error) {
	if err != nil || r.Err != nil {
		return r, err
	}
	if !r.Value.Success {
		r.Err = &APIError{Status: http.StatusOK, Code: "unsuccessful", Message: r.Value.Message}
	}
	return r, nil
}

// SendMessage posts m to the dialog with userID. Link previews are disabled.
func (c *Client) SendMessage(ctx context.Context, userID int64, m NewMessage) (Result[SentMessage], error) {
	q := url.Values{}
	q.Set("user_id", strconv.FormatInt(userID, 10))
	q.Set("disable_link_preview", "true")
	return typed[SentMessage](ctx, c, http.MethodPost, "messages?"+q.Encode(), m)
}

// SendToChat posts m to a group chat or channel.
func (c *Client) SendToChat(ctx context.Context, chatID int64, m NewMessage) (Result[SentMessage], error) {
	q := url.Values{}
	q.Set("chat_id", strconv.FormatInt(chatID, 10))
	return typed[SentMessage](ctx, c, http.MethodPost, "messages?"+q.Encode(), m)
}

// EditMessage replaces the content of a message the bot sent earlier.
func (c *Client) EditMessage(ctx context.Context, mid string, m NewMessage) (Result[SimpleResult], error) {
	q := url.Values{}
	q.Set("message_id", mid)
	return acknowledged(typed[SimpleResult](ctx, c, http.MethodPut, "messages?"+q.Encode(), m))
}

// DeleteMessage removes a message the bot sent earlier.
func (c *Client) DeleteMessage(ctx context.Context, mid string) (Result[SimpleResult], error) {
	q := url.Values{}
	q.Set("message_id", mid)
	return acknowledged(typed[SimpleResult](ctx, c, http.MethodDelete, "messages?"+q.Encode(), nil))
}

// AnswerCallback acknowledges a button press with an optional toast.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, notification string) (Result[SimpleResult], error) {
	q := url.Values{}
	q.Set("callback_id", callbackID)
	body := map[string]string{}
	if notification != "" {
		body["notification"] = notification
	}
	return acknowledged(typed[SimpleResult](ctx, c, http.MethodPost, "answers?"+q.Encode(), body))
}

// Me returns the bot's own profile.
func (c *Client) Me(ctx context.Context) (Result[BotInfo], error) {
	return typed[BotInfo](ctx, c, http.MethodGet, "me", nil)
}

// Subscribe registers a webhook URL and its shared secret.
func (c *Client) Subscribe(ctx context.Context, s Subscription) (Result[SimpleResult], error) {
	return acknowledged(typed[SimpleResult](ctx, c, http.MethodPost, "subscriptions", s))
}

// Unsubscribe removes the webhook registered for hookURL.
func (c *Client) Unsubscribe(ctx context.Context, hookURL string) (Result[SimpleResult], error) {
	q := url.Values{}
	q.Set("url", hookURL)
	return acknowledged(typed[SimpleResult](ctx, c, http.MethodDelete, "subscriptions?"+q.Encode(), nil))
}

// Updates pulls pending updates without waiting. A nil marker starts from
// the oldest update the provider still holds.
func (c *Client) Updates(ctx context.Context, marker *int64) (Result[UpdateList], error) {
	q := url.Values{}
	q.Set("timeout", "0")
	if marker != nil {
		q.Set("marker", strconv.FormatInt(*marker, 10))
	}
	return typed[UpdateList](ctx, c, http.MethodGet, "updates", q)
}

// Chat returns information about a group chat or channel.
func (c *Client) Chat(ctx context.Context, chatID int64) (Result[Chat], error) {
	return typed[Chat](ctx, c, http.MethodGet, "chats/"+strconv.FormatInt(chatID, 10), nil)
}

// AddMembers invites users into a group chat or channel.
func (c *Client) AddMembers(ctx context.Context, chatID int64, userIDs ...int64) (Result[SimpleResult], error) {
	body := struct {
		UserIDs []int64 `json:"user_ids"`
	}{UserIDs: userIDs}
	return acknowledged(typed[SimpleResult](ctx, c, http.MethodPost, "chats/"+strconv.FormatInt(chatID, 10)+"/members", body))
}
