package source

import (
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tglite/internal/domain"
)

func TestEventFromUpdate(t *testing.T) {
	u := tgbotapi.Update{
		Message: &tgbotapi.Message{
			MessageID: 17,
			Text:      "hello",
			From:      &tgbotapi.User{FirstName: "Ann", LastName: "Lee", UserName: "annlee"},
			Chat:      &tgbotapi.Chat{ID: 42},
		},
	}
	ev, ok := eventFromUpdate(u)
	if !ok {
		t.Fatal("expected an event")
	}
	if ev.ConversationID != 42 || ev.UpstreamMessageID != 17 {
		t.Fatalf("ids: %+v", ev)
	}
	if ev.SenderName != "Ann Lee" {
		t.Fatalf("senderName = %q", ev.SenderName)
	}
	if ev.SenderHandle != "annlee" || ev.Text != "hello" {
		t.Fatalf("event: %+v", ev)
	}
}

func TestEventFromUpdateNoLastName(t *testing.T) {
	u := tgbotapi.Update{
		Message: &tgbotapi.Message{
			MessageID: 1,
			Text:      "hi",
			From:      &tgbotapi.User{FirstName: "Ann"},
			Chat:      &tgbotapi.Chat{ID: 42},
		},
	}
	ev, ok := eventFromUpdate(u)
	if !ok {
		t.Fatal("expected an event")
	}
	if ev.SenderName != "Ann" {
		t.Fatalf("senderName = %q", ev.SenderName)
	}
}

func TestEventFromUpdateSkips(t *testing.T) {
	cases := []struct {
		name string
		u    tgbotapi.Update
	}{
		{"no message", tgbotapi.Update{}},
		{"empty text", tgbotapi.Update{Message: &tgbotapi.Message{
			From: &tgbotapi.User{FirstName: "Ann"},
			Chat: &tgbotapi.Chat{ID: 42},
		}}},
		{"no sender", tgbotapi.Update{Message: &tgbotapi.Message{
			Text: "hi",
			Chat: &tgbotapi.Chat{ID: 42},
		}}},
	}
	for _, tc := range cases {
		if _, ok := eventFromUpdate(tc.u); ok {
			t.Errorf("%s: expected skip", tc.name)
		}
	}
}

func TestMapAPIError(t *testing.T) {
	err := mapAPIError(&tgbotapi.Error{Code: 400, Message: "Bad Request: chat not found"})
	var rej *domain.RejectedError
	if !errors.As(err, &rej) {
		t.Fatalf("want RejectedError, got %T", err)
	}
	if rej.Detail != "Bad Request: chat not found" {
		t.Fatalf("detail = %q", rej.Detail)
	}

	err = mapAPIError(errors.New("connection reset"))
	if !domain.IsTransient(err) {
		t.Fatalf("want transient, got %T", err)
	}
}
