package telegram

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phone-gate-bot/internal/allowlist"
)

const testAdminID int64 = 99

// fakeAPI records outbound traffic instead of talking to Telegram.
type fakeAPI struct {
	mu   sync.Mutex
	sent []tgbotapi.Chattable
	reqs []tgbotapi.Chattable
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var texts []string
	for _, c := range f.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			texts = append(texts, m.Text)
		}
	}
	return texts
}

func (f *fakeAPI) editTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var texts []string
	for _, c := range f.reqs {
		if e, ok := c.(tgbotapi.EditMessageTextConfig); ok {
			texts = append(texts, e.Text)
		}
	}
	return texts
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func timeInAnHour() time.Time {
	return time.Now().Add(time.Hour)
}

func newTestAllowlist(t *testing.T) *allowlist.FileStore {
	t.Helper()
	dir := t.TempDir()
	store, err := allowlist.NewFileStore(
		filepath.Join(dir, "phone_numbers.txt"),
		filepath.Join(dir, "temp_phone_numbers.json"),
		testLogger(),
	)
	require.NoError(t, err)
	return store
}

// forwardRecorder captures which updates made it past the gate.
type forwardRecorder struct {
	updates []tgbotapi.Update
}

func (r *forwardRecorder) handler() HandlerFunc {
	return func(_ context.Context, u tgbotapi.Update) {
		r.updates = append(r.updates, u)
	}
}

func textUpdate(userID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID},
		Chat: &tgbotapi.Chat{ID: userID},
		Text: text,
	}}
}

func contactUpdate(userID int64, contactUserID int64, phoneNumber string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From:    &tgbotapi.User{ID: userID},
		Chat:    &tgbotapi.Chat{ID: userID},
		Contact: &tgbotapi.Contact{UserID: contactUserID, PhoneNumber: phoneNumber},
	}}
}

func newTestGate(t *testing.T) (*Gate, *fakeAPI, *forwardRecorder, HandlerFunc) {
	t.Helper()
	api := &fakeAPI{}
	store := newTestAllowlist(t)
	require.NoError(t, store.Add("+1234567"))

	gate := NewGate(api, store, nil, testAdminID, testLogger())
	rec := &forwardRecorder{}
	return gate, api, rec, gate.Middleware()(rec.handler())
}

func TestGateBlocksTextFromUnauthorized(t *testing.T) {
	_, api, rec, dispatch := newTestGate(t)

	dispatch(context.Background(), textUpdate(5, "/add +111"))

	assert.Empty(t, rec.updates, "update must not reach handlers")
	texts := api.sentTexts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "share your contact")
}

func TestGateAuthorizesOwnListedContact(t *testing.T) {
	gate, api, rec, dispatch := newTestGate(t)

	upd := contactUpdate(5, 5, "+1 234-567")
	dispatch(context.Background(), upd)

	require.Len(t, rec.updates, 1, "the authorizing update itself is forwarded")
	assert.Equal(t, upd, rec.updates[0])
	assert.True(t, gate.IsAuthorized(5))

	texts := api.sentTexts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "Authorization successful")

	// Subsequent plain messages flow straight through.
	dispatch(context.Background(), textUpdate(5, "hello"))
	assert.Len(t, rec.updates, 2)
}

func TestGateAuthorizesTemporaryNumber(t *testing.T) {
	api := &fakeAPI{}
	store := newTestAllowlist(t)
	require.NoError(t, store.AddTemporary("+7999000111", timeInAnHour()))

	gate := NewGate(api, store, nil, testAdminID, testLogger())
	rec := &forwardRecorder{}
	dispatch := gate.Middleware()(rec.handler())

	dispatch(context.Background(), contactUpdate(6, 6, "7 999 000-111"))

	assert.True(t, gate.IsAuthorized(6))
	assert.Len(t, rec.updates, 1)
}

func TestGateDeniesUnlistedContact(t *testing.T) {
	gate, api, rec, dispatch := newTestGate(t)

	dispatch(context.Background(), contactUpdate(5, 5, "+7777777"))

	assert.Empty(t, rec.updates)
	assert.False(t, gate.IsAuthorized(5))
	texts := api.sentTexts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "Access denied")
}

func TestGateRejectsForeignContact(t *testing.T) {
	gate, api, rec, dispatch := newTestGate(t)

	// Listed number, but the contact belongs to another account.
	dispatch(context.Background(), contactUpdate(5, 6, "+1234567"))

	assert.Empty(t, rec.updates)
	assert.False(t, gate.IsAuthorized(5))
	texts := api.sentTexts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "your own contact")
}

func TestGateAcceptsContactWithoutOwner(t *testing.T) {
	gate, _, rec, dispatch := newTestGate(t)

	// UserID 0 means no verifiable owner; the number decides.
	dispatch(context.Background(), contactUpdate(5, 0, "+1234567"))

	assert.True(t, gate.IsAuthorized(5))
	assert.Len(t, rec.updates, 1)
}

func TestGateForwardsAdmin(t *testing.T) {
	_, api, rec, dispatch := newTestGate(t)

	dispatch(context.Background(), textUpdate(testAdminID, "/list"))

	assert.Len(t, rec.updates, 1)
	assert.Empty(t, api.sentTexts())
}

func TestGateBlocksCallbackFromUnauthorized(t *testing.T) {
	_, api, rec, dispatch := newTestGate(t)

	dispatch(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb1",
		From:    &tgbotapi.User{ID: 5},
		Message: &tgbotapi.Message{MessageID: 1, Chat: &tgbotapi.Chat{ID: 5}},
		Data:    "delete|0|+1234567",
	}})

	assert.Empty(t, rec.updates)
	texts := api.sentTexts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "share your contact")
}
