package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (r *recordingNotifier) Send(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func TestMultiNotifier_FansOut(t *testing.T) {
	a := &recordingNotifier{}
	b := &recordingNotifier{}
	m := NewMultiNotifier(time.Minute, slog.Default(), a, b)

	err := m.Send(context.Background(), Notification{
		Kind:            KindBlacklisted,
		RecipientMobile: "9812345678",
		Message:         "You have been blacklisted.",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
}

func TestMultiNotifier_CooldownSuppressesRepeat(t *testing.T) {
	a := &recordingNotifier{}
	m := NewMultiNotifier(time.Minute, slog.Default(), a)

	n := Notification{Kind: KindRejectionWarning, RecipientMobile: "9812345678", Message: "warning"}
	require.NoError(t, m.Send(context.Background(), n))
	require.NoError(t, m.Send(context.Background(), n))
	assert.Equal(t, 1, a.count(), "second send within cooldown must be suppressed")

	// A different kind for the same recipient is a different cooldown key.
	require.NoError(t, m.Send(context.Background(), Notification{
		Kind: KindBlacklisted, RecipientMobile: "9812345678", Message: "blacklisted",
	}))
	assert.Equal(t, 2, a.count())
}

func TestMultiNotifier_CooldownExpiry(t *testing.T) {
	a := &recordingNotifier{}
	m := NewMultiNotifier(10*time.Millisecond, slog.Default(), a)

	n := Notification{Kind: KindTokenShared, RecipientMobile: "9800000001", Message: "shared"}
	require.NoError(t, m.Send(context.Background(), n))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, m.Send(context.Background(), n))
	assert.Equal(t, 2, a.count())
}

func TestMultiNotifier_FirstErrorReturnedOthersStillSent(t *testing.T) {
	failing := &recordingNotifier{err: errors.New("gateway down")}
	ok := &recordingNotifier{}
	m := NewMultiNotifier(time.Minute, slog.Default(), failing, ok)

	err := m.Send(context.Background(), Notification{
		Kind: KindWhitelisted, RecipientMobile: "9812345678", Message: "cleared",
	})
	require.Error(t, err)
	assert.Equal(t, 1, ok.count(), "failure in one channel must not block the others")
}

func TestSMSNotifier_PostsGatewayPayload(t *testing.T) {
	var gotAuthKey string
	var gotPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuthKey = r.Header.Get("authkey")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewSMSNotifier(srv.URL, "MABUGV", "secret-key")
	err := n.Send(context.Background(), Notification{
		Kind:            KindTokenIssued,
		RecipientMobile: "9812345678",
		Message:         "Token TKN-2024-001-P1 issued.",
	})
	require.NoError(t, err)

	assert.Equal(t, "secret-key", gotAuthKey)
	assert.Equal(t, "MABUGV", gotPayload["sender"])
	sms, ok := gotPayload["sms"].([]any)
	require.True(t, ok)
	require.Len(t, sms, 1)
	first := sms[0].(map[string]any)
	assert.Equal(t, "Token TKN-2024-001-P1 issued.", first["message"])
	assert.Equal(t, []any{"9812345678"}, first["to"])
}

func TestSMSNotifier_GatewayErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewSMSNotifier(srv.URL, "MABUGV", "key")
	err := n.Send(context.Background(), Notification{RecipientMobile: "9812345678", Message: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestLogNotifier_NeverFails(t *testing.T) {
	n := NewLogNotifier(slog.Default())
	assert.NoError(t, n.Send(context.Background(), Notification{
		Kind: KindBlacklisted, RecipientMobile: "9812345678", Message: "x",
	}))
}
