package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/scheduling/internal/domain"
)

func TestSendEmail(t *testing.T) {
	var got emailRequest
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/email", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	gw := NewGateway(server.URL, "secret-key", time.Second)
	err := gw.SendEmail(context.Background(), "ada@example.com", "Reminder: Quarterly review", "<p>see you soon</p>")
	require.NoError(t, err)
	require.Equal(t, "Bearer secret-key", auth)
	require.Equal(t, "ada@example.com", got.Recipient)
	require.Equal(t, "Reminder: Quarterly review", got.Subject)
	require.Equal(t, "<p>see you soon</p>", got.HTML)
}

func TestSendWhatsApp(t *testing.T) {
	var got whatsappRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/whatsapp", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	gw := NewGateway(server.URL, "secret-key", time.Second)
	err := gw.SendWhatsApp(context.Background(), "+390000000", "see you soon")
	require.NoError(t, err)
	require.Equal(t, "+390000000", got.Phone)
	require.Equal(t, "see you soon", got.Message)
}

func TestGatewayErrorStatusBecomesDeliveryFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	gw := NewGateway(server.URL, "secret-key", time.Second)
	err := gw.SendEmail(context.Background(), "ada@example.com", "s", "b")
	require.Equal(t, domain.KindReminderDeliveryFailed, domain.KindOf(err))
}

func TestGatewayUnreachable(t *testing.T) {
	gw := NewGateway("http://127.0.0.1:1", "secret-key", 200*time.Millisecond)
	err := gw.SendWhatsApp(context.Background(), "+390000000", "hi")
	require.Equal(t, domain.KindReminderDeliveryFailed, domain.KindOf(err))
}
