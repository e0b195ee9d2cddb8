package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-intervention-api/internal/dto"
)

func sampleAlert() dto.MentorAlert {
	return newMentorAlert("s1", 0, 0, true, "iv-1", time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
}

func TestWebhookMentorNotifierPostsAlert(t *testing.T) {
	received := make(chan dto.MentorAlert, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, webhookUserAgent, r.Header.Get("User-Agent"))
		var alert dto.MentorAlert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		received <- alert
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewWebhookMentorNotifier(server.URL, time.Second, testLogger())
	require.NoError(t, notifier.Notify(context.Background(), sampleAlert()))

	alert := <-received
	require.Equal(t, "iv-1", alert.InterventionID)
	require.Equal(t, ReasonFocusViolation, alert.PerformanceIssue)
	require.Equal(t, submissionTypePenalty, alert.SubmissionType)
	require.NotNil(t, alert.PenaltyReason)
	require.Equal(t, penaltyReasonTabSwitching, *alert.PenaltyReason)
}

func TestWebhookMentorNotifierReportsNonOK(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	notifier := NewWebhookMentorNotifier(server.URL, time.Second, testLogger())
	require.Error(t, notifier.Notify(context.Background(), sampleAlert()))
}

func TestWebhookMentorNotifierRequiresURL(t *testing.T) {
	notifier := NewWebhookMentorNotifier("", time.Second, testLogger())
	require.Error(t, notifier.Notify(context.Background(), sampleAlert()))
}

func TestBrokerMentorNotifierPublishesToRedis(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	ctx := context.Background()
	pubsub := client.Subscribe(ctx, "gema:mentor-alerts")
	defer pubsub.Close()
	_, err = pubsub.Receive(ctx)
	require.NoError(t, err)

	notifier := NewBrokerMentorNotifier(client, nil, "gema")
	require.Equal(t, "gema.mentor-alerts", notifier.natsSubject)
	require.NoError(t, notifier.Notify(ctx, sampleAlert()))

	msg, err := pubsub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var alert dto.MentorAlert
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &alert))
	require.Equal(t, "s1", alert.StudentID)
}

type fakeAMQPChannel struct {
	exchange string
	key      string
	msg      amqp091.Publishing
	err      error
}

func (f *fakeAMQPChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp091.Publishing) error {
	f.exchange = exchange
	f.key = key
	f.msg = msg
	return f.err
}

func TestAMQPMentorNotifierPublishesPersistentMessage(t *testing.T) {
	channel := &fakeAMQPChannel{}
	notifier := NewAMQPMentorNotifier(channel, "mentor.alerts", "intervention.opened")

	require.NoError(t, notifier.Notify(context.Background(), sampleAlert()))
	require.Equal(t, "mentor.alerts", channel.exchange)
	require.Equal(t, "intervention.opened", channel.key)
	require.Equal(t, amqp091.Persistent, channel.msg.DeliveryMode)
	require.Equal(t, "iv-1", channel.msg.MessageId)

	var alert dto.MentorAlert
	require.NoError(t, json.Unmarshal(channel.msg.Body, &alert))
	require.True(t, alert.PenaltyImposed)

	channel.err = errors.New("channel closed")
	require.Error(t, notifier.Notify(context.Background(), sampleAlert()))
}

func TestMultiMentorNotifierCallsEveryNotifier(t *testing.T) {
	first := &recordingNotifier{err: errors.New("first failed")}
	second := &recordingNotifier{}
	multi := MultiMentorNotifier{first, nil, second, NewLogMentorNotifier(testLogger())}

	err := multi.Notify(context.Background(), sampleAlert())
	require.ErrorContains(t, err, "first failed")
	require.Len(t, first.sent(), 1)
	require.Len(t, second.sent(), 1)
}

func TestStatusBroadcasterDeliversPerStudent(t *testing.T) {
	broadcaster := NewStatusBroadcaster()
	s1, cancelS1 := broadcaster.Subscribe("s1")
	s2, cancelS2 := broadcaster.Subscribe("s2")
	defer cancelS2()

	broadcaster.Broadcast(dto.StatusResponse{StudentID: "s1", Status: "Remedial"})

	require.Equal(t, "Remedial", (<-s1).Status)
	select {
	case <-s2:
		t.Fatal("s2 must not receive s1 updates")
	default:
	}

	cancelS1()
	cancelS1()
	_, open := <-s1
	require.False(t, open)

	var nilBroadcaster *StatusBroadcaster
	nilBroadcaster.Broadcast(dto.StatusResponse{StudentID: "s1"})
}
