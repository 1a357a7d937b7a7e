package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventPublisherWithDialer_InvalidConfig(t *testing.T) {
	dialer := NewMockAMQPDialerWithError(assert.AnError)
	service, err := NewEventPublisherWithDialer(EventPublisherConfig{URL: "invalid://url", QueueName: "test-queue"}, dialer)
	assert.Error(t, err)
	assert.Nil(t, service)
}

func TestNewEventPublisherWithDialer_ChannelError(t *testing.T) {
	dialer := SetupMockDialerWithChannelError()
	service, err := NewEventPublisherWithDialer(EventPublisherConfig{URL: "amqp://localhost", QueueName: "test-queue"}, dialer)
	assert.Error(t, err)
	assert.Nil(t, service)
}

func TestNewEventPublisherWithDialer_QueueDeclareError(t *testing.T) {
	dialer, _ := SetupMockDialerWithQueueError()
	service, err := NewEventPublisherWithDialer(EventPublisherConfig{URL: "amqp://localhost", QueueName: "test-queue"}, dialer)
	assert.Error(t, err)
	assert.Nil(t, service)
}

func TestEventPublisher_Close_NilSafety(t *testing.T) {
	service := &EventPublisher{}
	assert.NotPanics(t, func() {
		service.Close()
	})
}

func TestEventPublisher_Publish(t *testing.T) {
	dialer, channel, _ := SetupMockDialerForTest()
	service, err := NewEventPublisherWithDialer(EventPublisherConfig{URL: "amqp://localhost", QueueName: "action-events"}, dialer)
	require.NoError(t, err)
	defer service.Close()

	event := ActionEvent{
		ActionID:        42,
		DeploymentID:    "Qm1234",
		ProtocolNetwork: "eip155:1",
		Status:          "approved",
		OccurredAt:      time.Unix(0, 0).UTC(),
	}

	err = service.Publish(event)
	require.NoError(t, err)

	require.Len(t, channel.PublishedMessages, 1)
	assert.Equal(t, "action-events", channel.LastKey)

	var decoded ActionEvent
	require.NoError(t, json.Unmarshal(channel.PublishedMessages[0].Body, &decoded))
	assert.Equal(t, event.ActionID, decoded.ActionID)
	assert.Equal(t, event.DeploymentID, decoded.DeploymentID)
	assert.Equal(t, event.Status, decoded.Status)
}

func TestEventPublisher_PublishError(t *testing.T) {
	dialer, channel, _ := SetupMockDialerForTest()
	service, err := NewEventPublisherWithDialer(EventPublisherConfig{URL: "amqp://localhost", QueueName: "action-events"}, dialer)
	require.NoError(t, err)
	defer service.Close()

	channel.PublishErr = assert.AnError
	err = service.Publish(ActionEvent{ActionID: 1})
	assert.Error(t, err)
}
