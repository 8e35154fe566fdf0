package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	routingKey string
	events     []any
	err        error
}

func (p *capturePublisher) Publish(_ context.Context, routingKey string, event any) error {
	p.routingKey = routingKey
	p.events = append(p.events, event)
	return p.err
}

func TestEmitBuildsEnvelope(t *testing.T) {
	pub := &capturePublisher{}
	emitter := NewAuditEmitter(pub, "audit.messenger", "messenger-service", "test")
	username := "carol"

	emitter.Emit(context.Background(), "INFO", "Group created", "req-1", &username)

	require.Len(t, pub.events, 1)
	assert.Equal(t, "audit.messenger", pub.routingKey)
	env := pub.events[0].(AuditEnvelope)
	assert.Equal(t, "audit_log", env.EventType)
	assert.Equal(t, "messenger-service", env.Service)
	assert.Equal(t, "req-1", env.RequestID)
	require.NotNil(t, env.Username)
	assert.Equal(t, "carol", *env.Username)
	assert.Equal(t, AuditPayload{Level: "INFO", Text: "Group created"}, env.Payload)
}

func TestEmitSwallowsFailuresAndNilEmitter(t *testing.T) {
	pub := &capturePublisher{err: errors.New("down")}
	NewAuditEmitter(pub, "audit", "svc", "test").Emit(context.Background(), "ERROR", "x", "", nil)
	assert.Len(t, pub.events, 1)

	var nilEmitter *AuditEmitter
	assert.NotPanics(t, func() { nilEmitter.Emit(context.Background(), "INFO", "x", "", nil) })
}

func TestInitTracingWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), "messenger-service", "")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
