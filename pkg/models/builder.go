package models

import "time"

type NotificationEnvelopeBuilder struct {
	envelope *NotificationEnvelope
}

func NewNotificationEnvelopeBuilder() *NotificationEnvelopeBuilder {
	return &NotificationEnvelopeBuilder{
		envelope: &NotificationEnvelope{},
	}
}

func (b *NotificationEnvelopeBuilder) WithPayload(payload []byte) *NotificationEnvelopeBuilder {
	b.envelope.RawPayload = payload
	return b
}

func (b *NotificationEnvelopeBuilder) WithContentType(contentType string) *NotificationEnvelopeBuilder {
	b.envelope.ContentType = contentType
	return b
}

func (b *NotificationEnvelopeBuilder) WithReceivedAt(receivedAt time.Time) *NotificationEnvelopeBuilder {
	b.envelope.ReceivedAt = receivedAt
	return b
}

func (b *NotificationEnvelopeBuilder) WithSourceHint(hint string) *NotificationEnvelopeBuilder {
	b.envelope.SourceHint = hint
	return b
}

func (b *NotificationEnvelopeBuilder) Build() *NotificationEnvelope {
	if b.envelope.ReceivedAt.IsZero() {
		b.envelope.ReceivedAt = time.Now().UTC()
	}
	return b.envelope
}
