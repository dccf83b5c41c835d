package services

// EventPublisher is satisfied by *events.Hub. A nil publisher is allowed.
type EventPublisher interface {
	Publish(topic, eventType string, userID uint, data interface{})
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, string, uint, interface{}) {}

func orNopPublisher(p EventPublisher) EventPublisher {
	if p == nil {
		return nopPublisher{}
	}
	return p
}
