package domain

// MessageBus carries inbound messages from channels to the survey engine.
type MessageBus interface {
	Publish(msg InboundMessage)
	Subscribe() <-chan InboundMessage
	Close()
}
