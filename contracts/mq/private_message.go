package mq

import "time"

const (
	// RoutingKeyPrivateMessage is the events-exchange key the bridge publishes
	// inbound messages with.
	RoutingKeyPrivateMessage = "message.private.received"
	// OutboundQueuePrefix plus a recipient handle names the queue the bridge
	// drains for that recipient.
	OutboundQueuePrefix = "outbound."
)

type SenderPayload struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// PrivateMessagePayload is published by the bridge for every new message.
type PrivateMessagePayload struct {
	MessageID int64         `json:"message_id"`
	Text      string        `json:"text"`
	Sender    SenderPayload `json:"sender"`
	Date      time.Time     `json:"date"`
	IsPrivate bool          `json:"is_private"`
	Incoming  bool          `json:"incoming"`
}

// OutboundMessagePayload is consumed by the bridge and sent to Recipient.
type OutboundMessagePayload struct {
	Recipient string    `json:"recipient"`
	Text      string    `json:"text"`
	SentAt    time.Time `json:"sent_at"`
}
