package model

import "time"

type EventType string

const (
	EventChannelCreated  EventType = "channelCreated"
	EventPaymentReceived EventType = "paymentReceived"
	EventPaymentRejected EventType = "paymentRejected"
	EventChannelClaimed  EventType = "channelClaimed"
)

type Event struct {
	Type      EventType          `json:"type"`
	ChannelID ChannelID          `json:"channel_id"`
	Payment   *SerializedPayment `json:"payment,omitempty"`
	Reason    string             `json:"reason,omitempty"`
	Receipt   *Receipt           `json:"receipt,omitempty"`
	At        time.Time          `json:"at"`
}
