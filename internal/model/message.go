package model

import "github.com/ethereum/go-ethereum/common"

const (
	ResponseOK       = "ok"
	ResponseRejected = "rejected"

	StreamDataUnit         = "wei"
	StreamPaymentUnit      = "kB"
	StreamPaymentCurrency  = "ETH"
	StreamDataPaymentRatio = "5"
)

type (
	HelloRequest struct {
		SenderAddress common.Address `json:"sender_address"`
		// SettlingPeriodBlocks is informational; the payer opens the channel.
		SettlingPeriodBlocks uint64 `json:"settling_period_blocks,omitempty"`
	}

	HelloResponse struct {
		ReceiverAddress        common.Address `json:"receiver_address"`
		StreamDataUnit         string         `json:"stream_data_unit"`
		StreamPaymentUnit      string         `json:"stream_payment_unit"`
		StreamPaymentCurrency  string         `json:"stream_payment_currency"`
		StreamDataPaymentRatio string         `json:"stream_data_payment_ratio"`
		ChannelID              ChannelID      `json:"channel_id"`
	}

	ProofRequest struct {
		Payment SerializedPayment `json:"payment"`
	}

	ProofResponse struct {
		Response string `json:"response"`
		Reason   string `json:"reason,omitempty"`
	}

	ErrorResponse struct {
		Error string `json:"error"`
	}
)

// NewHelloResponse fills the stream metadata announced by every payee.
func NewHelloResponse(receiver common.Address, id ChannelID) *HelloResponse {
	return &HelloResponse{
		ReceiverAddress:        receiver,
		StreamDataUnit:         StreamDataUnit,
		StreamPaymentUnit:      StreamPaymentUnit,
		StreamPaymentCurrency:  StreamPaymentCurrency,
		StreamDataPaymentRatio: StreamDataPaymentRatio,
		ChannelID:              id,
	}
}
