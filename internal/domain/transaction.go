package domain

import "time"

// Channel describes how a transaction was presented.
type Channel string

const (
	ChannelUnknown Channel = ""
	ChannelSwipe   Channel = "SWIPE"
	ChannelChip    Channel = "CHIP"
	ChannelOnline  Channel = "ONLINE"
)

// Transaction is an immutable card payment at a merchant.
type Transaction struct {
	ID          int64
	CardID      int64
	MerchantID  int64
	ClientID    *int64
	AmountCents int64
	Timestamp   time.Time
	Channel     Channel
	Online      bool
	Chip        bool
	Errors      []string
}

// InteractionEdge is the derived User↔Merchant affinity. Weight is the number of
// transactions routed User→Card→Transaction→Merchant at computation time.
type InteractionEdge struct {
	UserID     int64
	MerchantID int64
	Weight     int64
	LastSeen   time.Time
}
