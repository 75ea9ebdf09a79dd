package neoauth

import "github.com/neosign/neoauth/channel"

// Delivery collaborators. See package channel for adapters.
type (
	SMSSender   = channel.SMSSender
	EmailSender = channel.EmailSender
	SMSResult   = channel.SMSResult
)
