package order

import "errors"

var (
	// ErrTransport wraps network and decoding failures talking to the exchange.
	ErrTransport = errors.New("exchange transport error")
	// ErrExchangeRejected means the exchange answered with an error message.
	ErrExchangeRejected = errors.New("exchange rejected request")
	// ErrConversion means a USD amount could not be turned into a contract size.
	ErrConversion = errors.New("size conversion failed")
)
