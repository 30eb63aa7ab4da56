package peerchannel

import "github.com/pkg/errors"

var (
	errClosed          = errors.New("peerchannel: channel is closed")
	errPayloadTooLarge = errors.New("peerchannel: payload exceeds MaxPayloadSize")
	errVersionMismatch = errors.New("peerchannel: frame header version mismatch")
)
