package services

import "errors"

var (
	// ErrDecode means the source bytes are not an image we can read.
	ErrDecode = errors.New("decode failed")

	// ErrEncode means a derivative could not be produced in the requested
	// format even after flattening transparency.
	ErrEncode = errors.New("encode failed")

	// ErrOversizeInput is returned before any decode when the source exceeds
	// the configured byte ceiling.
	ErrOversizeInput = errors.New("input exceeds size limit")

	// ErrUnsupportedHost is returned by the resolver for URLs whose host does
	// not accept transformation query parameters.
	ErrUnsupportedHost = errors.New("unsupported image host")

	// ErrUnsupportedFormat is returned when a caller names a format the
	// pipeline does not produce.
	ErrUnsupportedFormat = errors.New("unsupported output format")

	// ErrBlockedAddress is returned when a download would connect to a
	// loopback, private or link-local address.
	ErrBlockedAddress = errors.New("remote address not allowed")
)
