package etherscan

import (
	"errors"
	"fmt"
)

// InvalidAddressError reports an address that is not a 0x-prefixed 20-byte
// hex string, or that the API rejected as malformed.
type InvalidAddressError struct {
	Address string
}

func (e *InvalidAddressError) Error() string {
	return fmt.Sprintf("invalid contract address %q", e.Address)
}

// NotFoundError reports an address with no verified contract behind it.
type NotFoundError struct {
	Address string
}

func (e *NotFoundError) Error() string {
	return "no verified contract at address " + e.Address
}

// APIError reports an application-level rejection from the Etherscan API,
// such as a missing API key or a rate limit.
type APIError struct {
	Status      string
	Message     string
	Result      string
	RateLimited bool
}

func (e *APIError) Error() string {
	if e.Result != "" {
		return fmt.Sprintf("etherscan API error: %s: %s", e.Message, e.Result)
	}
	return "etherscan API error: " + e.Message
}

// RequestError reports a transport-level failure: the request never produced
// a well-formed API response.
type RequestError struct {
	URL string
	Err error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("etherscan request failed: %v", e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err means the address has no verified contract.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsInvalidAddress reports whether err means the address was malformed.
func IsInvalidAddress(err error) bool {
	var inv *InvalidAddressError
	return errors.As(err, &inv)
}

// IsRateLimited reports whether err is an API rejection due to rate limiting.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.RateLimited
}
