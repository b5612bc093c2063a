package mqtt

import "errors"

// ErrNotConnected is returned when the controller is used before Connect succeeded.
var ErrNotConnected = errors.New("client is not connected to broker")
