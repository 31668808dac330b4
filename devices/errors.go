package devices

import "errors"

var (
	errCommunicationLost      = errors.New("devices: communication link unavailable")
	errOptimisticUpdateFailed = errors.New("devices: optimistic property update exhausted retries")
)
