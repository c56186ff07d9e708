package wa

import (
	"context"
)

// PairingEventType enumerates pairing lifecycle event types.
type PairingEventType string

const (
	PairingCode    PairingEventType = "code"
	PairingSuccess PairingEventType = "success"
	PairingTimeout PairingEventType = "timeout"
	PairingFailed  PairingEventType = "failed"
)

// PairingEvent represents one step of the device-link flow. Code carries
// the raw pairing payload; rendering it is the consumer's concern.
type PairingEvent struct {
	Type    PairingEventType
	Code    string
	Message string
}

// StartPairing begins the device-link flow for a profile with no engine
// credentials and streams pairing events until the flow resolves. The
// caller should read until the channel closes.
func (a *Adapter) StartPairing(ctx context.Context) (<-chan PairingEvent, error) {
	qrChan, err := a.client.GetQRChannel(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan PairingEvent, 10)

	go func() {
		defer close(out)

		// Connect must be called after GetQRChannel.
		if err := a.Connect(); err != nil {
			out <- PairingEvent{Type: PairingFailed, Message: err.Error()}
			return
		}

		for item := range qrChan {
			switch item.Event {
			case "code":
				out <- PairingEvent{Type: PairingCode, Code: item.Code}
			case "success":
				out <- PairingEvent{Type: PairingSuccess, Message: "authenticated"}
				return
			case "timeout":
				out <- PairingEvent{Type: PairingTimeout, Message: "pairing code expired"}
				return
			default:
				if item.Error != nil {
					out <- PairingEvent{Type: PairingFailed, Message: item.Error.Error()}
					return
				}
			}
		}
	}()

	return out, nil
}
