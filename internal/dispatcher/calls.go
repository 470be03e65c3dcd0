package dispatcher

import (
	"context"

	"chatrelay/internal/protocol"
)

type initiateCallRequest struct {
	ReceiverID int64  `json:"receiverId"`
	CallType   string `json:"callType"`
}

type callRequest struct {
	CallID int64 `json:"callId"`
}

func (d *Dispatcher) initiateCall(ctx context.Context, c *call) (*reply, error) {
	var in initiateCallRequest
	if err := c.bind(&in); err != nil {
		return nil, err
	}
	if err := requireID("receiverId", in.ReceiverID); err != nil {
		return nil, err
	}
	info, err := d.services.Calls.Initiate(ctx, c.userID, in.ReceiverID, in.CallType)
	if err != nil {
		return nil, err
	}
	d.notifier.NotifyUser(in.ReceiverID, protocol.NotifyIncomingCall, info)
	return &reply{message: "Call initiated", data: map[string]interface{}{"call": info}}, nil
}

func (d *Dispatcher) acceptCall(ctx context.Context, c *call) (*reply, error) {
	var in callRequest
	if err := c.bind(&in); err != nil {
		return nil, err
	}
	if err := requireID("callId", in.CallID); err != nil {
		return nil, err
	}
	info, err := d.services.Calls.Accept(ctx, c.userID, in.CallID)
	if err != nil {
		return nil, err
	}
	d.notifier.NotifyUser(info.CallerID, protocol.NotifyCallAccepted, info)
	return &reply{message: "Call accepted", data: map[string]interface{}{"call": info}}, nil
}

func (d *Dispatcher) rejectCall(ctx context.Context, c *call) (*reply, error) {
	var in callRequest
	if err := c.bind(&in); err != nil {
		return nil, err
	}
	if err := requireID("callId", in.CallID); err != nil {
		return nil, err
	}
	info, err := d.services.Calls.Reject(ctx, c.userID, in.CallID)
	if err != nil {
		return nil, err
	}
	d.notifier.NotifyUser(info.CallerID, protocol.NotifyCallRejected, info)
	return &reply{message: "Call rejected", data: map[string]interface{}{"call": info}}, nil
}

func (d *Dispatcher) endCall(ctx context.Context, c *call) (*reply, error) {
	var in callRequest
	if err := c.bind(&in); err != nil {
		return nil, err
	}
	if err := requireID("callId", in.CallID); err != nil {
		return nil, err
	}
	info, err := d.services.Calls.End(ctx, c.userID, in.CallID)
	if err != nil {
		return nil, err
	}
	d.notifier.NotifyUser(info.OtherParty(c.userID), protocol.NotifyCallEnded, info)
	return &reply{message: "Call ended", data: map[string]interface{}{"call": info}}, nil
}

// callSignal relays the raw payload. It never answers the sender, even
// when the receiver is offline.
func (d *Dispatcher) callSignal(_ context.Context, c *call) (*reply, error) {
	if !c.req.HasData() {
		return nil, badRequest(MsgInvalidData)
	}
	_, err := d.notifier.RelayCallSignal(c.userID, c.req.Data)
	return nil, err
}
