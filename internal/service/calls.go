package service

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// CallService tracks call records. Media never passes through it; frames
// are relayed by the router.
type CallService struct {
	users  interfaces.UserStore
	calls  interfaces.CallStore
	logger *zap.Logger
}

func NewCallService(users interfaces.UserStore, calls interfaces.CallStore, logger *zap.Logger) *CallService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CallService{users: users, calls: calls, logger: logger.Named("calls")}
}

// Initiate opens a RINGING call from callerID to receiverID.
func (s *CallService) Initiate(ctx context.Context, callerID, receiverID int64, rawType string) (*types.CallInfo, error) {
	callType, err := types.ParseCallType(rawType)
	if err != nil {
		return nil, invalid(err)
	}
	if callerID == receiverID {
		return nil, ErrCannotCallSelf
	}
	if _, err := s.users.GetUserByID(ctx, receiverID); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, errors.Wrap(err, "load receiver")
	}

	call, err := s.calls.CreateCall(ctx, callerID, receiverID, callType)
	if err != nil {
		return nil, errors.Wrap(err, "create call")
	}
	s.logger.Info("call initiated",
		zap.Int64("call_id", call.CallID), zap.Int64("user_id", callerID), zap.Int64("receiver_id", receiverID),
		zap.String("call_type", string(callType)))
	return call, nil
}

// Accept answers a ringing call. Only the receiver may accept.
func (s *CallService) Accept(ctx context.Context, userID, callID int64) (*types.CallInfo, error) {
	return s.answer(ctx, userID, callID, types.CallAccepted)
}

// Reject declines a ringing call. Only the receiver may reject.
func (s *CallService) Reject(ctx context.Context, userID, callID int64) (*types.CallInfo, error) {
	return s.answer(ctx, userID, callID, types.CallRejected)
}

func (s *CallService) answer(ctx context.Context, userID, callID int64, to types.CallStatus) (*types.CallInfo, error) {
	call, err := s.load(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call.ReceiverID != userID {
		return nil, ErrNotCallParticipant
	}
	updated, err := s.calls.TransitionCall(ctx, callID, []types.CallStatus{types.CallRinging}, to)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, ErrCallNotRinging
	}
	if err != nil {
		return nil, errors.Wrap(err, "answer call")
	}
	return updated, nil
}

// End hangs up a ringing or accepted call. Either participant may end it.
func (s *CallService) End(ctx context.Context, userID, callID int64) (*types.CallInfo, error) {
	call, err := s.load(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !call.IsParticipant(userID) {
		return nil, ErrNotCallParticipant
	}
	updated, err := s.calls.TransitionCall(ctx, callID,
		[]types.CallStatus{types.CallRinging, types.CallAccepted}, types.CallEnded)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, ErrCallFinished
	}
	if err != nil {
		return nil, errors.Wrap(err, "end call")
	}
	s.logger.Info("call ended", zap.Int64("call_id", callID), zap.Int64("user_id", userID), zap.Int64("duration", updated.Duration))
	return updated, nil
}

func (s *CallService) load(ctx context.Context, callID int64) (*types.CallInfo, error) {
	call, err := s.calls.GetCall(ctx, callID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, ErrCallNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "load call")
	}
	return call, nil
}
