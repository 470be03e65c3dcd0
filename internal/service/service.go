// Package service holds the business rules behind each protocol action.
// Services are synchronous and run on the calling connection's goroutine.
package service

import (
	"go.uber.org/zap"

	"chatrelay/internal/auth"
	"chatrelay/pkg/interfaces"
)

// Services bundles every business service over one store.
type Services struct {
	Users    *UserService
	Friends  *FriendService
	Groups   *GroupService
	Messages *MessageService
	Calls    *CallService
	Files    *FileService
}

// New wires all services over store. files may be nil when attachments are
// not served.
func New(store interfaces.Store, credentials interfaces.CredentialService, limiter *auth.LoginLimiter, files *FileService, logger *zap.Logger) *Services {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("service")
	return &Services{
		Users:    NewUserService(store, credentials, limiter, logger),
		Friends:  NewFriendService(store, store, logger),
		Groups:   NewGroupService(store, store, logger),
		Messages: NewMessageService(store, store, store, logger),
		Calls:    NewCallService(store, store, logger),
		Files:    files,
	}
}
