package service

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"chatrelay/internal/auth"
	"chatrelay/internal/database"
	dbconfig "chatrelay/pkg/database"
	"chatrelay/pkg/types"
)

func setupServices(t *testing.T) *Services {
	t.Helper()

	config := dbconfig.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "service.db")
	config.WriteTimeout = 5 * time.Second

	logger := zaptest.NewLogger(t)
	store, err := database.NewManager(config, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, dbconfig.NewMigrationManager(store.GetDB(), nil).ApplyMigrations())

	files, err := NewFileService(filepath.Join(t.TempDir(), "uploads"), logger)
	require.NoError(t, err)

	return New(store, auth.NewBcryptService(bcrypt.MinCost), auth.NewLoginLimiter(5, time.Minute), files, logger)
}

func register(t *testing.T, s *Services, username string) *types.User {
	t.Helper()
	user, err := s.Users.Register(context.Background(), &types.Registration{
		Username: username,
		Email:    username + "@example.com",
		Password: "p",
		FullName: "Full " + username,
	})
	require.NoError(t, err)
	return user
}

func befriend(t *testing.T, s *Services, a, b int64) {
	t.Helper()
	ctx := context.Background()
	req, err := s.Friends.SendRequest(ctx, a, b)
	require.NoError(t, err)
	_, err = s.Friends.Accept(ctx, b, req.RequestID)
	require.NoError(t, err)
}

func assertBusiness(t *testing.T, err error, want *BusinessError) {
	t.Helper()
	require.Error(t, err)
	be, ok := AsBusiness(err)
	require.True(t, ok, "expected a business error, got %v", err)
	assert.Equal(t, want.Error(), be.Error())
}

func TestUserService_RegisterAndLogin(t *testing.T) {
	s := setupServices(t)
	ctx := context.Background()

	alice := register(t, s, "alice")
	assert.Equal(t, types.StatusOffline, alice.UserStatus)

	_, err := s.Users.Register(ctx, &types.Registration{Username: "alice", Email: "other@example.com", Password: "p"})
	assertBusiness(t, err, ErrUsernameExists)

	_, err = s.Users.Register(ctx, &types.Registration{Username: "alice2", Email: "alice@example.com", Password: "p"})
	assertBusiness(t, err, ErrEmailExists)

	_, err = s.Users.Register(ctx, &types.Registration{Username: "bad name", Email: "x@example.com", Password: "p"})
	be, ok := AsBusiness(err)
	require.True(t, ok)
	assert.ErrorIs(t, be, types.ErrInvalidUsername)

	user, err := s.Users.Login(ctx, "alice", "p")
	require.NoError(t, err)
	assert.Equal(t, alice.UserID, user.UserID)
	assert.Equal(t, types.StatusOnline, user.UserStatus)
	assert.NotNil(t, user.LastLogin)

	_, err = s.Users.Login(ctx, "alice", "wrong")
	assertBusiness(t, err, ErrInvalidCredentials)
	_, err = s.Users.Login(ctx, "nobody", "p")
	assertBusiness(t, err, ErrInvalidCredentials)

	require.NoError(t, s.Users.Logout(ctx, alice.UserID))
	profile, err := s.Users.Profile(ctx, alice.UserID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusOffline, profile.UserStatus)
}

func TestUserService_LoginTrimsUsername(t *testing.T) {
	s := setupServices(t)
	ctx := context.Background()

	bob, err := s.Users.Register(ctx, &types.Registration{Username: " bob ", Email: "bob@example.com", Password: "p"})
	require.NoError(t, err)
	assert.Equal(t, "bob", bob.Username)

	user, err := s.Users.Login(ctx, " bob ", "p")
	require.NoError(t, err)
	assert.Equal(t, bob.UserID, user.UserID)

	user, err = s.Users.Login(ctx, "bob\t", "p")
	require.NoError(t, err)
	assert.Equal(t, bob.UserID, user.UserID)
}

func TestUserService_LoginThrottled(t *testing.T) {
	s := setupServices(t)
	ctx := context.Background()
	register(t, s, "alice")

	for i := 0; i < 5; i++ {
		_, err := s.Users.Login(ctx, "alice", "wrong")
		assertBusiness(t, err, ErrInvalidCredentials)
	}
	_, err := s.Users.Login(ctx, "alice", "p")
	assertBusiness(t, err, ErrTooManyAttempts)
}

func TestUserService_ProfileAndStatus(t *testing.T) {
	s := setupServices(t)
	ctx := context.Background()
	alice := register(t, s, "alice")
	register(t, s, "alicia")

	require.NoError(t, s.Users.UpdateProfile(ctx, alice.UserID, "Alice A.", "hello"))
	status, err := s.Users.UpdateStatus(ctx, alice.UserID, "away")
	require.NoError(t, err)
	assert.Equal(t, types.StatusAway, status)

	_, err = s.Users.UpdateStatus(ctx, alice.UserID, "SLEEPING")
	require.Error(t, err)
	_, ok := AsBusiness(err)
	assert.True(t, ok)

	got, err := s.Users.Profile(ctx, alice.UserID)
	require.NoError(t, err)
	assert.Equal(t, "Alice A.", got.FullName)
	assert.Equal(t, "hello", got.StatusMessage)
	assert.Equal(t, types.StatusAway, got.UserStatus)

	found, err := s.Users.Search(ctx, "ali")
	require.NoError(t, err)
	assert.Len(t, found, 2)

	_, err = s.Users.Profile(ctx, 9999)
	assertBusiness(t, err, ErrUserNotFound)
}

func TestFriendService_RequestLifecycle(t *testing.T) {
	s := setupServices(t)
	ctx := context.Background()
	alice := register(t, s, "alice")
	bob := register(t, s, "bob")
	carol := register(t, s, "carol")

	_, err := s.Friends.SendRequest(ctx, alice.UserID, alice.UserID)
	assertBusiness(t, err, ErrCannotFriendSelf)
	_, err = s.Friends.SendRequest(ctx, alice.UserID, 9999)
	assertBusiness(t, err, ErrUserNotFound)

	req, err := s.Friends.SendRequest(ctx, alice.UserID, bob.UserID)
	require.NoError(t, err)
	_, err = s.Friends.SendRequest(ctx, bob.UserID, alice.UserID)
	assertBusiness(t, err, ErrFriendRequestDup)

	pending, err := s.Friends.PendingRequests(ctx, bob.UserID)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	_, err = s.Friends.Accept(ctx, carol.UserID, req.RequestID)
	assertBusiness(t, err, ErrNotRequestTarget)

	accepted, err := s.Friends.Accept(ctx, bob.UserID, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, alice.UserID, accepted.SenderID)
	assert.Equal(t, types.RequestAccepted, accepted.RequestStatus)

	_, err = s.Friends.Accept(ctx, bob.UserID, req.RequestID)
	assertBusiness(t, err, ErrRequestNotPending)
	_, err = s.Friends.SendRequest(ctx, alice.UserID, bob.UserID)
	assertBusiness(t, err, ErrFriendRequestDup)

	friends, err := s.Friends.Friends(ctx, alice.UserID)
	require.NoError(t, err)
	require.Len(t, friends, 1)
	assert.Equal(t, bob.UserID, friends[0].UserID)

	req2, err := s.Friends.SendRequest(ctx, carol.UserID, alice.UserID)
	require.NoError(t, err)
	_, err = s.Friends.Reject(ctx, alice.UserID, req2.RequestID)
	require.NoError(t, err)
	_, err = s.Friends.Reject(ctx, alice.UserID, 9999)
	assertBusiness(t, err, ErrRequestNotFound)
}

func TestGroupService_MembershipRules(t *testing.T) {
	s := setupServices(t)
	ctx := context.Background()
	alice := register(t, s, "alice")
	bob := register(t, s, "bob")
	carol := register(t, s, "carol")

	_, err := s.Groups.Create(ctx, alice.UserID, "   ", "")
	assertBusiness(t, err, ErrEmptyGroupName)

	g, err := s.Groups.Create(ctx, alice.UserID, "team", "the team")
	require.NoError(t, err)
	assert.Equal(t, []int64{alice.UserID}, g.MemberIDs)

	require.NoError(t, s.Groups.Join(ctx, bob.UserID, g.GroupID, bob.UserID))
	assertBusiness(t, s.Groups.Join(ctx, bob.UserID, g.GroupID, bob.UserID), ErrAlreadyMember)
	assertBusiness(t, s.Groups.Join(ctx, carol.UserID, 9999, carol.UserID), ErrGroupNotFound)

	// Members can add others; outsiders cannot.
	outsider := register(t, s, "dave")
	assertBusiness(t, s.Groups.Join(ctx, outsider.UserID, g.GroupID, carol.UserID), ErrNotGroupMember)
	require.NoError(t, s.Groups.Join(ctx, alice.UserID, g.GroupID, carol.UserID))

	members, err := s.Groups.Members(ctx, g.GroupID)
	require.NoError(t, err)
	assert.Len(t, members, 3)

	groups, err := s.Groups.Groups(ctx, carol.UserID)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "team", groups[0].GroupName)
}

func TestMessageService_PrivateAndGroup(t *testing.T) {
	s := setupServices(t)
	ctx := context.Background()
	alice := register(t, s, "alice")
	bob := register(t, s, "bob")
	carol := register(t, s, "carol")

	_, err := s.Messages.Send(ctx, Draft{SenderID: alice.UserID, Content: "hi"})
	assertBusiness(t, err, ErrMissingTarget)
	_, err = s.Messages.Send(ctx, Draft{SenderID: alice.UserID, ReceiverID: bob.UserID, GroupID: 1, Content: "hi"})
	assertBusiness(t, err, ErrMissingTarget)
	_, err = s.Messages.Send(ctx, Draft{SenderID: alice.UserID, ReceiverID: bob.UserID, Content: "  "})
	require.Error(t, err)
	_, err = s.Messages.Send(ctx, Draft{SenderID: alice.UserID, ReceiverID: 9999, Content: "hi"})
	assertBusiness(t, err, ErrUserNotFound)

	msg, err := s.Messages.Send(ctx, Draft{SenderID: alice.UserID, ReceiverID: bob.UserID, Content: "hello bob"})
	require.NoError(t, err)
	assert.Equal(t, types.MessageText, msg.MessageType)
	require.NotNil(t, msg.ReceiverID)
	assert.Equal(t, bob.UserID, *msg.ReceiverID)

	history, err := s.Messages.PrivateHistory(ctx, bob.UserID, alice.UserID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hello bob", history[0].MessageContent)

	g, err := s.Groups.Create(ctx, alice.UserID, "team", "")
	require.NoError(t, err)
	_, err = s.Messages.Send(ctx, Draft{SenderID: carol.UserID, GroupID: g.GroupID, Content: "let me in"})
	assertBusiness(t, err, ErrNotGroupMember)

	gm, err := s.Messages.Send(ctx, Draft{SenderID: alice.UserID, GroupID: g.GroupID, Content: "welcome", Type: "emoji"})
	require.NoError(t, err)
	assert.Equal(t, types.MessageEmoji, gm.MessageType)

	_, err = s.Messages.GroupHistory(ctx, carol.UserID, g.GroupID, 10)
	assertBusiness(t, err, ErrNotGroupMember)
	groupHistory, err := s.Messages.GroupHistory(ctx, alice.UserID, g.GroupID, 10)
	require.NoError(t, err)
	assert.Len(t, groupHistory, 1)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultHistoryLimit, clampLimit(0))
	assert.Equal(t, DefaultHistoryLimit, clampLimit(-3))
	assert.Equal(t, 10, clampLimit(10))
	assert.Equal(t, MaxHistoryLimit, clampLimit(MaxHistoryLimit+1))
}

func TestCallService_Transitions(t *testing.T) {
	s := setupServices(t)
	ctx := context.Background()
	alice := register(t, s, "alice")
	bob := register(t, s, "bob")
	carol := register(t, s, "carol")

	_, err := s.Calls.Initiate(ctx, alice.UserID, bob.UserID, "HOLOGRAM")
	require.Error(t, err)
	_, err = s.Calls.Initiate(ctx, alice.UserID, alice.UserID, "AUDIO")
	assertBusiness(t, err, ErrCannotCallSelf)

	call, err := s.Calls.Initiate(ctx, alice.UserID, bob.UserID, "video")
	require.NoError(t, err)
	assert.Equal(t, types.CallRinging, call.CallStatus)
	assert.Equal(t, types.CallVideo, call.CallType)

	_, err = s.Calls.Accept(ctx, alice.UserID, call.CallID)
	assertBusiness(t, err, ErrNotCallParticipant)

	accepted, err := s.Calls.Accept(ctx, bob.UserID, call.CallID)
	require.NoError(t, err)
	assert.Equal(t, types.CallAccepted, accepted.CallStatus)

	_, err = s.Calls.Reject(ctx, bob.UserID, call.CallID)
	assertBusiness(t, err, ErrCallNotRinging)
	_, err = s.Calls.End(ctx, carol.UserID, call.CallID)
	assertBusiness(t, err, ErrNotCallParticipant)

	ended, err := s.Calls.End(ctx, alice.UserID, call.CallID)
	require.NoError(t, err)
	assert.Equal(t, types.CallEnded, ended.CallStatus)
	assert.NotNil(t, ended.EndedAt)

	_, err = s.Calls.End(ctx, bob.UserID, call.CallID)
	assertBusiness(t, err, ErrCallFinished)
	_, err = s.Calls.End(ctx, bob.UserID, 9999)
	assertBusiness(t, err, ErrCallNotFound)

	second, err := s.Calls.Initiate(ctx, alice.UserID, bob.UserID, "AUDIO")
	require.NoError(t, err)
	rejected, err := s.Calls.Reject(ctx, bob.UserID, second.CallID)
	require.NoError(t, err)
	assert.Equal(t, types.CallRejected, rejected.CallStatus)
}

func TestFileService_SaveAndRead(t *testing.T) {
	root := filepath.Join(t.TempDir(), "uploads")
	files, err := NewFileService(root, zaptest.NewLogger(t))
	require.NoError(t, err)

	for _, dir := range []string{"images", "files", "videos", "audio"} {
		assert.DirExists(t, filepath.Join(root, dir))
	}

	payload := base64.StdEncoding.EncodeToString([]byte("png bytes"))
	stored, err := files.Save("photo.png", payload, "IMAGE")
	require.NoError(t, err)
	assert.Equal(t, "photo.png", stored.Name)
	assert.Equal(t, int64(9), stored.Size)
	assert.Equal(t, types.MessageImage, stored.Type)
	assert.Equal(t, ".png", filepath.Ext(stored.Path))
	assert.Equal(t, "images", filepath.Base(filepath.Dir(stored.Path)))

	data, err := files.Read(stored.Path)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	rel, err := filepath.Rel(root, filepath.FromSlash(stored.Path))
	require.NoError(t, err)
	data, err = files.Read(filepath.ToSlash(rel))
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestFileService_Rejections(t *testing.T) {
	root := filepath.Join(t.TempDir(), "uploads")
	files, err := NewFileService(root, nil)
	require.NoError(t, err)

	_, err = files.Save("x.bin", "%%% not base64", "FILE")
	assertBusiness(t, err, ErrInvalidFileData)
	_, err = files.Save("", "", "FILE")
	assertBusiness(t, err, ErrMissingFileName)

	secret := filepath.Join(filepath.Dir(root), "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("top secret"), 0o600))

	_, err = files.Read(secret)
	assert.Error(t, err)
	_, err = files.Read("../secret.txt")
	assertBusiness(t, err, ErrInvalidFilePath)
	_, err = files.Read("")
	assertBusiness(t, err, ErrInvalidFilePath)
	_, err = files.Read("files/missing.bin")
	assertBusiness(t, err, ErrFileNotFound)
}
