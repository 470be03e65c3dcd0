package database

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	dbconfig "chatrelay/pkg/database"
	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

func setupTestDB(t *testing.T) *Manager {
	t.Helper()

	config := dbconfig.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "test.db")
	config.WriteTimeout = 5 * time.Second

	manager, err := NewManager(config, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	require.NoError(t, dbconfig.NewMigrationManager(manager.GetDB(), nil).ApplyMigrations())
	return manager
}

func createUser(t *testing.T, m *Manager, username string) *types.User {
	t.Helper()
	user, err := m.CreateUser(context.Background(), &types.Registration{
		Username: username,
		Email:    username + "@example.com",
		Password: "secret",
		FullName: "Full " + username,
	}, "hash-"+username)
	require.NoError(t, err)
	return user
}

func makeFriends(t *testing.T, m *Manager, a, b int64) {
	t.Helper()
	ctx := context.Background()
	req, err := m.CreateFriendRequest(ctx, a, b)
	require.NoError(t, err)
	require.NoError(t, m.AcceptFriendRequest(ctx, req.RequestID))
}

func TestManager_HealthCheckAndClose(t *testing.T) {
	m := setupTestDB(t)
	require.NoError(t, m.HealthCheck(context.Background()))

	require.NoError(t, m.Close())
	require.NoError(t, m.Close(), "second close is a no-op")

	assert.ErrorIs(t, m.HealthCheck(context.Background()), interfaces.ErrClosed)
	_, err := m.CreateUser(context.Background(), &types.Registration{Username: "late", Email: "l@x.io"}, "h")
	assert.ErrorIs(t, err, interfaces.ErrClosed)
}

func TestManager_UserLifecycle(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	alice := createUser(t, m, "alice")
	assert.NotZero(t, alice.UserID)
	assert.Equal(t, types.StatusOffline, alice.UserStatus)
	assert.Nil(t, alice.LastLogin)

	user, hash, err := m.GetCredentials(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "hash-alice", hash)
	assert.Equal(t, alice.UserID, user.UserID)

	exists, err := m.UsernameExists(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = m.EmailExists(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, m.UpdateProfile(ctx, alice.UserID, "Alice A.", "hello"))
	require.NoError(t, m.UpdateStatus(ctx, alice.UserID, types.StatusBusy))
	require.NoError(t, m.TouchLastLogin(ctx, alice.UserID))

	reloaded, err := m.GetUserByID(ctx, alice.UserID)
	require.NoError(t, err)
	assert.Equal(t, "Alice A.", reloaded.FullName)
	assert.Equal(t, "hello", reloaded.StatusMessage)
	assert.Equal(t, types.StatusBusy, reloaded.UserStatus)
	assert.NotNil(t, reloaded.LastLogin)
}

func TestManager_ResetPresence(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	alice := createUser(t, m, "alice")
	bob := createUser(t, m, "bob")
	carol := createUser(t, m, "carol")
	require.NoError(t, m.UpdateStatus(ctx, alice.UserID, types.StatusOnline))
	require.NoError(t, m.UpdateStatus(ctx, bob.UserID, types.StatusBusy))

	n, err := m.ResetPresence(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for _, id := range []int64{alice.UserID, bob.UserID, carol.UserID} {
		user, err := m.GetUserByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, types.StatusOffline, user.UserStatus)
	}

	n, err = m.ResetPresence(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestManager_UserErrors(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	createUser(t, m, "alice")

	_, err := m.CreateUser(ctx, &types.Registration{Username: "alice", Email: "other@example.com"}, "h")
	assert.ErrorIs(t, err, interfaces.ErrConflict)

	_, err = m.GetUserByID(ctx, 999)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	_, _, err = m.GetCredentials(ctx, "ghost")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	assert.ErrorIs(t, m.UpdateStatus(ctx, 999, types.StatusAway), interfaces.ErrNotFound)
}

func TestManager_SearchUsers(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	createUser(t, m, "alice")
	createUser(t, m, "alicia")
	createUser(t, m, "bob")

	users, err := m.SearchUsers(ctx, "ali", 50)
	require.NoError(t, err)
	assert.Len(t, users, 2)

	users, err = m.SearchUsers(ctx, "%", 50)
	require.NoError(t, err)
	assert.Empty(t, users, "LIKE wildcards in the keyword are literal")

	users, err = m.SearchUsers(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestManager_FriendRequests(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	alice := createUser(t, m, "alice")
	bob := createUser(t, m, "bob")

	req, err := m.CreateFriendRequest(ctx, alice.UserID, bob.UserID)
	require.NoError(t, err)
	assert.Equal(t, types.RequestPending, req.RequestStatus)
	assert.Equal(t, "alice", req.SenderUsername)
	assert.Equal(t, "bob", req.ReceiverUsername)

	pending, err := m.HasPendingRequest(ctx, bob.UserID, alice.UserID)
	require.NoError(t, err)
	assert.True(t, pending, "pending check covers both directions")

	list, err := m.ListPendingRequests(ctx, bob.UserID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, req.RequestID, list[0].RequestID)

	require.NoError(t, m.AcceptFriendRequest(ctx, req.RequestID))

	for _, pair := range [][2]int64{{alice.UserID, bob.UserID}, {bob.UserID, alice.UserID}} {
		ok, err := m.AreFriends(ctx, pair[0], pair[1])
		require.NoError(t, err)
		assert.True(t, ok)
	}

	assert.ErrorIs(t, m.AcceptFriendRequest(ctx, req.RequestID), interfaces.ErrNotFound,
		"an answered request cannot be accepted again")

	friends, err := m.ListFriends(ctx, alice.UserID)
	require.NoError(t, err)
	require.Len(t, friends, 1)
	assert.Equal(t, "bob", friends[0].Username)

	ids, err := m.ListFriendIDs(ctx, bob.UserID)
	require.NoError(t, err)
	assert.Equal(t, []int64{alice.UserID}, ids)
}

func TestManager_RejectFriendRequest(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	alice := createUser(t, m, "alice")
	bob := createUser(t, m, "bob")

	req, err := m.CreateFriendRequest(ctx, alice.UserID, bob.UserID)
	require.NoError(t, err)
	require.NoError(t, m.RejectFriendRequest(ctx, req.RequestID))

	reloaded, err := m.GetFriendRequest(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, types.RequestRejected, reloaded.RequestStatus)

	assert.ErrorIs(t, m.RejectFriendRequest(ctx, req.RequestID), interfaces.ErrNotFound)

	ok, err := m.AreFriends(ctx, alice.UserID, bob.UserID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_Groups(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	alice := createUser(t, m, "alice")
	bob := createUser(t, m, "bob")

	group, err := m.CreateGroup(ctx, "team", "the team", alice.UserID)
	require.NoError(t, err)
	assert.Equal(t, []int64{alice.UserID}, group.MemberIDs)

	require.NoError(t, m.AddGroupMember(ctx, group.GroupID, bob.UserID))
	assert.ErrorIs(t, m.AddGroupMember(ctx, group.GroupID, bob.UserID), interfaces.ErrConflict)

	member, err := m.IsGroupMember(ctx, group.GroupID, bob.UserID)
	require.NoError(t, err)
	assert.True(t, member)

	groups, err := m.ListUserGroups(ctx, bob.UserID)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.ElementsMatch(t, []int64{alice.UserID, bob.UserID}, groups[0].MemberIDs)

	members, err := m.ListGroupMembers(ctx, group.GroupID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "alice", members[0].Username, "admin sorts first")

	_, err = m.GetGroup(ctx, 999)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestManager_Messages(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	alice := createUser(t, m, "alice")
	bob := createUser(t, m, "bob")
	carol := createUser(t, m, "carol")

	for i := 0; i < 3; i++ {
		_, err := m.CreateMessage(ctx, &types.Message{
			SenderID: alice.UserID, ReceiverID: &bob.UserID,
			MessageType: types.MessageText, MessageContent: fmt.Sprintf("hi %d", i),
		})
		require.NoError(t, err)
	}
	_, err := m.CreateMessage(ctx, &types.Message{
		SenderID: carol.UserID, ReceiverID: &bob.UserID,
		MessageType: types.MessageText, MessageContent: "unrelated",
	})
	require.NoError(t, err)

	msgs, err := m.ListPrivateMessages(ctx, bob.UserID, alice.UserID, 50)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "hi 2", msgs[0].MessageContent, "newest first")
	assert.Equal(t, "alice", msgs[0].SenderName)
	assert.Equal(t, "bob", msgs[0].ReceiverName)

	msgs, err = m.ListPrivateMessages(ctx, alice.UserID, bob.UserID, 2)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	group, err := m.CreateGroup(ctx, "g", "", alice.UserID)
	require.NoError(t, err)
	stored, err := m.CreateMessage(ctx, &types.Message{
		SenderID: alice.UserID, GroupID: &group.GroupID,
		MessageType: types.MessageFile, MessageContent: "File: a.txt",
		FileURL: "files/x.txt", FileName: "a.txt", FileSize: 5,
	})
	require.NoError(t, err)
	assert.Nil(t, stored.ReceiverID)
	require.NotNil(t, stored.GroupID)
	assert.Equal(t, int64(5), stored.FileSize)

	msgs, err = m.ListGroupMessages(ctx, group.GroupID, 50)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "", msgs[0].ReceiverName)
}

func TestManager_CallTransitions(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	alice := createUser(t, m, "alice")
	bob := createUser(t, m, "bob")

	call, err := m.CreateCall(ctx, alice.UserID, bob.UserID, types.CallVideo)
	require.NoError(t, err)
	assert.Equal(t, types.CallRinging, call.CallStatus)
	assert.Equal(t, "Full alice", call.CallerName)

	call, err = m.TransitionCall(ctx, call.CallID, []types.CallStatus{types.CallRinging}, types.CallAccepted)
	require.NoError(t, err)
	assert.Equal(t, types.CallAccepted, call.CallStatus)
	assert.Nil(t, call.EndedAt)

	_, err = m.TransitionCall(ctx, call.CallID, []types.CallStatus{types.CallRinging}, types.CallRejected)
	assert.ErrorIs(t, err, interfaces.ErrNotFound, "accepted call is no longer ringing")

	call, err = m.TransitionCall(ctx, call.CallID,
		[]types.CallStatus{types.CallRinging, types.CallAccepted}, types.CallEnded)
	require.NoError(t, err)
	assert.Equal(t, types.CallEnded, call.CallStatus)
	assert.NotNil(t, call.EndedAt)
	assert.GreaterOrEqual(t, call.Duration, int64(0))

	_, err = m.TransitionCall(ctx, 999, []types.CallStatus{types.CallRinging}, types.CallAccepted)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestManager_ConcurrentWrites(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	alice := createUser(t, m, "alice")
	bob := createUser(t, m, "bob")

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.CreateMessage(ctx, &types.Message{
				SenderID: alice.UserID, ReceiverID: &bob.UserID,
				MessageType: types.MessageText, MessageContent: fmt.Sprintf("m%d", i),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	msgs, err := m.ListPrivateMessages(ctx, alice.UserID, bob.UserID, 100)
	require.NoError(t, err)
	assert.Len(t, msgs, writers)
}

func TestTranslate_WrapsSentinels(t *testing.T) {
	assert.Nil(t, translate(nil, "x"))
	assert.ErrorIs(t, translate(fmt.Errorf("wrapped: %w", interfaces.ErrClosed), "x"), interfaces.ErrClosed)
}
