package integration

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"chatrelay/internal/protocol"
	"chatrelay/pkg/client"
	"chatrelay/pkg/types"
)

// TestConcurrentClients_RingOfMessages logs many users in at once and has
// each message the next one around a ring. Every user must get exactly the
// one push addressed to it.
func TestConcurrentClients_RingOfMessages(t *testing.T) {
	if testing.Short() {
		t.Skip("load scenario")
	}
	const users = 20
	application := StartTestApplication(t)

	clients := make([]*client.Client, users)
	ids := make([]int64, users)
	inboxes := make([]*inbox, users)

	for i := 0; i < users; i++ {
		name := fmt.Sprintf("user%02d", i)
		clients[i] = dial(t, application)
		_, err := clients[i].Register(ctxT(t), types.Registration{Username: name, Email: name + "@example.com", Password: "p"})
		require.NoError(t, err)
		inboxes[i] = listen(clients[i], protocol.NotifyNewMessage)
	}

	g, ctx := errgroup.WithContext(ctxT(t))
	for i := 0; i < users; i++ {
		g.Go(func() error {
			u, err := clients[i].Login(ctx, fmt.Sprintf("user%02d", i), "p")
			if err != nil {
				return err
			}
			ids[i] = u.UserID
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, users, application.Registry().Count())

	g, ctx = errgroup.WithContext(ctxT(t))
	for i := 0; i < users; i++ {
		g.Go(func() error {
			_, err := clients[i].SendMessage(ctx, ids[(i+1)%users], fmt.Sprintf("from %d", i))
			return err
		})
	}
	require.NoError(t, g.Wait())

	for i := 0; i < users; i++ {
		var msg types.Message
		require.NoError(t, client.Payload(inboxes[i].next(t), &msg))
		assert.Equal(t, ids[(i+users-1)%users], msg.SenderID)
	}
	for i := 0; i < users; i++ {
		assert.Equal(t, 1, inboxes[i].count())
	}
}
