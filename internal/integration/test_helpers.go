package integration

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"chatrelay/internal/app"
	"chatrelay/internal/config"
	"chatrelay/pkg/client"
	"chatrelay/pkg/types"
)

// testTimeout bounds every wait in these tests.
const testTimeout = 5 * time.Second

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// StartTestApplication runs the whole server on loopback ports with a
// throwaway database and upload directory.
func StartTestApplication(t *testing.T) *app.Application {
	t.Helper()
	return startWithConfig(t, testConfig(t))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = freePort(t)
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = freePort(t)
	cfg.Database.Path = filepath.Join(dir, "chatrelay.db")
	cfg.Storage.UploadDir = filepath.Join(dir, "uploads")
	cfg.Auth.BcryptCost = 4
	return cfg
}

func startWithConfig(t *testing.T, cfg *config.Config) *app.Application {
	t.Helper()
	application, err := app.NewApplication(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		_ = application.Stop(ctx)
	})
	return application
}

func dial(t *testing.T, application *app.Application) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	c, err := client.Dial(ctx, application.TCPAddr(), client.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func ctxT(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}

// signUp registers username and logs in on a fresh connection.
func signUp(t *testing.T, application *app.Application, username string) (*client.Client, *types.User) {
	t.Helper()
	c := dial(t, application)
	_, err := c.Register(ctxT(t), types.Registration{
		Username: username,
		Email:    username + "@example.com",
		Password: "p",
		FullName: username,
	})
	require.NoError(t, err)
	user, err := c.Login(ctxT(t), username, "p")
	require.NoError(t, err)
	return c, user
}

// befriend makes a and b friends through the request/accept flow.
func befriend(t *testing.T, a *client.Client, b *client.Client, bID int64) {
	t.Helper()
	resp, err := a.Call(ctxT(t), "SEND_FRIEND_REQUEST", map[string]int64{"receiverId": bID})
	require.NoError(t, err)
	var out struct {
		Request *types.FriendRequest `json:"request"`
	}
	require.NoError(t, resp.Bind(&out))
	_, err = b.Call(ctxT(t), "ACCEPT_FRIEND_REQUEST", map[string]int64{"requestId": out.Request.RequestID})
	require.NoError(t, err)
}

// inbox collects pushes of one action.
type inbox struct {
	mu   sync.Mutex
	envs []*client.Envelope
	ch   chan *client.Envelope
}

func listen(c *client.Client, action client.Action) *inbox {
	in := &inbox{ch: make(chan *client.Envelope, 64)}
	c.On(action, func(env *client.Envelope) {
		in.mu.Lock()
		in.envs = append(in.envs, env)
		in.mu.Unlock()
		in.ch <- env
	})
	return in
}

func (in *inbox) next(t *testing.T) *client.Envelope {
	t.Helper()
	select {
	case env := <-in.ch:
		return env
	case <-time.After(testTimeout):
		t.Fatal("expected a push")
		return nil
	}
}

func (in *inbox) count() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.envs)
}

func presenceURL(application *app.Application, userID int64) string {
	return fmt.Sprintf("http://%s/api/presence/%s", application.HTTPAddr(), strconv.FormatInt(userID, 10))
}
