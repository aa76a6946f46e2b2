package imap

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const digestMail = "From: alice@example.com\r\nTo: bob@example.net\r\nSubject: email digest\r\n\r\n-----BEGIN PGP MESSAGE-----\r\n\r\nwV4D\r\n-----END PGP MESSAGE-----\r\n"

// startServer runs an in-memory IMAP server with one account and returns
// that account and the port it listens on.
func startServer(t *testing.T, username, password string) (*imapmemserver.User, int) {
	t.Helper()

	user := imapmemserver.NewUser(username, password)
	require.NoError(t, user.Create("INBOX", nil))
	memServer := imapmemserver.New()
	memServer.AddUser(user)

	server := imapserver.New(&imapserver.Options{
		NewSession: func(*imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return memServer.NewSession(), nil, nil
		},
		Caps: imapv2.CapSet{
			imapv2.CapIMAP4rev1: {},
			imapv2.CapIMAP4rev2: {},
		},
		InsecureAuth: true,
	})

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		_ = server.Serve(l)
	}()
	t.Cleanup(func() {
		_ = server.Close()
	})

	return user, l.Addr().(*net.TCPAddr).Port
}

func TestNewArchiverValidation(t *testing.T) {
	_, err := NewArchiver(Options{}, nil)
	assert.ErrorIs(t, err, ErrMissingHost)

	_, err = NewArchiver(Options{Host: "imap.example.com", Port: 70000}, nil)
	assert.Error(t, err)

	a, err := NewArchiver(Options{Host: "imap.example.com"}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, a.opts.Port)
	assert.Equal(t, DefaultFolder, a.Folder())

	a, err = NewArchiver(Options{Host: "imap.example.com", Port: 143, Folder: "Archive/Digests"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Archive/Digests", a.Folder())
}

func TestAppendEmptyMessage(t *testing.T) {
	a, err := NewArchiver(Options{Host: "imap.example.com"}, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, a.Append(context.Background(), nil, time.Now()), ErrEmptyMessage)
}

func TestAppendDialFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, portStr, err := net.SplitHostPort(l.Addr().String())
	require.NoError(t, err)
	require.NoError(t, l.Close())
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	a, err := NewArchiver(Options{Host: "127.0.0.1", Port: port, UseTLS: false}, nil)
	require.NoError(t, err)

	err = a.Append(context.Background(), []byte("Subject: x\r\n\r\nbody\r\n"), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial imap")
}

func TestAppendCreatesFolderAndStoresSeenMessages(t *testing.T) {
	user, port := startServer(t, "digest", "secret")

	a, err := NewArchiver(Options{Host: "127.0.0.1", Port: port, Username: "digest", Password: "secret"}, nil)
	require.NoError(t, err)

	at := time.Date(2025, 10, 14, 9, 5, 0, 0, time.UTC)
	require.NoError(t, a.Append(context.Background(), []byte(digestMail), at))
	// the folder exists now
	require.NoError(t, a.Append(context.Background(), []byte(digestMail), at))

	status, err := user.Status(DefaultFolder, &imapv2.StatusOptions{NumMessages: true, NumUnseen: true})
	require.NoError(t, err)
	require.NotNil(t, status.NumMessages)
	assert.Equal(t, uint32(2), *status.NumMessages)
	require.NotNil(t, status.NumUnseen)
	assert.Equal(t, uint32(0), *status.NumUnseen)
}

func TestAppendExistingFolder(t *testing.T) {
	user, port := startServer(t, "digest", "secret")
	require.NoError(t, user.Create("Archive", nil))

	a, err := NewArchiver(Options{Host: "127.0.0.1", Port: port, Username: "digest", Password: "secret", Folder: "Archive"}, nil)
	require.NoError(t, err)
	require.NoError(t, a.Append(context.Background(), []byte(digestMail), time.Time{}))

	status, err := user.Status("Archive", &imapv2.StatusOptions{NumMessages: true})
	require.NoError(t, err)
	require.NotNil(t, status.NumMessages)
	assert.Equal(t, uint32(1), *status.NumMessages)

	_, err = user.Status(DefaultFolder, &imapv2.StatusOptions{NumMessages: true})
	assert.Error(t, err, "only the configured folder is created")
}

func TestAppendLoginFailure(t *testing.T) {
	user, port := startServer(t, "digest", "secret")

	a, err := NewArchiver(Options{Host: "127.0.0.1", Port: port, Username: "digest", Password: "wrong"}, nil)
	require.NoError(t, err)

	err = a.Append(context.Background(), []byte(digestMail), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "imap login failed")

	_, err = user.Status(DefaultFolder, &imapv2.StatusOptions{NumMessages: true})
	assert.Error(t, err)
}
