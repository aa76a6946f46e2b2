package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, argv ...string) (Config, error) {
	t.Helper()

	cmd := &cobra.Command{Use: "mbox-digest"}
	RegisterFlags(cmd)
	require.NoError(t, cmd.Flags().Parse(argv))
	return LoadConfig(cmd, cmd.Flags().Args())
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("GNUPGHOME", "/tmp/keys")
	t.Setenv("IMAP_PASS", "")

	cfg, err := parse(t, "inbox.mbox", "bob@example.net")
	require.NoError(t, err)

	assert.Equal(t, "inbox.mbox", cfg.MboxPath)
	assert.Equal(t, "bob@example.net", cfg.Email)
	assert.Equal(t, "/tmp/keys", cfg.GPGHome)
	assert.Equal(t, "bob@example.net", cfg.KeyTerm())
	assert.Equal(t, "localhost:25", cfg.SMTPAddr)
	assert.Equal(t, "localhost", cfg.Helo)
	assert.Equal(t, DefaultSubject, cfg.Subject)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.False(t, cfg.DryRun)
	assert.False(t, cfg.ArchiveEnabled())
	assert.True(t, cfg.UseTLS)
	assert.Equal(t, "Sent", cfg.IMAPFolder)
}

func TestLoadConfigFlags(t *testing.T) {
	cfg, err := parse(t,
		"-g", "/srv/gnupg", "-k", "Bob Work",
		"--smtp-addr", "mail.local:2525", "--subject", "weekly",
		"--dry-run", "--log-level", "WARNING",
		"inbox.mbox", "bob@example.net",
	)
	require.NoError(t, err)

	assert.Equal(t, "/srv/gnupg", cfg.GPGHome)
	assert.Equal(t, "Bob Work", cfg.KeyTerm())
	assert.Equal(t, "mail.local:2525", cfg.SMTPAddr)
	assert.Equal(t, "weekly", cfg.Subject)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadConfigEnvAndFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "digest.yaml")
	require.NoError(t, os.WriteFile(file, []byte("subject: from file\nhelo: file.example\nsmtp-addr: file.example:25\n"), 0o600))

	t.Setenv("MBOX_DIGEST_SMTP_ADDR", "env.example:25")

	cfg, err := parse(t, "--config", file, "--helo", "flag.example", "inbox.mbox", "bob@example.net")
	require.NoError(t, err)

	assert.Equal(t, "from file", cfg.Subject)
	assert.Equal(t, "env.example:25", cfg.SMTPAddr, "env beats file")
	assert.Equal(t, "flag.example", cfg.Helo, "flag beats file")
}

func TestLoadConfigIMAPPassFallback(t *testing.T) {
	t.Setenv("IMAP_PASS", "secret")

	cfg, err := parse(t, "--imap-host", "imap.example.com", "--imap-user", "bob", "inbox.mbox", "bob@example.net")
	require.NoError(t, err)
	assert.True(t, cfg.ArchiveEnabled())
	assert.Equal(t, "secret", cfg.IMAPPass)
}

func TestLoadConfigUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		argv []string
	}{
		{name: "missing email", argv: []string{"inbox.mbox"}},
		{name: "too many args", argv: []string{"a", "b", "c"}},
		{name: "bad log level", argv: []string{"--log-level", "loud", "a", "b@c.d"}},
		{name: "imap without user", argv: []string{"--imap-host", "imap.example.com", "a", "b@c.d"}},
		{name: "imap port range", argv: []string{"--imap-host", "h", "--imap-user", "u", "--imap-port", "0", "a", "b@c.d"}},
		{name: "missing config file", argv: []string{"--config", "/does/not/exist.yaml", "a", "b@c.d"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, tt.argv...)
			assert.ErrorIs(t, err, ErrUsage)
		})
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	mbox := filepath.Join(dir, "inbox.mbox")
	require.NoError(t, os.WriteFile(mbox, nil, 0o600))
	home := filepath.Join(dir, "gnupg")
	require.NoError(t, os.Mkdir(home, 0o700))

	valid := Config{MboxPath: mbox, Email: "bob@example.net", GPGHome: home}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{name: "missing mailbox", mutate: func(c *Config) { c.MboxPath = filepath.Join(dir, "nope") }, want: ErrMboxMissing},
		{name: "mailbox is a directory", mutate: func(c *Config) { c.MboxPath = dir }, want: ErrMboxMissing},
		{name: "no at sign", mutate: func(c *Config) { c.Email = "bob.example.net" }, want: ErrInvalidEmail},
		{name: "no dot in domain", mutate: func(c *Config) { c.Email = "bob@localhost" }, want: ErrInvalidEmail},
		{name: "missing keyring", mutate: func(c *Config) { c.GPGHome = filepath.Join(dir, "none") }, want: ErrKeyringMissing},
		{name: "mailbox checked first", mutate: func(c *Config) { c.MboxPath = ""; c.Email = "x" }, want: ErrMboxMissing},
		{name: "email before keyring", mutate: func(c *Config) { c.Email = "x"; c.GPGHome = "" }, want: ErrInvalidEmail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.want)
		})
	}
}

func TestEmailPattern(t *testing.T) {
	for _, ok := range []string{"bob@example.net", "BOB@EXAMPLE.NET", "a.b+c@sub.example.co.uk", "x@y.z trailing"} {
		assert.True(t, emailPattern.MatchString(ok), ok)
	}
	for _, bad := range []string{"", "@example.net", "bob@", "bob@example", "bob@@example.net"} {
		assert.False(t, emailPattern.MatchString(bad), bad)
	}
}
