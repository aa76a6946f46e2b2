package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dhcgn/mbox-digest/imap"
	"github.com/dhcgn/mbox-digest/mailer"
)

const (
	EnvPrefix      = "MBOX_DIGEST"
	DefaultSubject = "email digest"
)

var (
	ErrMboxMissing    = errors.New("mailbox does not exist or is not a file")
	ErrInvalidEmail   = errors.New("not a valid email address")
	ErrKeyringMissing = errors.New("keyring directory does not exist")
	ErrUsage          = errors.New("invalid usage")
)

// Matched from the start only, a trailing remainder is accepted.
var emailPattern = regexp.MustCompile(`(?i)^[^@]+@[^@]+\.[^@]+`)

// Config captures everything one run needs.
type Config struct {
	MboxPath string
	Email    string

	GPGHome string
	Key     string

	SMTPAddr string
	Helo     string
	Subject  string
	From     string
	DryRun   bool

	IMAPHost           string
	IMAPPort           int
	IMAPUser           string
	IMAPPass           string
	UseTLS             bool
	InsecureSkipVerify bool
	IMAPFolder         string

	LogLevel string
	LogDir   string
}

// KeyTerm is the search term used to pick the recipient key.
func (c Config) KeyTerm() string {
	if c.Key != "" {
		return c.Key
	}
	return c.Email
}

// ArchiveEnabled reports whether sent digests are copied to IMAP.
func (c Config) ArchiveEnabled() bool {
	return c.IMAPHost != ""
}

// RegisterFlags attaches all CLI flags to the provided command.
func RegisterFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringP("gpghome", "g", defaultGPGHome(), "Directory holding the public keyring")
	flags.StringP("key", "k", "", "Search term for the recipient key (defaults to the recipient address)")
	flags.String("smtp-addr", mailer.DefaultAddr, "SMTP server address as host:port")
	flags.String("helo", mailer.DefaultLocalName, "Name announced in HELO/EHLO")
	flags.String("subject", DefaultSubject, "Subject of the digest email")
	flags.String("from", "", "From address of the digest (defaults to the sender of the first mail)")
	flags.Bool("dry-run", false, "Print the encrypted digest instead of sending it; the mailbox is kept")
	flags.String("imap-host", "", "IMAP server for an archive copy of the sent digest (optional)")
	flags.Int("imap-port", imap.DefaultPort, "IMAP server port")
	flags.String("imap-user", "", "IMAP username")
	flags.String("imap-pass", "", "IMAP password (falls back to IMAP_PASS env var)")
	flags.Bool("use-tls", true, "Use TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("imap-folder", imap.DefaultFolder, "IMAP folder for the archive copy")
	flags.String("log-level", "warn", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory for log files (optional)")
	flags.String("config", "", "Config file (yaml, toml or json)")
}

// LoadConfig merges flags, MBOX_DIGEST_* environment variables and the
// optional config file, in that order of precedence. args are the positional
// MBOX and EMAIL arguments.
func LoadConfig(cmd *cobra.Command, args []string) (Config, error) {
	if len(args) != 2 {
		return Config{}, fmt.Errorf("%w: expected MBOX and EMAIL arguments, got %d", ErrUsage, len(args))
	}

	v := viper.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(*os.PathError); ok {
				return Config{}, fmt.Errorf("%w: config file %s: %w", ErrUsage, path, err)
			}
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				return Config{}, fmt.Errorf("%w: config file %s not found", ErrUsage, path)
			}
			return Config{}, fmt.Errorf("%w: reading config %s: %w", ErrUsage, path, err)
		}
	}

	imapPass := v.GetString("imap-pass")
	if imapPass == "" {
		imapPass = os.Getenv("IMAP_PASS")
	}

	logLevel := strings.ToLower(v.GetString("log-level"))
	if logLevel == "warning" {
		logLevel = "warn"
	}

	cfg := Config{
		MboxPath:           args[0],
		Email:              args[1],
		GPGHome:            v.GetString("gpghome"),
		Key:                v.GetString("key"),
		SMTPAddr:           v.GetString("smtp-addr"),
		Helo:               v.GetString("helo"),
		Subject:            v.GetString("subject"),
		From:               v.GetString("from"),
		DryRun:             v.GetBool("dry-run"),
		IMAPHost:           v.GetString("imap-host"),
		IMAPPort:           v.GetInt("imap-port"),
		IMAPUser:           v.GetString("imap-user"),
		IMAPPass:           imapPass,
		UseTLS:             v.GetBool("use-tls"),
		InsecureSkipVerify: v.GetBool("insecure-skip-verify"),
		IMAPFolder:         v.GetString("imap-folder"),
		LogLevel:           logLevel,
		LogDir:             v.GetString("log-dir"),
	}

	if cfg.GPGHome == "" {
		cfg.GPGHome = defaultGPGHome()
	}

	if err := validateOptions(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateOptions(cfg Config) error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: invalid --log-level: %s", ErrUsage, cfg.LogLevel)
	}

	if cfg.ArchiveEnabled() {
		if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
			return fmt.Errorf("%w: --imap-port must be between 1 and 65535", ErrUsage)
		}
		if cfg.IMAPUser == "" {
			return fmt.Errorf("%w: --imap-user is required with --imap-host", ErrUsage)
		}
	}

	return nil
}

// Validate checks the inputs in order: mailbox, recipient address, keyring
// directory. The first failure is returned.
func (c Config) Validate() error {
	info, err := os.Stat(c.MboxPath)
	if err != nil || !info.Mode().IsRegular() {
		return fmt.Errorf("%s: %w", c.MboxPath, ErrMboxMissing)
	}

	if !emailPattern.MatchString(c.Email) {
		return fmt.Errorf("%s: %w", c.Email, ErrInvalidEmail)
	}

	info, err = os.Stat(c.GPGHome)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%s: %w", c.GPGHome, ErrKeyringMissing)
	}

	return nil
}

func defaultGPGHome() string {
	if dir := os.Getenv("GNUPGHOME"); dir != "" {
		return dir
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "gnupg")
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gnupg"
	}
	return filepath.Join(home, ".gnupg")
}
