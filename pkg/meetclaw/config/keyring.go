package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

const keyringService = "meetclaw"

// Keyring entry names accepted by `meetclaw secret`.
const (
	KeyProviderSecret = "provider_api_secret"
	KeyProviderKey    = "provider_api_key"
	KeyVoiceKey       = "voice_api_key"
	KeyGatewayToken   = "gateway_token"
)

// KeyringKeys lists the secrets the keyring may hold.
var KeyringKeys = []string{KeyProviderKey, KeyProviderSecret, KeyVoiceKey, KeyGatewayToken}

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring returns a secret from the OS keyring, or "" if absent.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}

// KeyringAvailable checks if the OS keyring is accessible.
func KeyringAvailable() bool {
	testKey := "__meetclaw_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// ValidKeyringKey reports whether key is a known secret name.
func ValidKeyringKey(key string) bool {
	for _, k := range KeyringKeys {
		if k == key {
			return true
		}
	}
	return false
}

// ResolveSecrets applies keyring values on top of env and config values.
// Priority: keyring, environment, config file.
func ResolveSecrets(cfg *Config, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	fields := map[string]*string{
		KeyProviderKey:    &cfg.Provider.APIKey,
		KeyProviderSecret: &cfg.Provider.APISecret,
		KeyVoiceKey:       &cfg.Voice.APIKey,
		KeyGatewayToken:   &cfg.Gateway.AuthToken,
	}
	for key, dst := range fields {
		if val := GetKeyring(key); val != "" {
			*dst = val
			logger.Debug("secret loaded from OS keyring", "key", key)
		}
	}
}

// ReadPassword prompts for a secret without echo. Falls back to a plain
// line read when stdin is not a terminal.
func ReadPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
