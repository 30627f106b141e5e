// Package credentials resolves VCS and AI model credentials out of a YAML
// profile file plus environment variable overrides, following the teacher's
// env-overrides-named-profile precedence chain. Unlike the teacher's single
// active profile, this orchestrator holds many VCS connections open at once
// (one per provider per project), so entries are keyed by connection ID
// rather than selected once at startup.
package credentials

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Credential holds everything a single VCS connection might need to
// authenticate, regardless of provider. Only the fields relevant to the
// provider in question are populated.
type Credential struct {
	Token string // personal access token / app password, used by github/gitlab/bitbucket token auth

	// GitHub App authentication (alternative to Token for github connections).
	AppClientID       string
	AppInstallationID int64
	AppPrivateKeyPEM  string
}

// HasAppAuth reports whether all three GitHub App fields are populated.
func (c Credential) HasAppAuth() bool {
	return c.AppClientID != "" && c.AppInstallationID != 0 && c.AppPrivateKeyPEM != ""
}

type connectionEntry struct {
	Token             string `yaml:"token"`
	AppClientID       string `yaml:"app_client_id"`
	AppInstallationID int64  `yaml:"app_installation_id"`
	AppPrivateKeyPath string `yaml:"app_private_key_path"`
}

type aiEntry struct {
	APIKey string `yaml:"api_key"`
}

type credentialsFile struct {
	AI          aiEntry                    `yaml:"ai"`
	Connections map[string]connectionEntry `yaml:"connections"`
}

// DefaultPath returns the default credentials directory (~/.branchanalyzer).
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".branchanalyzer")
}

// Store resolves credentials for many named connections out of a single
// credentials.yaml, loaded once and reused across projects.
type Store struct {
	file credentialsFile
	dir  string
}

// Load reads configDir/credentials.yaml. A missing file is not an error —
// connections can still be resolved entirely from environment variables.
func Load(configDir string) (*Store, error) {
	path := filepath.Join(configDir, "credentials.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Store{dir: configDir}, nil
		}
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}

	var cf credentialsFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parsing credentials file %s: %w", path, err)
	}
	return &Store{file: cf, dir: configDir}, nil
}

// SetConnection records (or replaces) a connection entry, for the `init`
// wizard to populate before calling Save. appPrivateKeyPath is stored as
// given, not read here — Resolve reads it lazily so a relocated key file is
// picked up without re-running init.
func (s *Store) SetConnection(connectionID, token, appClientID string, appInstallationID int64, appPrivateKeyPath string) {
	if s.file.Connections == nil {
		s.file.Connections = make(map[string]connectionEntry)
	}
	s.file.Connections[connectionID] = connectionEntry{
		Token:             token,
		AppClientID:       appClientID,
		AppInstallationID: appInstallationID,
		AppPrivateKeyPath: appPrivateKeyPath,
	}
}

// SetAIKey records the AI model API key for Save to persist.
func (s *Store) SetAIKey(key string) {
	s.file.AI.APIKey = key
}

// Save writes the credentials file back to configDir/credentials.yaml,
// creating the directory if needed. Mirrors Load's path convention.
func (s *Store) Save() error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("creating credentials directory: %w", err)
	}
	data, err := yaml.Marshal(s.file)
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}
	path := filepath.Join(s.dir, "credentials.yaml")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing credentials file %s: %w", path, err)
	}
	return nil
}

// Resolve returns the Credential for a named VCS connection. Precedence:
// environment variables (<CONNECTIONID>_TOKEN, <CONNECTIONID>_APP_CLIENT_ID,
// <CONNECTIONID>_APP_INSTALLATION_ID, <CONNECTIONID>_APP_PRIVATE_KEY_PATH,
// uppercased with non-alphanumerics replaced by underscores) override the
// named entry in credentials.yaml.
func (s *Store) Resolve(connectionID string) (Credential, error) {
	entry, hasEntry := s.file.Connections[connectionID]
	if !hasEntry && !hasConnectionEnvOverride(connectionID) {
		return Credential{}, fmt.Errorf("no credentials found for connection %q (no credentials.yaml entry, no environment override)", connectionID)
	}

	if err := validateAppFields(entry); err != nil {
		return Credential{}, fmt.Errorf("connection %q: %w", connectionID, err)
	}

	cred := Credential{
		Token:             entry.Token,
		AppClientID:       entry.AppClientID,
		AppInstallationID: entry.AppInstallationID,
	}
	if entry.AppPrivateKeyPath != "" {
		pem, err := os.ReadFile(entry.AppPrivateKeyPath)
		if err != nil {
			return Credential{}, fmt.Errorf("connection %q: reading app private key %s: %w", connectionID, entry.AppPrivateKeyPath, err)
		}
		cred.AppPrivateKeyPEM = string(pem)
	}

	applyConnectionEnvOverrides(connectionID, &cred)
	return cred, nil
}

// ResolveAIKey returns the AI model API key, preferring the BRANCHANALYZER_AI_API_KEY
// environment variable over credentials.yaml's ai.api_key.
func (s *Store) ResolveAIKey() (string, error) {
	if v := os.Getenv("BRANCHANALYZER_AI_API_KEY"); v != "" {
		return v, nil
	}
	if s.file.AI.APIKey != "" {
		return s.file.AI.APIKey, nil
	}
	return "", fmt.Errorf("no AI API key found (no BRANCHANALYZER_AI_API_KEY, no credentials.yaml ai.api_key)")
}

func envPrefix(connectionID string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(connectionID) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func hasConnectionEnvOverride(connectionID string) bool {
	prefix := envPrefix(connectionID)
	return os.Getenv(prefix+"_TOKEN") != "" || os.Getenv(prefix+"_APP_CLIENT_ID") != ""
}

func applyConnectionEnvOverrides(connectionID string, cred *Credential) {
	prefix := envPrefix(connectionID)
	if v := os.Getenv(prefix + "_TOKEN"); v != "" {
		cred.Token = v
		cred.AppClientID = ""
		cred.AppInstallationID = 0
		cred.AppPrivateKeyPEM = ""
	}
	if v := os.Getenv(prefix + "_APP_CLIENT_ID"); v != "" {
		cred.AppClientID = v
	}
	if v := os.Getenv(prefix + "_APP_INSTALLATION_ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cred.AppInstallationID = n
		}
	}
	if v := os.Getenv(prefix + "_APP_PRIVATE_KEY_PATH"); v != "" {
		if pem, err := os.ReadFile(v); err == nil {
			cred.AppPrivateKeyPEM = string(pem)
		}
	}
}

// validateAppFields checks that if any app_* field is set, all three must be
// set. Returns nil if none are set or all are set.
func validateAppFields(e connectionEntry) error {
	hasClientID := e.AppClientID != ""
	hasInstallID := e.AppInstallationID != 0
	hasKeyPath := e.AppPrivateKeyPath != ""

	set := 0
	if hasClientID {
		set++
	}
	if hasInstallID {
		set++
	}
	if hasKeyPath {
		set++
	}

	if set > 0 && set < 3 {
		var missing []string
		if !hasClientID {
			missing = append(missing, "app_client_id")
		}
		if !hasInstallID {
			missing = append(missing, "app_installation_id")
		}
		if !hasKeyPath {
			missing = append(missing, "app_private_key_path")
		}
		return fmt.Errorf("incomplete GitHub App config, missing: %v", missing)
	}
	return nil
}
