package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"
	"golang.org/x/crypto/hkdf"
	"gopkg.in/yaml.v3"

	"gatewayplane/internal/objectstore"
	"gatewayplane/internal/secrets"
)

// Environment variables understood by the gateway process.
const (
	EnvTenantID         = "TENANT_ID"
	EnvGatewayToken     = "GATEWAY_TOKEN"
	EnvGatewayPort      = "GATEWAY_PORT"
	EnvDataDir          = "GATEWAY_DATA_DIR"
	EnvAnthropicAPIKey  = "ANTHROPIC_API_KEY"
	EnvAnthropicBaseURL = "ANTHROPIC_BASE_URL"
	EnvOpenAIAPIKey     = "OPENAI_API_KEY"
	EnvOpenAIBaseURL    = "OPENAI_BASE_URL"
)

var reservedEnv = map[string]bool{
	EnvTenantID:         true,
	EnvGatewayToken:     true,
	EnvGatewayPort:      true,
	EnvDataDir:          true,
	EnvAnthropicAPIKey:  true,
	EnvAnthropicBaseURL: true,
	EnvOpenAIAPIKey:     true,
	EnvOpenAIBaseURL:    true,
}

var ErrNoMasterSecret = errors.New("gateway: master secret not configured")

// Platform holds operator-wide settings applied to every gateway.
type Platform struct {
	GatewayPort    int
	GatewayCommand string
	DataDir        string
	MasterSecret   string

	// AI gateway routing. Used only when both are set.
	AIGatewayAPIKey  string
	AIGatewayBaseURL string

	AnthropicAPIKey  string
	AnthropicBaseURL string
	OpenAIAPIKey     string
}

// TenantConfig identifies the tenant a gateway is launched for. Env adds
// caller-supplied variables; reserved names are ignored.
type TenantConfig struct {
	TenantID string
	Env      map[string]string
}

// DerivedSecrets are tenant-scoped values derived from the master secret.
type DerivedSecrets struct {
	GatewayToken string
}

// DeriveSecrets derives a stable per-tenant gateway token with HKDF-SHA256.
func DeriveSecrets(masterSecret, tenantID string) (DerivedSecrets, error) {
	if masterSecret == "" {
		return DerivedSecrets{}, ErrNoMasterSecret
	}
	r := hkdf.New(sha256.New, []byte(masterSecret), nil, []byte("gatewayplane/gateway-token/"+tenantID))
	buf := make([]byte, 32)
	if _, err := io.ReadFull(r, buf); err != nil {
		return DerivedSecrets{}, fmt.Errorf("failed to derive secrets: %w", err)
	}
	return DerivedSecrets{GatewayToken: hex.EncodeToString(buf)}, nil
}

// Overlay is the optional per-tenant gateway config kept in object storage.
type Overlay struct {
	Env  map[string]string `yaml:"env"`
	Args []string          `yaml:"args"`
}

// LoadTenantOverlay reads the tenant's overlay. A missing overlay is nil.
func LoadTenantOverlay(ctx context.Context, objects objectstore.Store, tenantID string) (*Overlay, error) {
	data, err := objects.Get(ctx, objectstore.OverlayKey(tenantID))
	if errors.Is(err, objectstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var o Overlay
	if err := yaml.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("failed to parse overlay for %s: %w", tenantID, err)
	}
	return &o, nil
}

// LaunchEnv is the resolved environment for one gateway launch.
type LaunchEnv struct {
	TenantID         string
	GatewayToken     string
	Port             int
	DataDir          string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	Extra            map[string]string
}

// BuildLaunchEnv resolves provider credentials in fixed order: AI gateway
// routing, then the tenant's own keys, then the platform's direct keys.
func BuildLaunchEnv(p Platform, tc TenantConfig, derived DerivedSecrets, tenant secrets.Set, overlay *Overlay) LaunchEnv {
	env := LaunchEnv{
		TenantID:     tc.TenantID,
		GatewayToken: derived.GatewayToken,
		Port:         p.GatewayPort,
		DataDir:      p.DataDir,
		Extra:        map[string]string{},
	}

	switch {
	case p.AIGatewayAPIKey != "" && p.AIGatewayBaseURL != "":
		base := strings.TrimRight(p.AIGatewayBaseURL, "/")
		env.AnthropicAPIKey = p.AIGatewayAPIKey
		env.AnthropicBaseURL = base + "/anthropic"
		env.OpenAIAPIKey = p.AIGatewayAPIKey
		env.OpenAIBaseURL = base + "/openai"
	default:
		if k := tenant[EnvAnthropicAPIKey]; k != "" {
			env.AnthropicAPIKey = k
			env.AnthropicBaseURL = tenant[EnvAnthropicBaseURL]
		} else {
			env.AnthropicAPIKey = p.AnthropicAPIKey
			env.AnthropicBaseURL = p.AnthropicBaseURL
		}
		if k := tenant[EnvOpenAIAPIKey]; k != "" {
			env.OpenAIAPIKey = k
			env.OpenAIBaseURL = tenant[EnvOpenAIBaseURL]
		} else {
			env.OpenAIAPIKey = p.OpenAIAPIKey
		}
	}

	if overlay != nil {
		for k, v := range overlay.Env {
			if !reservedEnv[k] {
				env.Extra[k] = v
			}
		}
	}
	for k, v := range tc.Env {
		if !reservedEnv[k] {
			env.Extra[k] = v
		}
	}
	return env
}

// Map flattens the environment for StartProcess. Empty values are omitted.
func (e LaunchEnv) Map() map[string]string {
	m := make(map[string]string, len(e.Extra)+8)
	for k, v := range e.Extra {
		m[k] = v
	}
	set := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	set(EnvTenantID, e.TenantID)
	set(EnvGatewayToken, e.GatewayToken)
	if e.Port > 0 {
		m[EnvGatewayPort] = strconv.Itoa(e.Port)
	}
	set(EnvDataDir, e.DataDir)
	set(EnvAnthropicAPIKey, e.AnthropicAPIKey)
	set(EnvAnthropicBaseURL, e.AnthropicBaseURL)
	set(EnvOpenAIAPIKey, e.OpenAIAPIKey)
	set(EnvOpenAIBaseURL, e.OpenAIBaseURL)
	return m
}

// LaunchCommand appends the overlay's extra arguments to the base command.
func LaunchCommand(base string, overlay *Overlay) string {
	if overlay == nil || len(overlay.Args) == 0 {
		return base
	}
	return base + " " + shellquote.Join(overlay.Args...)
}
