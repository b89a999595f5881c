package config

// providers.go builds the SMTP provider table.
//
// The table starts from the built-in presets, optionally merged with a YAML
// presets file, and then captures each provider's environment variables
// (<KEY>_SMTP_USER, <KEY>_SMTP_HOST, ...) exactly once. The resulting
// Providers value is read-only and shared by every send request.

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Environment variable suffixes captured per provider.
const (
	EnvUser       = "SMTP_USER"
	EnvPassword   = "SMTP_PASSWORD"
	EnvHost       = "SMTP_HOST"
	EnvPort       = "SMTP_PORT"
	EnvUseTLS     = "SMTP_USE_TLS"
	EnvUseSSL     = "SMTP_USE_SSL"
	EnvSenderName = "SENDER_NAME"
)

var envSuffixes = []string{EnvUser, EnvPassword, EnvHost, EnvPort, EnvUseTLS, EnvUseSSL, EnvSenderName}

// Preset is the connection default for a provider.
// The TLS flags are pointers so a presets file can explicitly turn them off.
type Preset struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	UseTLS *bool  `yaml:"use_tls"`
	UseSSL *bool  `yaml:"use_ssl"`
}

// Provider is one named SMTP service: its preset plus the environment
// values that were present at startup.
type Provider struct {
	Key string
	Preset

	env map[string]string
}

// NewProvider creates a provider from a preset and a set of environment
// values keyed by suffix (EnvUser, EnvHost, ...).
func NewProvider(key string, preset Preset, env map[string]string) *Provider {
	p := &Provider{Key: normalizeKey(key), Preset: preset, env: make(map[string]string, len(env))}
	for k, v := range env {
		p.env[k] = v
	}
	return p
}

// EnvName returns the full environment variable name for suffix,
// e.g. GMAIL_SMTP_USER.
func (p *Provider) EnvName(suffix string) string {
	prefix := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(p.Key))
	return prefix + "_" + suffix
}

// Lookup returns the captured environment value for suffix.
// Blank values are reported as unset.
func (p *Provider) Lookup(suffix string) (string, bool) {
	v, ok := p.env[suffix]
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// DefaultTLS returns the preset STARTTLS flag.
func (p *Provider) DefaultTLS() bool {
	return p.UseTLS != nil && *p.UseTLS
}

// DefaultSSL returns the preset implicit TLS flag.
func (p *Provider) DefaultSSL() bool {
	return p.UseSSL != nil && *p.UseSSL
}

// Providers maps lower-case provider keys to providers.
type Providers map[string]*Provider

// Get finds a provider by key, ignoring case and surrounding whitespace.
func (ps Providers) Get(name string) (*Provider, bool) {
	p, ok := ps[normalizeKey(name)]
	return p, ok
}

// Keys returns the provider keys in sorted order.
func (ps Providers) Keys() []string {
	keys := make([]string, 0, len(ps))
	for k := range ps {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LookupFunc reads one environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// DefaultPresets returns the built-in provider presets.
func DefaultPresets() map[string]Preset {
	return map[string]Preset{
		"gmail": {
			Host:   "smtp.gmail.com",
			Port:   587,
			UseTLS: boolPtr(true),
			UseSSL: boolPtr(false),
		},
		"feishu": {
			Host:   "smtp.feishu.cn",
			Port:   587,
			UseTLS: boolPtr(true),
			UseSSL: boolPtr(false),
		},
	}
}

// presetsFile is the YAML layout of EMAIL_PROVIDERS_FILE.
//
//	providers:
//	  gmail:
//	    port: 465
//	    use_ssl: true
//	    use_tls: false
//	  qq:
//	    host: smtp.qq.com
//	    port: 465
//	    use_ssl: true
type presetsFile struct {
	Providers map[string]Preset `yaml:"providers"`
}

// LoadProviders builds the provider table from the built-in presets, the
// optional presets file and the environment.
func LoadProviders(file string, lookup LookupFunc) (Providers, error) {
	presets := DefaultPresets()

	if file != "" {
		overrides, err := readPresetsFile(file)
		if err != nil {
			return nil, err
		}
		if err := MergePresets(presets, overrides); err != nil {
			return nil, err
		}
	}

	if lookup == nil {
		lookup = os.LookupEnv
	}

	providers := make(Providers, len(presets))
	for key, preset := range presets {
		p := NewProvider(key, preset, nil)
		for _, suffix := range envSuffixes {
			if v, ok := lookup(p.EnvName(suffix)); ok {
				p.env[suffix] = v
			}
		}
		providers[p.Key] = p
	}
	return providers, nil
}

// MergePresets merges overrides into presets in place. Fields set in an
// override win; unset fields keep the built-in value. Unknown keys add new
// providers.
func MergePresets(presets map[string]Preset, overrides map[string]Preset) error {
	for key, override := range overrides {
		key = normalizeKey(key)
		if key == "" {
			return fmt.Errorf("provider preset with empty key")
		}
		base := presets[key]
		if err := mergo.Merge(&base, override, mergo.WithOverride); err != nil {
			return fmt.Errorf("merge provider %q: %w", key, err)
		}
		presets[key] = base
	}
	return nil
}

func readPresetsFile(path string) (map[string]Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read providers file: %w", err)
	}
	var f presetsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse providers file %s: %w", path, err)
	}
	return f.Providers, nil
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func boolPtr(b bool) *bool {
	return &b
}
