package core

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/JonMunkholm/csvmailer/internal/config"
)

// AccountResolver turns an account key plus optional credential overrides
// into connection settings. It only reads the provider table captured at
// startup and is safe for concurrent use.
type AccountResolver struct {
	providers config.Providers
}

// NewAccountResolver creates a resolver over providers.
func NewAccountResolver(providers config.Providers) *AccountResolver {
	return &AccountResolver{providers: providers}
}

// Names returns the selectable account keys in sorted order.
func (r *AccountResolver) Names() []string {
	return r.providers.Keys()
}

// Providers describes every account without its secrets.
func (r *AccountResolver) Providers() []ProviderInfo {
	infos := make([]ProviderInfo, 0, len(r.providers))
	for _, key := range r.providers.Keys() {
		p := r.providers[key]
		_, hasUser := p.Lookup(config.EnvUser)
		_, hasPass := p.Lookup(config.EnvPassword)
		infos = append(infos, ProviderInfo{
			Key:            key,
			Host:           r.host(p),
			Port:           r.portOrPreset(p),
			UseTLS:         flag(p, config.EnvUseTLS, p.DefaultTLS()),
			UseSSL:         flag(p, config.EnvUseSSL, p.DefaultSSL()),
			HasCredentials: hasUser && hasPass,
		})
	}
	return infos
}

// Resolve builds the Account for name.
//
// Non-empty userOverride and passwordOverride win over the environment.
// Host, port and TLS flags come from <KEY>_SMTP_HOST, _PORT, _USE_TLS and
// _USE_SSL when set, otherwise from the preset. The sender display name
// defaults to the resolved user.
func (r *AccountResolver) Resolve(name, userOverride, passwordOverride string) (Account, error) {
	p, ok := r.providers.Get(name)
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", ErrUnknownAccount, strings.TrimSpace(name))
	}

	user := strings.TrimSpace(userOverride)
	if user == "" {
		user, _ = p.Lookup(config.EnvUser)
	}
	password := strings.TrimSpace(passwordOverride)
	if password == "" {
		password, _ = p.Lookup(config.EnvPassword)
	}
	if user == "" || password == "" {
		return Account{}, &MissingCredentialsError{
			Account:     p.Key,
			UserVar:     p.EnvName(config.EnvUser),
			PasswordVar: p.EnvName(config.EnvPassword),
		}
	}

	port := p.Port
	if v, ok := p.Lookup(config.EnvPort); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 65535 {
			return Account{}, fmt.Errorf("invalid %s=%q: port must be 1-65535", p.EnvName(config.EnvPort), v)
		}
		port = n
	}

	senderName, ok := p.Lookup(config.EnvSenderName)
	if !ok {
		senderName = user
	}

	return Account{
		Name:       p.Key,
		User:       user,
		Password:   password,
		Host:       r.host(p),
		Port:       port,
		UseTLS:     flag(p, config.EnvUseTLS, p.DefaultTLS()),
		UseSSL:     flag(p, config.EnvUseSSL, p.DefaultSSL()),
		SenderName: senderName,
	}, nil
}

func (r *AccountResolver) host(p *config.Provider) string {
	if v, ok := p.Lookup(config.EnvHost); ok {
		return v
	}
	return p.Host
}

func (r *AccountResolver) portOrPreset(p *config.Provider) int {
	if v, ok := p.Lookup(config.EnvPort); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return p.Port
}

func flag(p *config.Provider, suffix string, def bool) bool {
	v, ok := p.Lookup(suffix)
	if !ok {
		return def
	}
	return ParseFlag(v)
}

// ParseFlag reports whether v is one of 1, true, yes, y, on (any case).
// Every other non-empty value is false.
func ParseFlag(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}
