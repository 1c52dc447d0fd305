// Package policy holds the data-protection rules applied to audit records:
// classification, sanitization, retention and read-side access filtering.
//
// The field lists, retention day counts and role permissions are policy data,
// supplied through Config. DefaultConfig carries the values the storefront
// ships with.
package policy

import (
	"fmt"
	"time"

	audit "storefront/pkg/platform/audit"
)

// RedactionMarker replaces the value of every fully sensitive field.
const RedactionMarker = "[REDACTED]"

// AdminRole sees every audit record.
const AdminRole = "admin"

const day = 24 * time.Hour

// Config is the policy table. It is typically loaded from the service config
// file; zero values fall back to DefaultConfig.
type Config struct {
	// SensitiveFields are fully redacted. Matching is case-insensitive on the
	// key with separators removed, by substring.
	SensitiveFields []string `mapstructure:"sensitive_fields"`
	// PIIFields are partially masked.
	PIIFields []string `mapstructure:"pii_fields"`

	Retention RetentionConfig `mapstructure:"retention"`

	// RolePermissions maps a reader role to the entities it may read.
	RolePermissions map[string][]string `mapstructure:"role_permissions"`
}

// RetentionConfig defines the three retention tiers. Actions not listed as
// short or long fall into the medium tier.
type RetentionConfig struct {
	ShortDays    int      `mapstructure:"short_days"`
	MediumDays   int      `mapstructure:"medium_days"`
	LongDays     int      `mapstructure:"long_days"`
	ShortActions []string `mapstructure:"short_actions"`
	LongActions  []string `mapstructure:"long_actions"`
}

// DefaultConfig returns the shipped policy table.
func DefaultConfig() Config {
	return Config{
		SensitiveFields: []string{
			"password", "passwd", "secret", "token", "api_key",
			"credit_card", "card_number", "cvv", "ssn",
		},
		PIIFields: []string{"email", "phone"},
		Retention: RetentionConfig{
			ShortDays:  90,
			MediumDays: 365,
			LongDays:   7 * 365,
			ShortActions: []string{
				string(audit.ActionLogin),
				string(audit.ActionLogout),
				string(audit.ActionView),
			},
			LongActions: []string{
				string(audit.ActionLoginFailed),
				string(audit.ActionPaymentStatusChange),
				string(audit.ActionPasswordChange),
				string(audit.ActionPermissionChange),
			},
		},
		RolePermissions: map[string][]string{
			"order_manager":   {string(audit.EntityOrder), string(audit.EntityPayment)},
			"catalog_manager": {string(audit.EntityProduct), string(audit.EntityCategory), string(audit.EntityInventory)},
			"support":         {string(audit.EntityOrder), string(audit.EntityCart)},
		},
	}
}

// withDefaults fills zero-valued sections from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if len(c.SensitiveFields) == 0 {
		c.SensitiveFields = def.SensitiveFields
	}
	if len(c.PIIFields) == 0 {
		c.PIIFields = def.PIIFields
	}
	if c.Retention.ShortDays <= 0 {
		c.Retention.ShortDays = def.Retention.ShortDays
	}
	if c.Retention.MediumDays <= 0 {
		c.Retention.MediumDays = def.Retention.MediumDays
	}
	if c.Retention.LongDays <= 0 {
		c.Retention.LongDays = def.Retention.LongDays
	}
	if c.Retention.ShortActions == nil {
		c.Retention.ShortActions = def.Retention.ShortActions
	}
	if c.Retention.LongActions == nil {
		c.Retention.LongActions = def.Retention.LongActions
	}
	if c.RolePermissions == nil {
		c.RolePermissions = def.RolePermissions
	}
	return c
}

// Engine applies a policy table. It is immutable after New and safe for
// concurrent use.
type Engine struct {
	sensitive []string
	pii       []string

	short, medium, long time.Duration
	tiers               map[audit.Action]time.Duration

	permissions map[string]map[audit.Entity]struct{}
}

// New validates the policy table and builds an Engine.
func New(cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()

	e := &Engine{
		sensitive:   normalizeAll(cfg.SensitiveFields),
		pii:         normalizeAll(cfg.PIIFields),
		short:       time.Duration(cfg.Retention.ShortDays) * day,
		medium:      time.Duration(cfg.Retention.MediumDays) * day,
		long:        time.Duration(cfg.Retention.LongDays) * day,
		tiers:       make(map[audit.Action]time.Duration),
		permissions: make(map[string]map[audit.Entity]struct{}),
	}
	if !(e.short <= e.medium && e.medium <= e.long) {
		return nil, fmt.Errorf("retention tiers must be ordered short <= medium <= long (got %d/%d/%d days)",
			cfg.Retention.ShortDays, cfg.Retention.MediumDays, cfg.Retention.LongDays)
	}

	for _, name := range cfg.Retention.ShortActions {
		action, err := audit.ParseAction(name)
		if err != nil {
			return nil, fmt.Errorf("retention short tier: %w", err)
		}
		e.tiers[action] = e.short
	}
	for _, name := range cfg.Retention.LongActions {
		action, err := audit.ParseAction(name)
		if err != nil {
			return nil, fmt.Errorf("retention long tier: %w", err)
		}
		if _, dup := e.tiers[action]; dup {
			return nil, fmt.Errorf("retention: action %s listed in more than one tier", action)
		}
		e.tiers[action] = e.long
	}

	for role, names := range cfg.RolePermissions {
		allowed := make(map[audit.Entity]struct{}, len(names))
		for _, name := range names {
			entity, err := audit.ParseEntity(name)
			if err != nil {
				return nil, fmt.Errorf("role %q permissions: %w", role, err)
			}
			allowed[entity] = struct{}{}
		}
		e.permissions[normalizeRole(role)] = allowed
	}
	return e, nil
}

// MustDefault builds an Engine from DefaultConfig. The default table is
// static, so a failure is a programming error.
func MustDefault() *Engine {
	e, err := New(DefaultConfig())
	if err != nil {
		panic(err)
	}
	return e
}
