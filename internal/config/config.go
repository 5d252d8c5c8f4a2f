package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models bayline.yml.
type Config struct {
	Company struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"company"`
	Booking struct {
		// Default working window applied to new bays.
		DayOpen  string `yaml:"day_open"`
		DayClose string `yaml:"day_close"`
	} `yaml:"booking"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with bl config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Company.ID == "" {
		return fmt.Errorf("config.company.id is required")
	}
	if !validClock(c.Booking.DayOpen) || !validClock(c.Booking.DayClose) {
		return fmt.Errorf("config.booking day_open/day_close must be HH:mm")
	}
	if c.Booking.DayClose <= c.Booking.DayOpen {
		return fmt.Errorf("config.booking.day_close must be after day_open")
	}
	if len(c.RBAC.Roles) > 0 {
		if _, ok := c.RBAC.Roles["owner"]; !ok {
			return fmt.Errorf("config.rbac.roles must include owner")
		}
		for roleID, role := range c.RBAC.Roles {
			if roleID == "" {
				return fmt.Errorf("config.rbac.roles contains empty role id")
			}
			for _, perm := range role.Permissions {
				if perm == "" {
					return fmt.Errorf("role %s has empty permission id", roleID)
				}
			}
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// validClock accepts zero-padded 24h "HH:mm" strings. Lexicographic
// comparison on these is chronological within one day.
func validClock(v string) bool {
	if len(v) != 5 || v[2] != ':' {
		return false
	}
	hh := v[:2]
	mm := v[3:]
	for _, c := range hh + mm {
		if c < '0' || c > '9' {
			return false
		}
	}
	return hh <= "23" && mm <= "59"
}

// ValidClock is the exported form used by request validation.
func ValidClock(v string) bool { return validClock(v) }

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "bayline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(companyID string) string {
	return fmt.Sprintf(defaultTemplate, companyID, companyID)
}

// Default returns the default Config struct for a company.
func Default(companyID string) *Config {
	var cfg Config
	cfg.Company.ID = companyID
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(companyID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ToYAML serializes the config for storage in company_configs.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `company:
  id: %s
  name: %s

booking:
  day_open: "08:00"
  day_close: "18:00"

rbac:
  roles:
    owner:
      description: "Raises work orders, signs off or sends back finished work"
      permissions:
        - workorder.create
        - workorder.read
        - workorder.update
        - workorder.complete
        - workorder.rework
        - workorder.rebook
        - supplier.invite
        - supplier.approve
        - bay.manage
        - supplier.manage
        - company.manage
        - events.read
    scheduler:
      description: "Plans bay time and supplier fan-out"
      permissions:
        - workorder.create
        - workorder.read
        - workorder.update
        - supplier.invite
        - bay.manage
        - events.read
    mechanic:
      description: "Works allocated bay slots"
      permissions:
        - workorder.read
        - workorder.execute
    supplier:
      description: "Responds to quote requests and executes approved work"
      permissions:
        - workorder.read
        - workorder.respond
        - workorder.execute
`
