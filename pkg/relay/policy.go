package relay

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// OriginPolicy lists the client origins allowed to reach the relay across
// origins, for both CORS and websocket upgrades. A nil policy or a policy
// containing "*" allows everything, which matches the public-relay default:
// the session token itself is the capability, not the origin.
type OriginPolicy struct {
	Origins []string `yaml:"origins"`
}

func LoadOriginPolicy(path string) (*OriginPolicy, error) {
	yamlData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read origin policy file '%s': %w", path, err)
	}
	var policy OriginPolicy
	if err := yaml.Unmarshal(yamlData, &policy); err != nil {
		return nil, fmt.Errorf("failed to unmarshal origin policy file '%s': %w", path, err)
	}
	return &policy, nil
}

func (p *OriginPolicy) Allowed(origin string) bool {
	if p == nil || len(p.Origins) == 0 {
		return true
	}
	for _, allowed := range p.Origins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// AllowedOrigins returns the origin list for the CORS middleware.
func (p *OriginPolicy) AllowedOrigins() []string {
	if p == nil || len(p.Origins) == 0 {
		return []string{"*"}
	}
	return p.Origins
}
