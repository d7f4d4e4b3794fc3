package notify

import (
	"fmt"
	"os"

	"github.com/lexcomms/internal/model"
	"gopkg.in/yaml.v3"
)

// Policy is the organization-level routing policy: per category, which
// channels are on by default and which are locked against member override.
type Policy map[model.Category]model.CategoryPolicy

// DefaultPolicy ships in-app for everything, push for messages and
// payments, and locks the system category to in-app (cannot be disabled).
func DefaultPolicy() Policy {
	return Policy{
		model.CategoryMessage: {Default: []model.Channel{model.ChannelInApp, model.ChannelPush}},
		model.CategorySystem:  {Default: []model.Channel{model.ChannelInApp}, Locked: []model.Channel{model.ChannelInApp}},
		model.CategoryPayment: {Default: []model.Channel{model.ChannelInApp, model.ChannelPush, model.ChannelEmail}},
		model.CategoryIntake:  {Default: []model.Channel{model.ChannelInApp, model.ChannelEmail}},
		model.CategoryMatter:  {Default: []model.Channel{model.ChannelInApp}},
	}
}

// LoadPolicy reads the org policy YAML (config/notifications.yaml),
// falling back to defaults for categories the file does not mention.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, fmt.Errorf("policy read %s: %w", path, err)
	}
	var file map[model.Category]model.CategoryPolicy
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("policy parse %s: %w", path, err)
	}
	for cat, cp := range file {
		if !model.ValidCategory(cat) {
			return nil, fmt.Errorf("policy %s: %w: %q", path, ErrUnknownCategory, cat)
		}
		p[cat] = cp
	}
	return p, nil
}

func contains(chs []model.Channel, ch model.Channel) bool {
	for _, c := range chs {
		if c == ch {
			return true
		}
	}
	return false
}

// Resolve computes the effective channel set for one recipient and
// category: org defaults, then the member's toggles, with locked channels
// taking precedence over toggles either way. System notifications are
// always delivered in-app.
func (p Policy) Resolve(category model.Category, prefs []model.Preference) map[model.Channel]bool {
	cp := p[category]
	enabled := map[model.Channel]bool{}
	for _, ch := range cp.Default {
		enabled[ch] = true
	}
	for _, pref := range prefs {
		if pref.Category != category {
			continue
		}
		if contains(cp.Locked, pref.Channel) {
			continue
		}
		enabled[pref.Channel] = pref.Enabled
	}
	// Locked channels keep their org-default state regardless of prefs.
	for _, ch := range cp.Locked {
		enabled[ch] = contains(cp.Default, ch)
	}
	if category == model.CategorySystem {
		enabled[model.ChannelInApp] = true
	}
	return enabled
}
