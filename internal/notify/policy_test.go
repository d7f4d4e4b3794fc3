package notify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lexcomms/internal/model"
)

func pref(cat model.Category, ch model.Channel, enabled bool) model.Preference {
	return model.Preference{UserID: "u1", Category: cat, Channel: ch, Enabled: enabled}
}

func TestResolveDefaults(t *testing.T) {
	p := DefaultPolicy()

	got := p.Resolve(model.CategoryMessage, nil)
	if !got[model.ChannelInApp] || !got[model.ChannelPush] {
		t.Fatalf("message defaults: %v", got)
	}
	if got[model.ChannelEmail] {
		t.Fatalf("email must be off by default for messages: %v", got)
	}

	got = p.Resolve(model.CategoryPayment, nil)
	if !got[model.ChannelEmail] {
		t.Fatalf("payment defaults must include email: %v", got)
	}
}

func TestResolveHonorsOptOut(t *testing.T) {
	p := DefaultPolicy()
	got := p.Resolve(model.CategoryMessage, []model.Preference{
		pref(model.CategoryMessage, model.ChannelPush, false),
	})
	if got[model.ChannelPush] {
		t.Fatalf("push opt-out ignored: %v", got)
	}
	if !got[model.ChannelInApp] {
		t.Fatalf("in_app must survive an unrelated opt-out: %v", got)
	}
}

func TestResolveOptIn(t *testing.T) {
	p := DefaultPolicy()
	got := p.Resolve(model.CategoryMatter, []model.Preference{
		pref(model.CategoryMatter, model.ChannelEmail, true),
	})
	if !got[model.ChannelEmail] {
		t.Fatalf("email opt-in ignored: %v", got)
	}
}

func TestResolveIgnoresOtherCategories(t *testing.T) {
	p := DefaultPolicy()
	got := p.Resolve(model.CategoryMessage, []model.Preference{
		pref(model.CategoryPayment, model.ChannelPush, false),
	})
	if !got[model.ChannelPush] {
		t.Fatalf("payment pref must not affect message resolution: %v", got)
	}
}

func TestResolveLockedChannels(t *testing.T) {
	p := Policy{
		model.CategoryPayment: {
			Default: []model.Channel{model.ChannelInApp, model.ChannelEmail},
			Locked:  []model.Channel{model.ChannelEmail},
		},
	}
	got := p.Resolve(model.CategoryPayment, []model.Preference{
		pref(model.CategoryPayment, model.ChannelEmail, false),
	})
	if !got[model.ChannelEmail] {
		t.Fatalf("locked channel must not be disabled by a pref: %v", got)
	}

	// Locked but not in defaults: stays off even when opted in.
	p = Policy{
		model.CategoryPayment: {
			Default: []model.Channel{model.ChannelInApp},
			Locked:  []model.Channel{model.ChannelEmail},
		},
	}
	got = p.Resolve(model.CategoryPayment, []model.Preference{
		pref(model.CategoryPayment, model.ChannelEmail, true),
	})
	if got[model.ChannelEmail] {
		t.Fatalf("locked-off channel must not be enabled by a pref: %v", got)
	}
}

func TestResolveSystemAlwaysInApp(t *testing.T) {
	p := DefaultPolicy()
	got := p.Resolve(model.CategorySystem, []model.Preference{
		pref(model.CategorySystem, model.ChannelInApp, false),
	})
	if !got[model.ChannelInApp] {
		t.Fatalf("system must always deliver in-app: %v", got)
	}
}

func TestLoadPolicyMissingFileUsesDefaults(t *testing.T) {
	p, err := LoadPolicy(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if got := p.Resolve(model.CategoryMessage, nil); !got[model.ChannelInApp] {
		t.Fatalf("defaults not applied: %v", got)
	}
}

func TestLoadPolicyOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notifications.yaml")
	content := "message:\n  default: [in_app]\n  locked: [in_app]\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	got := p.Resolve(model.CategoryMessage, nil)
	if got[model.ChannelPush] {
		t.Fatalf("overlay must replace the message defaults: %v", got)
	}
	// Categories the file does not mention keep their defaults.
	if got := p.Resolve(model.CategoryPayment, nil); !got[model.ChannelEmail] {
		t.Fatalf("payment defaults lost after overlay: %v", got)
	}
}

func TestLoadPolicyUnknownCategory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notifications.yaml")
	if err := os.WriteFile(path, []byte("gossip:\n  default: [in_app]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPolicy(path); err == nil {
		t.Fatal("unknown category must be rejected")
	}
}
