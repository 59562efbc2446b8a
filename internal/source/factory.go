package source

import (
	"fmt"

	"github.com/ewhitley/cadence/internal/config"
)

// FromConfig builds the adapter for a configured source. The config map key
// doubles as the source type, the way a cadence config names its sources.
func FromConfig(name string, cfg config.SourceConfig, me config.MeConfig) (Source, error) {
	switch name {
	case "calls":
		return NewCalls(name, cfg.Path), nil
	case "messages":
		return NewMessages(name, cfg.Path), nil
	case "chatapp":
		return NewChatApp(name, cfg.Path), nil
	case "email":
		return NewEmail(name, cfg.Path, me.Emails), nil
	case "calendar":
		return NewCalendar(name, cfg.Path, me.Emails), nil
	case "directory":
		return nil, fmt.Errorf("directory is not an event source; use DirectoryFromConfig")
	default:
		return nil, fmt.Errorf("unknown source type: %s", name)
	}
}

// DirectoryFromConfig builds the contact-directory adapter, if configured.
func DirectoryFromConfig(cfg *config.Config) Directory {
	dirCfg, ok := cfg.Sources["directory"]
	if !ok || !dirCfg.Enabled {
		return nil
	}
	return NewVCardDirectory("directory", dirCfg.Path)
}
