package profile

import (
	"os"

	"github.com/matheus3301/chatsync/internal/config"
)

const (
	DefaultName = "default"
	// NameEnv selects the profile when no flag is given.
	NameEnv = "CHATSYNC_PROFILE"
)

// Resolve determines the active profile using precedence:
// 1. flagOverride (-profile flag)
// 2. $CHATSYNC_PROFILE
// 3. global config.toml default_profile
// 4. "default"
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if name := os.Getenv(NameEnv); name != "" {
		return name
	}
	g, err := config.LoadGlobal(GlobalConfigPath())
	if err == nil && g.DefaultProfile != "" {
		return g.DefaultProfile
	}
	return DefaultName
}
