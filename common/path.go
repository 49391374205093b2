package common

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Laisky/zap"

	"github.com/nebulablock/rpdprobe/common/logger"
)

var windowsEnvPattern = regexp.MustCompile(`%([A-Za-z0-9_]+)%`)

// ExpandPath resolves $VAR, %VAR% and a leading ~ in user supplied file paths
// such as the tiers file and the SQLite database.
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}

	expanded := os.ExpandEnv(path)
	expanded = windowsEnvPattern.ReplaceAllStringFunc(expanded, func(match string) string {
		key := strings.Trim(match, "%")
		if val, ok := os.LookupEnv(key); ok && val != "" {
			return val
		}
		return match
	})

	if expanded == "~" || strings.HasPrefix(expanded, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			expanded = filepath.Join(home, strings.TrimPrefix(expanded, "~"))
		}
	}

	if expanded != path {
		logger.Logger.Debug("expanded path", zap.String("path", path), zap.String("expanded", expanded))
	}
	return expanded
}
