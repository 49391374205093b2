package common

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/Laisky/zap"

	"github.com/nebulablock/rpdprobe/common/config"
	"github.com/nebulablock/rpdprobe/common/logger"
)

// Version is set at build time through -ldflags "-X github.com/nebulablock/rpdprobe/common.Version=..."
var Version = "v0.0.0"

var (
	Tiers        = flag.String("tiers", "", "comma separated tier names to probe (default: all)")
	Mode         = flag.String("mode", "validate", "validate walks each tier to its boundary, smoke sends one request per tier")
	TiersFile    = flag.String("tiers-file", "", "YAML or JSON tier table overriding TIERS_FILE")
	MetricsAddr  = flag.String("metrics-addr", "", "serve /metrics on this address while probing, overrides METRICS_ADDR")
	History      = flag.Bool("history", false, "persist reports to the history database, same as REPORT_HISTORY_ENABLED=true")
	PrintVersion = flag.Bool("version", false, "print version and exit")
)

// Init parses flags, folds them into config and prepares the logger.
func Init() {
	flag.Parse()

	if *PrintVersion {
		fmt.Println(Version)
		os.Exit(0)
	}

	if v := strings.TrimSpace(*TiersFile); v != "" {
		config.TiersFile = v
	}
	if v := strings.TrimSpace(*MetricsAddr); v != "" {
		config.MetricsAddr = v
	}
	if *History {
		config.ReportHistoryEnabled = true
	}
	config.TiersFile = ExpandPath(config.TiersFile)
	SQLitePath = ExpandPath(config.SQLitePath)

	logger.SetupLogger()
	logger.Logger.Debug("flags parsed",
		zap.String("mode", *Mode),
		zap.String("tiers", *Tiers),
		zap.String("tiers_file", config.TiersFile),
	)
}

// SelectedTiers splits the --tiers flag. Commas, semicolons and newlines all separate names.
func SelectedTiers() []string {
	return SplitList(*Tiers)
}

// SplitList normalizes a user supplied list. Spaces inside a name are kept
// because tier names such as "Engineer Tier 1" contain them.
func SplitList(raw string) []string {
	normalized := strings.NewReplacer(";", ",", "\n", ",", "\r", ",").Replace(raw)
	var out []string
	for _, part := range strings.Split(normalized, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
