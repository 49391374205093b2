package common

import (
	"sync/atomic"

	"github.com/nebulablock/rpdprobe/common/config"
)

// UsingSQLite is set by model.InitDB when report history lives in SQLite.
var UsingSQLite atomic.Bool

var SQLitePath = config.SQLitePath
var SQLiteBusyTimeout = config.SQLiteBusyTimeout
