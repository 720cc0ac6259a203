package main

import (
	"log/slog"

	"github.com/roomrelay/roomrelay/internal/config"
)

// Mesh fan-out grows quadratically with room size; beyond this the relay is
// the wrong topology for the call.
const roomCapacityWarnThreshold = 16

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.AuthMode == config.AuthModeNone {
		logger.Warn("startup security warning: AUTH_MODE=none disables authentication",
			"warning_code", "auth_mode_none",
			"auth_mode", cfg.AuthMode,
			"mode", cfg.Mode,
		)
	}

	if containsString(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if len(cfg.ICEServers) == 0 {
		logger.Warn("startup warning: no ICE servers configured (peers behind NAT may fail to connect)",
			"warning_code", "ice_servers_empty",
			"mode", cfg.Mode,
		)
	}

	if cfg.RoomCapacity > roomCapacityWarnThreshold {
		logger.Warn("startup warning: ROOM_CAPACITY is very large for mesh calls",
			"warning_code", "room_capacity_large",
			"room_capacity", cfg.RoomCapacity,
			"mode", cfg.Mode,
		)
	}
}

func containsString(xs []string, v string) bool {
	for _, s := range xs {
		if s == v {
			return true
		}
	}
	return false
}
