// Package dashboard embeds the status page served at "/" by the status
// server.
//
// The page reads the header from /api/latest and then follows /api/sse,
// showing the newest row and the per-source status of the tick that
// produced it.
package dashboard

import "embed"

// Assets holds assets/index.html.
//
//go:embed assets/*
var Assets embed.FS
