package appfs

import "embed"

// FS embeds database migrations so binaries can migrate without
// a checkout of the repository on disk.
//go:embed migrations
var FS embed.FS
