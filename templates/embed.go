// Package templates embeds the starter policy file.
package templates

import "embed"

//go:embed gatecheck.yaml
var FS embed.FS
