// Package configs provides the embedded configuration template.
//
// The template is embedded at build time so 'esvacuum config init' works
// for source builds and binary releases alike. Edit config.example.yaml
// and rebuild to change it.
package configs

import _ "embed"

// ConfigTemplate is written by 'esvacuum config init' to
// ~/.config/esvacuum/config.yaml.
//
//go:embed config.example.yaml
var ConfigTemplate string
