// Package config loads collabd and collabctl configuration from YAML.
//
// ${VAR} references are expanded from the environment before parsing, so
// secrets (auth_secret, database passwords) can stay out of the file.
package config
