// Copyright 2024 Vadim Vygonets.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads the qrpubd configuration.
//
// Values come, in increasing order of precedence, from Default, the
// configuration file (YAML, or JSON with comments), a .env file in the
// working directory and QRPUB_* environment variables.  Command line
// flags are applied by the caller.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	qr "github.com/unixdj/qrpub"
	"github.com/unixdj/qrpub/publish"
)

// Store kinds.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// Config is the daemon configuration.
type Config struct {
	Listen        string       `yaml:"listen" json:"listen"`
	PublicBaseURL string       `yaml:"public_base_url" json:"public_base_url"`
	LogLevel      string       `yaml:"log_level" json:"log_level"`
	Store         StoreConfig  `yaml:"store" json:"store"`
	Upload        UploadConfig `yaml:"upload" json:"upload"`
	Encode        EncodeConfig `yaml:"encode" json:"encode"`
	// ImageEncoding lists the data URL encodings to try, in order:
	// "base64" and "percent".
	ImageEncoding []string `yaml:"image_encoding" json:"image_encoding"`
	// TrustProxy takes request origins from X-Forwarded-* headers.
	TrustProxy bool `yaml:"trust_proxy" json:"trust_proxy"`
}

// StoreConfig selects the blob store.
type StoreConfig struct {
	Kind string `yaml:"kind" json:"kind"` // memory, file or sqlite
	Path string `yaml:"path" json:"path"` // directory or database file
}

// UploadConfig limits uploads.
type UploadConfig struct {
	MaxBytes     int      `yaml:"max_bytes" json:"max_bytes"`
	AllowedTypes []string `yaml:"allowed_types" json:"allowed_types"`
}

// EncodeConfig holds the default QR code options.
type EncodeConfig struct {
	Size   int    `yaml:"size" json:"size"`
	Border int    `yaml:"border" json:"border"`
	Dark   string `yaml:"dark" json:"dark"`
	Light  string `yaml:"light" json:"light"`
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Kanji  bool   `yaml:"kanji" json:"kanji"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Listen:   ":8080",
		LogLevel: "info",
		Store:    StoreConfig{Kind: StoreMemory},
		Upload: UploadConfig{
			MaxBytes: publish.DefaultMaxSize,
			AllowedTypes: []string{
				"image/jpeg", "image/png", "image/gif",
				"image/webp", "image/svg+xml", "image/bmp",
			},
		},
		Encode: EncodeConfig{
			Size:   300,
			Border: 2,
			Dark:   "#000000",
			Light:  "#ffffff",
			Level:  "M",
			Format: "svg",
		},
		ImageEncoding: []string{"base64"},
	}
}

// Load returns the configuration read from the file at path, or the
// default if path is empty, with environment overrides applied.
func Load(path string) (*Config, error) {
	return load(path, ".env", os.LookupEnv)
}

func load(path, envFile string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	dotenv, err := godotenv.Read(envFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: %s: %w", envFile, err)
	}
	err = cfg.ApplyEnv(func(k string) (string, bool) {
		if v, ok := lookup(k); ok {
			return v, true
		}
		v, ok := dotenv[k]
		return v, ok
	})
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile merges the file at path into c.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil && err != io.EOF {
			return fmt.Errorf("config: %s: %w", path, err)
		}
	case ".json", ".jsonc":
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(c); err != nil && err != io.EOF {
			return fmt.Errorf("config: %s: %w", path, err)
		}
	default:
		return fmt.Errorf("config: %s: unknown format %q", path, ext)
	}
	return nil
}

// ApplyEnv overrides c with QRPUB_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, p *string) {
		if v, ok := lookup("QRPUB_" + name); ok {
			*p = v
		}
	}
	list := func(name string, p *[]string) {
		if v, ok := lookup("QRPUB_" + name); ok {
			*p = splitList(v)
		}
	}
	var err error
	num := func(name string, p *int) {
		if v, ok := lookup("QRPUB_" + name); ok && err == nil {
			var n int
			if n, err = strconv.Atoi(strings.TrimSpace(v)); err != nil {
				err = fmt.Errorf("config: QRPUB_%s: %w", name, err)
				return
			}
			*p = n
		}
	}
	flag := func(name string, p *bool) {
		if v, ok := lookup("QRPUB_" + name); ok && err == nil {
			var b bool
			if b, err = strconv.ParseBool(strings.TrimSpace(v)); err != nil {
				err = fmt.Errorf("config: QRPUB_%s: %w", name, err)
				return
			}
			*p = b
		}
	}
	str("LISTEN", &c.Listen)
	str("PUBLIC_BASE_URL", &c.PublicBaseURL)
	str("LOG_LEVEL", &c.LogLevel)
	flag("TRUST_PROXY", &c.TrustProxy)
	str("STORE_KIND", &c.Store.Kind)
	str("STORE_PATH", &c.Store.Path)
	num("UPLOAD_MAX_BYTES", &c.Upload.MaxBytes)
	list("UPLOAD_ALLOWED_TYPES", &c.Upload.AllowedTypes)
	num("ENCODE_SIZE", &c.Encode.Size)
	num("ENCODE_BORDER", &c.Encode.Border)
	str("ENCODE_DARK", &c.Encode.Dark)
	str("ENCODE_LIGHT", &c.Encode.Light)
	str("ENCODE_LEVEL", &c.Encode.Level)
	str("ENCODE_FORMAT", &c.Encode.Format)
	list("IMAGE_ENCODING", &c.ImageEncoding)
	return err
}

func splitList(s string) []string {
	var l []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			l = append(l, v)
		}
	}
	return l
}

// Validate checks c for consistency.
func (c *Config) Validate() error {
	switch c.Store.Kind {
	case StoreMemory:
	case StoreFile, StoreSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("config: store %s needs a path", c.Store.Kind)
		}
	default:
		return fmt.Errorf("config: unknown store kind %q", c.Store.Kind)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("config: upload.max_bytes must be positive")
	}
	if _, err := c.Upload.Types(); err != nil {
		return err
	}
	if _, err := c.Encode.Options(); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if _, err := c.URLEncoders(); err != nil {
		return err
	}
	return nil
}

// SlogLevel returns the log level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: log_level: %w", err)
	}
	return l, nil
}

// Types returns the allowed content types mapped to file extensions.
func (u *UploadConfig) Types() (map[string]string, error) {
	m := make(map[string]string, len(u.AllowedTypes))
	for _, t := range u.AllowedTypes {
		ext, ok := publish.DefaultTypes[strings.ToLower(t)]
		if !ok {
			return nil, fmt.Errorf("config: unsupported upload type %q", t)
		}
		m[strings.ToLower(t)] = ext
	}
	if len(m) == 0 {
		return nil, errors.New("config: no upload types allowed")
	}
	return m, nil
}

// Options returns e as QR code options.
func (e *EncodeConfig) Options() (qr.Options, error) {
	o := qr.Options{Size: e.Size, Border: e.Border, Kanji: e.Kanji}
	var err error
	if o.Dark, err = qr.ParseColor(e.Dark); err != nil {
		return o, err
	}
	if o.Light, err = qr.ParseColor(e.Light); err != nil {
		return o, err
	}
	if o.Level, err = qr.ParseLevel(e.Level); err != nil {
		return o, err
	}
	if o.Format, err = qr.ParseFormat(e.Format); err != nil {
		return o, err
	}
	return o, o.Validate()
}

// URLEncoders returns the data URL encoder chain.
func (c *Config) URLEncoders() ([]qr.URLEncoder, error) {
	var chain []qr.URLEncoder
	for _, name := range c.ImageEncoding {
		enc, ok := qr.URLEncoders[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("config: unknown image encoding %q", name)
		}
		chain = append(chain, enc)
	}
	return chain, nil
}
