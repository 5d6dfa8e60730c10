// SPDX-FileCopyrightText: 2025 The instrcount Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"reflect"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Builder layers YAML overlays over a base configuration. Overlays are
// applied in order; a key left out of an overlay keeps the value below it,
// so `counting: {mangledNames: false}` flips one switch and nothing else.
type Builder struct {
	Config   *Config
	overlays []string
}

// Use sets the base configuration; DefaultConfig is used when unset
func (b *Builder) Use(c *Config) *Builder {
	b.Config = c
	return b
}

// Merge queues YAML overlays
func (b *Builder) Merge(yamls ...string) *Builder {
	b.overlays = append(b.overlays, yamls...)
	return b
}

// Build applies every overlay and validates the result. Unknown keys are
// rejected so that a misspelt counting switch does not pass silently.
func (b *Builder) Build() (*Config, error) {
	if b.Config == nil {
		b.Config = DefaultConfig()
	}

	var errs error
	for i, y := range b.overlays {
		overlay, err := decodeOverlay(y)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("overlay %d: failed to parse YAML: %w", i, err))
			continue
		}
		if err := mergo.Merge(b.Config, overlay, mergo.WithOverride, mergo.WithTransformers(optionalBools{})); err != nil {
			errs = errors.Join(errs, fmt.Errorf("overlay %d: failed to merge: %w", i, err))
		}
	}
	if errs != nil {
		return nil, errs
	}

	b.Config.sanitize()
	if err := b.Config.Validate(); err != nil {
		return nil, err
	}
	return b.Config, nil
}

func decodeOverlay(y string) (*Config, error) {
	overlay := &Config{}
	dec := yaml.NewDecoder(bytes.NewBufferString(y))
	dec.KnownFields(true)
	// an empty overlay changes nothing
	if err := dec.Decode(overlay); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return overlay, nil
}

// optionalBools lets an overlay set a *bool switch to false. mergo treats
// false as empty and would otherwise keep the value below.
type optionalBools struct{}

func (optionalBools) Transformer(typ reflect.Type) func(dst, src reflect.Value) error {
	if typ != reflect.TypeOf((*bool)(nil)) {
		return nil
	}
	return func(dst, src reflect.Value) error {
		if !src.IsNil() && dst.CanSet() {
			dst.Set(src)
		}
		return nil
	}
}
