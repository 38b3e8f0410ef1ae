package recipe

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strings"
)

// Info holds the configuration values that contribute to a package id
type Info struct {
	Settings map[string]string
	Options  map[string]string
}

func newInfo(settings, options map[string]string) *Info {
	info := &Info{
		Settings: make(map[string]string, len(settings)),
		Options:  make(map[string]string, len(options)),
	}

	for k, v := range settings {
		info.Settings[k] = v
	}
	for k, v := range options {
		info.Options[k] = v
	}
	return info
}

// HeaderOnly drops every setting and option so that all configurations share one package id.
func (i *Info) HeaderOnly() {
	i.Settings = map[string]string{}
	i.Options = map[string]string{}
}

// Text renders the canonical form the package id is hashed from
func (i *Info) Text() string {
	buffer := strings.Builder{}
	writeSection(&buffer, "settings", i.Settings)
	writeSection(&buffer, "options", i.Options)
	return buffer.String()
}

// ID returns the SHA-1 of Text()
func (i *Info) ID() string {
	sum := sha1.Sum([]byte(i.Text()))
	return hex.EncodeToString(sum[:])
}

func writeSection(buffer *strings.Builder, name string, values map[string]string) {
	buffer.WriteString("[" + name + "]\n")

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		buffer.WriteString("    " + k + "=" + values[k] + "\n")
	}
}

// PackageID computes the id of the package built for the given settings and options. The package_id hook may
// reduce the values; a header-only recipe always yields the same id.
func (r *Recipe) PackageID(ctx context.Context, settings, options map[string]string) (string, error) {
	info := newInfo(settings, options)

	err := r.runHook(ctx, &scriptCtx{
		hook: HookPackageID,
		info: info,
	})
	if err != nil {
		return "", err
	}

	if r.HeaderOnly {
		info.HeaderOnly()
	}

	return info.ID(), nil
}
