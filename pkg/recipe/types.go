package recipe

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
)

// Hook names a lifecycle function a recipe script may define.
type Hook string

const (
	HookExportSources Hook = "export_sources"
	HookPackage       Hook = "package"
	HookDeploy        Hook = "deploy"
	HookPackageID     Hook = "package_id"
)

var knownHooks = []Hook{HookExportSources, HookPackage, HookDeploy, HookPackageID}

// Recipe contains the metadata declared by recipe() and the hooks defined by the script
type Recipe struct {
	Name         string
	Version      string
	License      string
	Description  string
	URL          string
	Author       string
	Topics       []string
	HeaderOnly   bool
	NoCopySource bool

	// Path is the absolute path of the script this recipe was loaded from.
	Path  string
	hooks map[Hook]starlark.Callable
}

// HasHook reports whether the script defined the given hook
func (r *Recipe) HasHook(hook Hook) bool {
	_, ok := r.hooks[hook]
	return ok
}

// Dir returns the directory containing the recipe script. Sources are exported relative to it.
func (r *Recipe) Dir() string {
	if r.Path == "" {
		return "."
	}
	return filepath.Dir(r.Path)
}

// Reference builds the package reference for the given account and channel
func (r *Recipe) Reference(user, channel string) Reference {
	return Reference{
		Name:    r.Name,
		Version: r.Version,
		User:    user,
		Channel: channel,
	}
}

// Reference identifies a package in the cache and on remotes
type Reference struct {
	Name    string
	Version string
	User    string
	Channel string
}

func (r Reference) String() string {
	if r.User == "" && r.Channel == "" {
		return r.Name + "/" + r.Version
	}

	return fmt.Sprintf("%s/%s@%s/%s", r.Name, r.Version, orPlaceholder(r.User), orPlaceholder(r.Channel))
}

// PathParts returns the reference as path segments with "_" in place of a missing user or channel.
func (r Reference) PathParts() []string {
	return []string{r.Name, r.Version, orPlaceholder(r.User), orPlaceholder(r.Channel)}
}

func orPlaceholder(value string) string {
	if value == "" {
		return "_"
	}
	return value
}

// ParseReference parses "name/version" or "name/version@user/channel"
func ParseReference(value string) (Reference, error) {
	var ref Reference

	main := value
	userChannel := ""
	if pos := strings.Index(value, "@"); pos > -1 {
		main = value[:pos]
		userChannel = value[pos+1:]
	}

	parts := strings.Split(main, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return ref, eris.Errorf("invalid reference %q, expected name/version[@user/channel]", value)
	}
	ref.Name = parts[0]
	ref.Version = parts[1]

	if userChannel != "" {
		parts = strings.Split(userChannel, "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return ref, eris.Errorf("invalid reference %q, expected user/channel after @", value)
		}

		if parts[0] != "_" {
			ref.User = parts[0]
		}
		if parts[1] != "_" {
			ref.Channel = parts[1]
		}
	}

	return ref, nil
}
