// Package packages maps the logical names a caller starts servers by to the
// command line that launches each peer.
package packages

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

// ErrUnknownPackage is returned for a name that is not in the table.
var ErrUnknownPackage = errors.New("unknown package")

// Command describes how to launch one peer.
type Command struct {
	DisplayName string
	Path        string
	Args        []string
	Dir         string
	Env         map[string]string
}

// Environ renders Env as KEY=VALUE pairs, sorted by key.
func (c Command) Environ() []string {
	keys := slices.Sorted(maps.Keys(c.Env))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+c.Env[k])
	}
	return out
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

// Resolver turns a logical name into a Command.
type Resolver interface {
	Resolve(name string) (Command, error)
}

// Table is a fixed set of packages.
type Table map[string]Command

func npx(pkg string) Command {
	return Command{DisplayName: pkg, Path: "npx", Args: []string{"-y", pkg}}
}

// Default is the built-in table of aidd.md MCP packages.
func Default() Table {
	return Table{
		"monolithic": npx("@aidd.md/mcp"),
		"core":       npx("@aidd.md/mcp-core"),
		"memory":     npx("@aidd.md/mcp-memory"),
		"tools":      npx("@aidd.md/mcp-tools"),
	}
}

// Names returns the package names in sorted order.
func (t Table) Names() []string {
	return slices.Sorted(maps.Keys(t))
}

func (t Table) Resolve(name string) (Command, error) {
	cmd, ok := t[name]
	if !ok {
		return Command{}, fmt.Errorf("%w '%s'. Valid: %s", ErrUnknownPackage, name, strings.Join(t.Names(), ", "))
	}
	cmd.Args = slices.Clone(cmd.Args)
	cmd.Env = maps.Clone(cmd.Env)
	return cmd, nil
}

// Merge returns a copy of t with every entry of other added or replaced.
func (t Table) Merge(other Table) Table {
	out := maps.Clone(t)
	if out == nil {
		out = Table{}
	}
	maps.Copy(out, other)
	return out
}

// Registry is a Resolver whose table can be swapped while in use.
type Registry struct {
	mu    sync.RWMutex
	table Table
}

func NewRegistry(t Table) *Registry {
	return &Registry{table: t}
}

func (r *Registry) Resolve(name string) (Command, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.table.Resolve(name)
}

// Replace swaps in a new table.
func (r *Registry) Replace(t Table) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table = t
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.table.Names()
}
