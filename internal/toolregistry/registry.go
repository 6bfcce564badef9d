// Package toolregistry implements the IPC command registry (C2): mapping
// command names to typed or raw handlers, normalizing their argument
// schemas, and rendering schema-derived help text for the in-sandbox
// `--help` convention.
package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	jsonschemav5 "github.com/santhosh-tekuri/jsonschema/v5"
)

// Handler is the shape every registered command reduces to: parsed
// arguments in, a result string (or error) out.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Field describes one declared argument of a command, in the order
// positional CLI args are expected to fill them.
type Field struct {
	Name        string
	Type        string // "string", "number", "boolean", "object", "array"
	Description string
	Required    bool
	Default     any
}

// Command is a single registered IPC command: its handler, its declared
// argument fields (for CLI-style parsing and help rendering), and a
// normalized JSON schema.
type Command struct {
	Name        string
	Help        string
	Fields      []Field
	Schema      *jsonschema.Schema
	compiled    *jsonschemav5.Schema
	handler     Handler
	positional  []string // field names, in positional order
}

// Registry maps IPC command names to handlers. It is built once per bash
// tool and is immutable after construction, per spec §4.2.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]*Command
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{commands: make(map[string]*Command)}
}

// ConfigureTool registers a statically-typed handler, deriving its
// argument schema from T via reflection (github.com/invopop/jsonschema),
// mirroring spec §4.2's `configure_tool(T: Tool)`.
func ConfigureTool[T any](r *Registry, name, help string, handler func(ctx context.Context, args T) (string, error)) error {
	var zero T
	reflector := &jsonschema.Reflector{ExpandedStruct: true, DoNotReference: true}
	schema := reflector.Reflect(zero)

	fields, positional, err := fieldsFromSchema(schema)
	if err != nil {
		return fmt.Errorf("toolregistry: derive schema for %q: %w", name, err)
	}

	wrapped := func(ctx context.Context, args map[string]any) (string, error) {
		raw, err := json.Marshal(args)
		if err != nil {
			return "", fmt.Errorf("toolregistry: marshal args: %w", err)
		}
		var typed T
		if err := json.Unmarshal(raw, &typed); err != nil {
			return "", fmt.Errorf("toolregistry: unmarshal args for %q: %w", name, err)
		}
		return handler(ctx, typed)
	}

	return r.register(name, help, fields, positional, schema, wrapped)
}

// ConfigureRawHandler registers a dynamically-typed handler for adapters
// that expose an external protocol as an IPC command, per spec §4.2's
// `configure_raw_handler`.
func ConfigureRawHandler(r *Registry, name, help string, positionalOrder []string, fields []Field, handler Handler) error {
	return r.register(name, help, fields, positionalOrder, nil, handler)
}

func (r *Registry) register(name, help string, fields []Field, positional []string, schema *jsonschema.Schema, handler Handler) error {
	if name == "" {
		return fmt.Errorf("toolregistry: command name must not be empty")
	}

	var compiled *jsonschemav5.Schema
	if schema != nil {
		data, err := json.Marshal(schema)
		if err == nil {
			if c, err := jsonschemav5.CompileString(name, string(data)); err == nil {
				compiled = c
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[name] = &Command{
		Name:       name,
		Help:       help,
		Fields:     fields,
		Schema:     schema,
		compiled:   compiled,
		handler:    handler,
		positional: positional,
	}
	return nil
}

// fieldsFromSchema reads a reflected object schema's properties into the
// declared-order Field/positional-name lists ConfigureTool needs.
func fieldsFromSchema(schema *jsonschema.Schema) ([]Field, []string, error) {
	if schema.Type != "object" && schema.Ref == "" {
		return nil, nil, fmt.Errorf("root schema must be an object")
	}
	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
	}

	var fields []Field
	var positional []string
	for pair := schema.Properties.Oldest(); pair != nil; pair = pair.Next() {
		name, prop := pair.Key, pair.Value
		fields = append(fields, Field{
			Name:        name,
			Type:        prop.Type,
			Description: prop.Description,
			Required:    required[name],
			Default:     prop.Default,
		})
		if required[name] {
			positional = append(positional, name)
		}
	}
	return fields, positional, nil
}

// Get returns the named command, if registered.
func (r *Registry) Get(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[name]
	return cmd, ok
}

// Names returns all registered command names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch resolves name and invokes its handler with args. Two input
// grammars are supported by ParseArgv/ParseJSON, which produce the args
// map Dispatch expects.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) (string, error) {
	cmd, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("toolregistry: unknown command %q", name)
	}
	if cmd.compiled != nil {
		if err := cmd.compiled.Validate(toJSONValue(args)); err != nil {
			return "", fmt.Errorf("toolregistry: invalid arguments for %q: %w", name, err)
		}
	}
	return cmd.handler(ctx, args)
}

func toJSONValue(args map[string]any) any {
	data, _ := json.Marshal(args)
	var v any
	_ = json.Unmarshal(data, &v)
	return v
}

// ParseJSON decodes a raw JSON object into the args map Dispatch expects,
// the second of spec §4.2's two input grammars.
func ParseJSON(data []byte) (map[string]any, error) {
	var args map[string]any
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, fmt.Errorf("toolregistry: malformed JSON arguments: %w", err)
	}
	return args, nil
}

// ParseArgv parses CLI-style argv for cmd: positional arguments fill the
// command's declared required fields in order; `--flag=value` pairs
// populate optional fields by name. A bare `--help` (anywhere in argv)
// short-circuits with ErrHelpRequested.
func ParseArgv(cmd *Command, argv []string) (map[string]any, error) {
	for _, a := range argv {
		if a == "--help" || a == "-h" {
			return nil, ErrHelpRequested
		}
	}

	args := make(map[string]any)
	fieldType := make(map[string]string, len(cmd.Fields))
	for _, f := range cmd.Fields {
		fieldType[f.Name] = f.Type
		if f.Default != nil {
			args[f.Name] = f.Default
		}
	}

	var positionalValues []string
	for _, a := range argv {
		if strings.HasPrefix(a, "--") {
			name, value, ok := strings.Cut(strings.TrimPrefix(a, "--"), "=")
			if !ok {
				name, value = a[2:], "true"
			}
			args[name] = coerce(value, fieldType[name])
			continue
		}
		positionalValues = append(positionalValues, a)
	}

	if len(positionalValues) > len(cmd.positional) {
		return nil, fmt.Errorf("toolregistry: %q expects at most %d positional arguments, got %d",
			cmd.Name, len(cmd.positional), len(positionalValues))
	}
	for i, v := range positionalValues {
		name := cmd.positional[i]
		args[name] = coerce(v, fieldType[name])
	}

	for _, f := range cmd.Fields {
		if f.Required {
			if _, ok := args[f.Name]; !ok {
				return nil, fmt.Errorf("toolregistry: %q missing required argument %q", cmd.Name, f.Name)
			}
		}
	}

	return args, nil
}

// ErrHelpRequested is returned by ParseArgv when argv contains --help; the
// caller should render RenderHelp instead of dispatching.
var ErrHelpRequested = fmt.Errorf("toolregistry: --help requested")

func coerce(value, typ string) any {
	switch typ {
	case "number", "integer":
		if n, err := strconv.ParseFloat(value, 64); err == nil {
			return n
		}
	case "boolean":
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return value
}

// RenderHelp renders a schema-derived usage string for name: description,
// positional args with types, optional flags with defaults, per spec
// §4.2's `render_help`.
func (r *Registry) RenderHelp(name string) (string, error) {
	cmd, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("toolregistry: unknown command %q", name)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s", cmd.Name)
	for _, p := range cmd.positional {
		fmt.Fprintf(&b, " <%s>", p)
	}
	b.WriteString("\n\n")
	if cmd.Help != "" {
		b.WriteString(cmd.Help)
		b.WriteString("\n\n")
	}

	if len(cmd.positional) > 0 {
		b.WriteString("Positional arguments:\n")
		for _, p := range cmd.positional {
			f := findField(cmd.Fields, p)
			fmt.Fprintf(&b, "  %-20s %s  %s\n", p, typeLabel(f.Type), f.Description)
		}
	}

	var optional []Field
	for _, f := range cmd.Fields {
		if !f.Required {
			optional = append(optional, f)
		}
	}
	if len(optional) > 0 {
		b.WriteString("\nOptions:\n")
		for _, f := range optional {
			def := ""
			if f.Default != nil {
				def = fmt.Sprintf(" (default: %v)", f.Default)
			}
			fmt.Fprintf(&b, "  --%-18s %s  %s%s\n", f.Name, typeLabel(f.Type), f.Description, def)
		}
	}

	return b.String(), nil
}

func findField(fields []Field, name string) Field {
	for _, f := range fields {
		if f.Name == name {
			return f
		}
	}
	return Field{}
}

func typeLabel(t string) string {
	if t == "" {
		return "(string)"
	}
	return "(" + t + ")"
}
