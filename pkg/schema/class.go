// Package schema holds the precomputed replication schema of component
// classes: which fields are synchronised, in which order, and which remote
// methods a class exposes. Classes are declared once with Define and are
// immutable afterwards; the runtime never inspects component types itself.
package schema

import (
	"fmt"
	"strings"
)

const (
	// MaxFields is the number of field bits a class can track. Fields
	// declared past it are not replicated.
	MaxFields = 64
	// MaxMethods is the size of a class's method ID space.
	MaxMethods = 256
)

// Class is the replication schema of one component type.
type Class struct {
	name    string
	fields  []*field
	methods []*Method
	byName  map[string]*Method
	issues  []*ConfigError
	accepts func(component any) bool
	dropped int
}

// Def is handed to the build function of Define. It must not be retained.
type Def[B any] struct {
	c *Class
}

// Define builds the schema of component type *B. Fields and methods receive
// their IDs in declaration order.
func Define[B any](name string, build func(d *Def[B])) *Class {
	c := &Class{
		name:   name,
		byName: make(map[string]*Method),
		accepts: func(component any) bool {
			_, ok := component.(*B)
			return ok
		},
	}
	if build != nil {
		build(&Def[B]{c: c})
	}
	if c.dropped > 0 {
		c.issue(false, fmt.Sprintf("%d fields past the %d field limit are not replicated", c.dropped, MaxFields))
	}
	return c
}

func (c *Class) Name() string { return c.name }

func (c *Class) String() string { return "class " + c.name }

// NumFields returns the number of replicated fields.
func (c *Class) NumFields() int { return len(c.fields) }

// FieldName returns the name of field id, or "" if there is none.
func (c *Class) FieldName(id int) string {
	if id < 0 || id >= len(c.fields) {
		return ""
	}
	return c.fields[id].name
}

func (c *Class) Methods() []*Method { return c.methods }

// Method looks a method up by its case-insensitive name.
func (c *Class) Method(name string) (*Method, bool) {
	m, ok := c.byName[strings.ToLower(name)]
	return m, ok
}

func (c *Class) MethodByID(id uint8) (*Method, bool) {
	if int(id) >= len(c.methods) {
		return nil, false
	}
	return c.methods[id], true
}

// Issues lists the configuration problems found while defining the class.
func (c *Class) Issues() []*ConfigError { return c.issues }

// Accepts reports whether component is of the class's component type.
func (c *Class) Accepts(component any) bool { return c.accepts(component) }

func (c *Class) issue(warning bool, msg string) {
	c.issues = append(c.issues, &ConfigError{Class: c.name, Msg: msg, Warning: warning})
}

func (c *Class) addField(name string) *field {
	if len(c.fields) >= MaxFields {
		c.dropped++
		return nil
	}
	f := &field{name: name, id: uint8(len(c.fields))}
	c.fields = append(c.fields, f)
	return f
}

func (c *Class) addMethod(m *Method) *Method {
	m.class = c
	key := strings.ToLower(m.name)
	switch {
	case key == "":
		c.issue(false, "method without a name")
	case c.byName[key] != nil:
		c.issue(false, fmt.Sprintf("duplicate method %q", key))
	case len(c.methods) >= MaxMethods:
		c.issue(false, fmt.Sprintf("method %q exceeds the %d method limit", key, MaxMethods))
	default:
		for i, k := range m.params {
			if k == KindInvalid {
				c.issue(false, fmt.Sprintf("method %q: parameter %d has no wire type", key, i))
				return m
			}
		}
		m.name = key
		m.id = uint8(len(c.methods))
		c.methods = append(c.methods, m)
		c.byName[key] = m
	}
	return m
}
