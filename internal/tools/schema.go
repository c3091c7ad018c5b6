package tools

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Kind is the semantic type of a parameter.
type Kind int

const (
	String Kind = iota
	Integer
	Date // calendar day, "YYYY-MM-DD"
	Enum // closed set of literal values
)

// Param declares one named parameter.
type Param struct {
	Name     string
	Kind     Kind
	Values   []any // literals for Enum
	Required bool
}

// Signature is the declared parameter list of an operation.
type Signature struct {
	Params []Param
}

// Params is shorthand for building a Signature.
func Params(ps ...Param) *Signature {
	return &Signature{Params: ps}
}

// Required declares a mandatory parameter.
func Required(name string, kind Kind, values ...any) Param {
	return Param{Name: name, Kind: kind, Values: values, Required: true}
}

// Optional declares a parameter the caller may omit.
func Optional(name string, kind Kind, values ...any) Param {
	return Param{Name: name, Kind: kind, Values: values}
}

// Function is one entry of the schema sent to the model.
type Function struct {
	Type        string     `json:"type"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Parameters  Parameters `json:"parameters"`
}

// Parameters is the JSON Schema object describing a function's arguments.
type Parameters struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required"`
}

// Property is the JSON Schema of a single argument.
type Property struct {
	Type   string `json:"type"`
	Format string `json:"format,omitempty"`
	Enum   []any  `json:"enum,omitempty"`
}

func (f Function) clone() Function {
	props := maps.Clone(f.Parameters.Properties)
	for name, p := range props {
		p.Enum = slices.Clone(p.Enum)
		props[name] = p
	}
	f.Parameters.Properties = props
	f.Parameters.Required = slices.Clone(f.Parameters.Required)
	return f
}

var errNoSignature = errors.New("no declared signature")

func resolve(s Spec) (Function, error) {
	if s.Signature == nil {
		return Function{}, errNoSignature
	}

	params := Parameters{
		Type:       "object",
		Properties: make(map[string]Property, len(s.Signature.Params)),
		Required:   []string{},
	}
	for _, p := range s.Signature.Params {
		if p.Name == "" {
			return Function{}, errors.New("parameter without a name")
		}
		if _, dup := params.Properties[p.Name]; dup {
			return Function{}, fmt.Errorf("parameter %s declared twice", p.Name)
		}
		params.Properties[p.Name] = property(p)
		if p.Required {
			params.Required = append(params.Required, p.Name)
		}
	}

	return Function{
		Type:        "function",
		Name:        s.Name,
		Description: s.Description,
		Parameters:  params,
	}, nil
}

// property maps a parameter to its schema. Anything not recognized falls
// back to a plain string.
func property(p Param) Property {
	switch p.Kind {
	case Integer:
		return Property{Type: "integer"}
	case Date:
		return Property{Type: "string", Format: "date"}
	case Enum:
		if len(p.Values) == 0 {
			break
		}
		typ := "string"
		if isNumber(p.Values[0]) {
			typ = "number"
		}
		return Property{Type: typ, Enum: p.Values}
	}
	return Property{Type: "string"}
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}
