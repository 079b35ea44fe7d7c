package debug

// Variable is a variable or evaluation result. Values are produced fresh
// on each query and never mutated in place.
type Variable struct {
	// Name is the variable name or the evaluated expression.
	Name string `json:"name"`

	// Value is the textual representation of the value.
	Value string `json:"value"`

	// Type is the runtime type label.
	Type string `json:"type,omitempty"`

	// Evaluatable indicates the variable can be used in an evaluate
	// expression.
	Evaluatable bool `json:"evaluatable"`

	// Children are nested members, same shape recursively.
	Children []Variable `json:"children,omitempty"`
}
