package errors

// Warning is a recovered, component-level failure reported alongside the
// results of a pass.
type Warning struct {
	// Component that degraded (e.g. "detector:fraud", "alert:EMAIL")
	Component string `json:"component"`

	// Kind of the underlying error
	Kind Kind `json:"-"`

	// KindName is Kind as a string, for serialization
	KindName string `json:"kind"`

	Message string `json:"message"`
}

// NewWarning converts err into a warning for component.
func NewWarning(component string, err error) Warning {
	k := GetKind(err)
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Warning{Component: component, Kind: k, KindName: k.String(), Message: msg}
}

// Warnings accumulates warnings in order.
type Warnings []Warning

// Add appends a warning built from err. Nil errors are ignored.
func (w *Warnings) Add(component string, err error) {
	if err == nil {
		return
	}
	*w = append(*w, NewWarning(component, err))
}

// OfKind returns the warnings with kind k.
func (w Warnings) OfKind(k Kind) Warnings {
	var out Warnings
	for _, x := range w {
		if x.Kind == k {
			out = append(out, x)
		}
	}
	return out
}
