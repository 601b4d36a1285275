package document

// Property is one named member of an Object.
type Property struct {
	Name  string
	Value Value
}

// Object is an ordered set of properties. Property order is preserved so
// that JSON renderings and projections are deterministic.
type Object struct {
	props []Property
}

func NewObject(props ...Property) *Object {
	o := &Object{props: make([]Property, 0, len(props))}
	for _, p := range props {
		o.Set(p.Name, p.Value)
	}
	return o
}

// P is shorthand for building a Property.
func P(name string, v Value) Property {
	return Property{Name: name, Value: v}
}

func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.props)
}

func (o *Object) Properties() []Property {
	if o == nil {
		return nil
	}
	return o.props
}

func (o *Object) Get(name string) (Value, bool) {
	if o == nil {
		return Missing(), false
	}
	for _, p := range o.props {
		if p.Name == name {
			return p.Value, true
		}
	}
	return Missing(), false
}

// Field returns the named property or Missing.
func (o *Object) Field(name string) Value {
	v, _ := o.Get(name)
	return v
}

// Set replaces an existing property in place or appends a new one.
func (o *Object) Set(name string, v Value) {
	for i := range o.props {
		if o.props[i].Name == name {
			o.props[i].Value = v
			return
		}
	}
	o.props = append(o.props, Property{Name: name, Value: v})
}

func (o *Object) Delete(name string) {
	for i := range o.props {
		if o.props[i].Name == name {
			o.props = append(o.props[:i], o.props[i+1:]...)
			return
		}
	}
}

func (o *Object) Clone() *Object {
	if o == nil {
		return nil
	}
	c := &Object{props: make([]Property, len(o.props))}
	copy(c.props, o.props)
	return c
}

// Select returns a new object holding only the named properties, in the
// order they are requested. Absent names are skipped.
func (o *Object) Select(names ...string) *Object {
	out := &Object{}
	for _, n := range names {
		if v, ok := o.Get(n); ok {
			out.props = append(out.props, Property{Name: n, Value: v})
		}
	}
	return out
}

// Equal compares property sets; order is not significant.
func (o *Object) Equal(other *Object) bool {
	if o.Len() != other.Len() {
		return false
	}
	for _, p := range o.Properties() {
		v, ok := other.Get(p.Name)
		if !ok || !Equal(p.Value, v) {
			return false
		}
	}
	return true
}

// Document is a source document as stored in the record store.
type Document struct {
	ID   string
	Data *Object
}
