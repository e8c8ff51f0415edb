package ir

// FieldKind is the declared type of a model field.
type FieldKind string

const (
	KindString              FieldKind = "string"
	KindText                FieldKind = "text"
	KindNumber              FieldKind = "number"
	KindBoolean             FieldKind = "boolean"
	KindColor               FieldKind = "color"
	KindStringList          FieldKind = "string[]"
	KindNumberList          FieldKind = "number[]"
	KindJSON                FieldKind = "json"
	KindTimestamp           FieldKind = "timestamp"
	KindRelation            FieldKind = "relation"
	KindRelationList        FieldKind = "relation-list"
	KindGenericRelation     FieldKind = "generic-relation"
	KindGenericRelationList FieldKind = "generic-relation-list"
)

// ValidFieldKinds lists every accepted kind.
var ValidFieldKinds = map[FieldKind]bool{
	KindString: true, KindText: true, KindNumber: true, KindBoolean: true,
	KindColor: true, KindStringList: true, KindNumberList: true, KindJSON: true,
	KindTimestamp: true, KindRelation: true, KindRelationList: true,
	KindGenericRelation: true, KindGenericRelationList: true,
}

// IsRelation reports whether the kind links to other instances.
func (k FieldKind) IsRelation() bool {
	switch k {
	case KindRelation, KindRelationList, KindGenericRelation, KindGenericRelationList:
		return true
	}
	return false
}

// IsList reports whether the kind holds many partners.
func (k FieldKind) IsList() bool {
	return k == KindRelationList || k == KindGenericRelationList
}

// IsGeneric reports whether values carry their target collection.
func (k FieldKind) IsGeneric() bool {
	return k == KindGenericRelation || k == KindGenericRelationList
}

// OnDelete is what happens to partners when the owner is deleted.
type OnDelete string

const (
	OnDeleteSetNull OnDelete = "set_null"
	OnDeleteProtect OnDelete = "protect"
	OnDeleteCascade OnDelete = "cascade"
)

// CollectionSpec is the static description of one collection.
type CollectionSpec struct {
	Name   string      `json:"name"`
	Fields []FieldSpec `json:"fields"`
}

// Field looks up a field by name.
func (c *CollectionSpec) Field(name string) (*FieldSpec, bool) {
	for i := range c.Fields {
		if c.Fields[i].Name == name {
			return &c.Fields[i], true
		}
	}
	return nil, false
}

// FieldSpec is the static description of one field.
type FieldSpec struct {
	Name      string        `json:"name"`
	Kind      FieldKind     `json:"kind"`
	Required  bool          `json:"required,omitempty"`
	Unique    bool          `json:"unique,omitempty"`
	Derived   bool          `json:"derived,omitempty"`
	Default   IRValue       `json:"default,omitempty"`
	Enum      []string      `json:"enum,omitempty"`
	MaxLength int           `json:"max_length,omitempty"`
	Format    string        `json:"format,omitempty"`
	Relation  *RelationSpec `json:"relation,omitempty"`
}

// RelationSpec describes the partner side of a relation field.
type RelationSpec struct {
	// Targets lists partner endpoints. Exactly one for plain relations; the
	// allowed target set for generic relations.
	Targets     []RelationTarget `json:"targets"`
	OnDelete    OnDelete         `json:"on_delete,omitempty"`
	EqualFields []string         `json:"equal_fields,omitempty"`
	// Forbidden collections may never be targets of this field.
	Forbidden []string `json:"forbidden,omitempty"`
}

// RelationTarget is one partner endpoint.
type RelationTarget struct {
	Collection string `json:"collection"`
	Field      string `json:"field"`
}

// Target returns the endpoint for collection.
func (r *RelationSpec) Target(collection string) (RelationTarget, bool) {
	for _, t := range r.Targets {
		if t.Collection == collection {
			return t, true
		}
	}
	return RelationTarget{}, false
}
