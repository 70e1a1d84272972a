package types

// FieldDef describes one field of an EntityDef.
type FieldDef struct {
	Name     string
	Tag      ValueTag
	Required bool
	Indexed  bool
}

// RelationKind distinguishes the two directions a RelationDef can be
// followed from in an include.
type RelationKind uint8

const (
	RelationHasMany RelationKind = iota
	RelationBelongsTo
)

// RelationDef names a graph edge between two entity types, joined on a
// field of the child entity that holds the parent's EntityID.
type RelationDef struct {
	Name       string
	FromEntity string
	ToEntity   string
	Kind       RelationKind
	// JoinField is the field on the "many" side that stores the parent id.
	JoinField string
}

// ConstraintKind enumerates the constraint shapes the catalog tracks.
// Enforcement beyond existence of the constraint in the bundle (e.g. full
// referential integrity checking) is outside this core's scope; the
// catalog records constraints so the executor and a future migration
// layer can consult them.
type ConstraintKind uint8

const (
	ConstraintUnique ConstraintKind = iota
	ConstraintNotNull
	ConstraintForeignKey
)

type ConstraintDef struct {
	Name   string
	Entity string
	Fields []string
	Kind   ConstraintKind
	// RefEntity is set only for ConstraintForeignKey.
	RefEntity string
}

// EntityDef is one entity type's shape within a SchemaBundle.
type EntityDef struct {
	Name   string
	Fields []FieldDef
}

func (e EntityDef) Field(name string) (FieldDef, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDef{}, false
}

// SchemaBundle is an immutable, versioned snapshot of the complete schema.
// Evolving the schema never rewrites a bundle; it appends bundle Version+1
// to the catalog's history.
type SchemaBundle struct {
	Version     uint64
	CreatedAt   uint64
	Entities    []EntityDef
	Relations   []RelationDef
	Constraints []ConstraintDef
}

func (b SchemaBundle) Entity(name string) (EntityDef, bool) {
	for _, e := range b.Entities {
		if e.Name == name {
			return e, true
		}
	}
	return EntityDef{}, false
}

func (b SchemaBundle) Relation(name string) (RelationDef, bool) {
	for _, r := range b.Relations {
		if r.Name == name {
			return r, true
		}
	}
	return RelationDef{}, false
}
