package tool

// Registry manages a set of tools by name. Implementations must be safe for
// concurrent use; List and Names return snapshots.
type Registry interface {
	// Register adds a tool. Returns ErrToolExists on duplicate names.
	Register(t Tool) error
	// Get retrieves a tool by name.
	Get(name string) (Tool, bool)
	// List returns all registered tools.
	List() []Tool
	// Names returns all registered tool names.
	Names() []string
	// Has checks whether a tool is registered.
	Has(name string) bool
	// Unregister removes a tool. Returns ErrToolNotFound if absent.
	Unregister(name string) error
}

// Schemas builds provider-facing schemas for every tool in the registry.
func Schemas(r Registry) []Schema {
	tools := r.List()
	schemas := make([]Schema, 0, len(tools))
	for _, t := range tools {
		schemas = append(schemas, SchemaOf(t))
	}
	return schemas
}
