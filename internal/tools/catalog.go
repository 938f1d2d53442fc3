// Package tools holds the tool catalog, the handler registry and the
// executor that dispatches model tool calls.
package tools

import "github.com/b0ase/kintsugi/internal/domain"

// statusGrants maps a session status to the categories visible to the model.
var statusGrants = map[domain.SessionStatus][]domain.ToolCategory{
	domain.StatusNegotiating: {domain.CategoryNegotiation, domain.CategoryContract},
	domain.StatusContracted:  {domain.CategoryContract, domain.CategoryPayment},
	domain.StatusExecuting:   {domain.CategoryMilestone, domain.CategoryPayment, domain.CategoryDispute},
	domain.StatusDisputed:    {domain.CategoryDispute, domain.CategoryPayment},
	domain.StatusCompleted:   {domain.CategoryContract},
}

// readOnlyStatuses only expose the read-only tools of their granted categories.
var readOnlyStatuses = map[domain.SessionStatus]bool{
	domain.StatusCompleted: true,
}

// Catalog is the immutable set of tool definitions grouped by category.
type Catalog struct {
	byCategory map[domain.ToolCategory][]domain.ToolDefinition
	byName     map[string]domain.ToolDefinition
}

// DefaultCatalog returns the catalog of every built-in tool.
func DefaultCatalog() *Catalog {
	return NewCatalog(map[domain.ToolCategory][]domain.ToolDefinition{
		domain.CategoryContract:    contractTools,
		domain.CategoryMilestone:   milestoneTools,
		domain.CategoryPayment:     paymentTools,
		domain.CategoryDispute:     disputeTools,
		domain.CategoryNegotiation: negotiationTools,
		domain.CategoryExchange:    exchangeTools,
	})
}

// NewCatalog builds a catalog from per-category listings.
func NewCatalog(listings map[domain.ToolCategory][]domain.ToolDefinition) *Catalog {
	c := &Catalog{
		byCategory: make(map[domain.ToolCategory][]domain.ToolDefinition, len(listings)),
		byName:     make(map[string]domain.ToolDefinition),
	}
	for category, defs := range listings {
		copied := make([]domain.ToolDefinition, len(defs))
		for i, def := range defs {
			def.Category = category
			copied[i] = def
			c.byName[def.Name] = def
		}
		c.byCategory[category] = copied
	}
	return c
}

// Category returns the canonical listing of one category.
func (c *Catalog) Category(category domain.ToolCategory) []domain.ToolDefinition {
	return append([]domain.ToolDefinition(nil), c.byCategory[category]...)
}

// All returns the union of every category in catalog order.
func (c *Catalog) All() []domain.ToolDefinition {
	var out []domain.ToolDefinition
	for _, category := range domain.ToolCategories {
		out = append(out, c.byCategory[category]...)
	}
	return out
}

// Lookup finds a tool by name.
func (c *Catalog) Lookup(name string) (domain.ToolDefinition, bool) {
	def, ok := c.byName[name]
	return def, ok
}

// ForStatus returns the tools visible to the model for a session status.
// Unknown statuses get no tools.
func (c *Catalog) ForStatus(status domain.SessionStatus) []domain.ToolDefinition {
	var out []domain.ToolDefinition
	for _, category := range GrantedCategories(status) {
		for _, def := range c.byCategory[category] {
			if readOnlyStatuses[status] && !def.ReadOnly {
				continue
			}
			out = append(out, def)
		}
	}
	return out
}

// GrantedCategories returns the categories a status grants.
func GrantedCategories(status domain.SessionStatus) []domain.ToolCategory {
	return append([]domain.ToolCategory(nil), statusGrants[status]...)
}
