package configuration

import (
	"github.com/go-playground/validator/v10"
)

func (c BulkChangeConfig) Validate() error {
	validate := validator.New()
	validate.RegisterStructValidation(CatalogConfigValidation, CatalogConfig{})
	return validate.Struct(c)
}

// CatalogConfigValidation checks that every context is configured once and only refers to known workflows.
func CatalogConfigValidation(sl validator.StructLevel) {
	c := sl.Current().Interface().(CatalogConfig)

	workflows := map[string]bool{}
	for i, w := range c.Workflows {
		if workflows[w.Name] {
			sl.ReportError(c.Workflows[i].Name, "Workflows", "Workflows", "unique", w.Name)
		}
		workflows[w.Name] = true
	}
	if len(c.Workflows) > 0 && !workflows[c.DefaultWorkflow] {
		sl.ReportError(c.DefaultWorkflow, "DefaultWorkflow", "DefaultWorkflow", "knownworkflow", "")
	}

	seen := map[string]bool{}
	for _, ctx := range c.Contexts {
		key := ctx.Key().String()
		if seen[key] {
			sl.ReportError(key, "Contexts", "Contexts", "unique", key)
		}
		seen[key] = true
		if ctx.Workflow != "" && !workflows[ctx.Workflow] {
			sl.ReportError(ctx.Workflow, "Contexts", "Contexts", "knownworkflow", key)
		}
	}
}
