package domain

type FieldKind int

const (
	TextField FieldKind = iota
	OptionField
)

// Well known field ids.
const (
	SummaryField         = "summary"
	DescriptionField     = "description"
	AssigneeField        = "assignee"
	PriorityField        = "priority"
	ComponentsField      = "components"
	FixVersionsField     = "fixVersions"
	AffectedVersionField = "versions"
)

type Field struct {
	Id   string    `json:"id"`
	Name string    `json:"name"`
	Kind FieldKind `json:"kind"`
	// Values of a retain-mandatory field can't be dropped when an issue changes context.
	// Every existing value must resolve to a value in the target.
	RetainMandatory bool `json:"retainMandatory,omitempty"`
	Required        bool `json:"required,omitempty"`
}

type Option struct {
	Id   int64  `json:"id"`
	Name string `json:"name"`
}
