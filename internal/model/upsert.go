package model

// Filter selects a single document by equality on one field.
type Filter struct {
	Field string `json:"field" yaml:"field"`
	Value string `json:"value" yaml:"value"`
}

// UpsertOp is one idempotent write. Set is applied on every match, SetOnInsert
// only when the document is created. The two field sets never overlap.
type UpsertOp struct {
	Collection  string                 `json:"collection" yaml:"collection"`
	Filter      Filter                 `json:"filter" yaml:"filter"`
	Set         map[string]interface{} `json:"set" yaml:"set"`
	SetOnInsert map[string]interface{} `json:"set_on_insert" yaml:"set_on_insert"`
}
