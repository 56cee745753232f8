package domain

// PipelineRecord maps an external application identifier to an internal
// pipeline uuid. The relay never writes these outside of seeding.
type PipelineRecord struct {
	ID          string `json:"id" yaml:"id"`
	UUID        string `json:"uuid" yaml:"uuid"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`
}
