package intent

// Pipeline runs validators in order and short-circuits on the first
// invalid result. An empty pipeline accepts everything.
type Pipeline struct {
	validators []Validator
}

// NewPipeline creates a pipeline over the given validators.
func NewPipeline(validators ...Validator) *Pipeline {
	return &Pipeline{validators: validators}
}

// Add appends a validator to the pipeline.
func (p *Pipeline) Add(v Validator) {
	p.validators = append(p.validators, v)
}

// Len returns the number of validators in the pipeline.
func (p *Pipeline) Len() int {
	return len(p.validators)
}

// Validate runs every validator in order, returning the first failure.
func (p *Pipeline) Validate(intent Intent) Result {
	for _, v := range p.validators {
		if res := v.Validate(intent); !res.Valid {
			return res
		}
	}
	return OK()
}
