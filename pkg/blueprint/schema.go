package blueprint

import (
	"fmt"
	"regexp"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
)

// moduleSchema constrains the shape of every module, whatever its format.
const moduleSchema = `
#Identifier: =~"^[A-Za-z_][A-Za-z0-9_]*$"

#Attribute: {
	default?:        _
	required?:       bool
	choices?:        [..._]
	modify_rebuild?: bool
	dynamic?:        bool
	secret?:         bool
	description?:    string
}

#Class: {
	extends:      string & !=""
	version?:     =~"^[0-9]+\\.[0-9]+\\.[0-9]+(-[0-9A-Za-z.-]+)?$"
	description?: string
	attributes?: {[#Identifier]: #Attribute}
}

#Resource: {
	type: string & !=""
	depends_on?: [...(string & !="")]
	attributes?: {[#Identifier]: _}
}

#Module: {
	classes?: {[#Identifier]: #Class}
	resources?: {[#Identifier]: #Resource}
	...
}
`

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// compileSchema compiles the module schema into ctx and returns #Module.
func compileSchema(ctx *cue.Context) (cue.Value, error) {
	val := ctx.CompileString(moduleSchema, cue.Filename("schema.cue"))
	if err := val.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("failed to compile module schema: %w", err)
	}
	return val.LookupPath(cue.ParsePath("#Module")), nil
}

// newValidator returns a validator with the identifier rule registered.
func newValidator() (*validator.Validate, error) {
	v := validator.New(validator.WithRequiredStructEnabled())
	err := v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return identifierPattern.MatchString(fl.Field().String())
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register identifier validation: %w", err)
	}
	return v, nil
}

// decodeModule validates val against schema and decodes it.
func decodeModule(schema, val cue.Value, v *validator.Validate, file string) (*ModuleSpec, []ValidationError) {
	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, convertCUEErrors(err, file)
	}

	var spec ModuleSpec
	if err := unified.Decode(&spec); err != nil {
		return nil, convertCUEErrors(err, file)
	}

	if err := v.Struct(spec); err != nil {
		return nil, convertValidatorErrors(err, file)
	}
	return &spec, nil
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func convertCUEErrors(err error, file string) []ValidationError {
	var out []ValidationError
	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{
			File:    file,
			Message: cueerrors.Details(e, nil),
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 && pos[0].Filename() == file {
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = append(out, ValidationError{File: file, Message: err.Error()})
	}
	return out
}

func convertValidatorErrors(err error, file string) []ValidationError {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []ValidationError{{File: file, Message: err.Error()}}
	}

	out := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{
			File:    file,
			Path:    fe.Namespace(),
			Message: fmt.Sprintf("value %v failed the %q rule", fe.Value(), fe.Tag()),
		})
	}
	return out
}
