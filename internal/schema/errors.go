package schema

import "fmt"

// Definition error codes (E200-E299).
const (
	ErrDuplicateEntity   = "E201" // entity type declared twice
	ErrDuplicateLink     = "E202" // link name declared twice
	ErrUndeclaredType    = "E203" // link role sits on an unknown type
	ErrDuplicateLabel    = "E204" // label already used on the same type
	ErrInvalidAttrType   = "E205" // attribute type not in string|number|boolean|any
	ErrInvalidName       = "E206" // empty or reserved name
	ErrInvalidCardinal   = "E207" // cardinality not one|many
	ErrInvalidOnDelete   = "E208" // onDelete not "" or cascade
	ErrDuplicateAttrName = "E209" // attribute declared twice on one type
)

// DefinitionError reports an invalid schema definition.
type DefinitionError struct {
	Code    string `json:"code"`
	Subject string `json:"subject"` // entity or link name
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *DefinitionError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s.%s: %s", e.Code, e.Subject, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Subject, e.Message)
}
