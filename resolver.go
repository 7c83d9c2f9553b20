package contract

import (
	"strings"
)

// ControllerExtension names the vendor extension whose value prefixes the
// handler identifier of the operations it applies to. It may be set on a
// path item or an operation.
const ControllerExtension = "x-swagger-router-controller"

// ResolverFunc derives the handler identifier for an operation. An empty
// result fails Load.
type ResolverFunc func(op *Operation) string

// DefaultResolver uses the operationId, prefixed by the router controller
// extension and a dot when one is present.
func DefaultResolver(op *Operation) string {
	if op.OperationID == "" {
		return ""
	}
	if c, _ := op.Extensions[ControllerExtension].(string); c != "" {
		return c + "." + op.OperationID
	}
	return op.OperationID
}

// RestyResolver derives identifiers for operations without an operationId
// from their path and method, REST style:
//
//	GET    /pets       -> prefix.pets.search
//	POST   /pets       -> prefix.pets.post
//	GET    /pets/{id}  -> prefix.pets.get
//	PUT    /pets/{id}  -> prefix.pets.put
//	DELETE /pets/{id}  -> prefix.pets.delete
//
// Operations that do declare an operationId resolve as DefaultResolver does.
func RestyResolver(prefix string) ResolverFunc {
	return func(op *Operation) string {
		if op.OperationID != "" {
			return DefaultResolver(op)
		}

		controller, _ := op.Extensions[ControllerExtension].(string)
		if controller == "" {
			var names []string
			for _, s := range op.template.segments {
				if s.literal != "" && s.re == nil {
					names = append(names, strings.ReplaceAll(s.literal, "-", "_"))
				}
			}
			controller = strings.Join(names, ".")
			if prefix != "" {
				controller = strings.Trim(prefix+"."+controller, ".")
			}
		}

		action := strings.ToLower(op.Method)
		segs := op.template.segments
		collection := len(segs) == 0 || segs[len(segs)-1].param == ""
		if collection && op.Method == "GET" {
			action = "search"
		}
		if controller == "" {
			return action
		}
		return controller + "." + action
	}
}
