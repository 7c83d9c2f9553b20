// Package contract dispatches HTTP requests against a Swagger 2.0 document.
// The document is the source of truth: it decides which handler a request
// reaches, which credentials it must carry, how its parameters and body are
// coerced and validated, and what the handler is expected to answer.
//
// A document is loaded once, from an already decoded tree:
//
//	spec, err := contract.Load(doc)
//
// Handlers are registered by handler identifier, the operationId (prefixed
// by x-swagger-router-controller when present):
//
//	r, err := contract.New(spec,
//	    contract.WithHandler("getPet", getPet),
//	    contract.WithHandler("addPet", contract.Typed(addPet)),
//	    contract.WithTokenVerifier("petstore_auth", verifyToken),
//	)
//
// Each request passes through a fixed pipeline: ROUTING, SECURITY, BINDING,
// BODY_VALIDATION, DISPATCH, RESPONSE_VALIDATION and SERIALIZE. A failure
// is a *StageError naming its stage, and Router.ServeHTTP renders it as an
// RFC 9457 problem details response:
//
//	GET /pets/abc  ->  400 {"stage":"BINDING","errors":[{"in":"path","field":"id",...}]}
//
// Response validation is advisory by default: a mismatch is logged and
// reported through OnResponseWarning, and the response is still sent.
//
// Middleware uses the standard func(http.Handler) http.Handler signature,
// so the entire Go middleware ecosystem works natively.
package contract
