package contract

import (
	"context"
	"net/http"
	"reflect"
)

// CookieSetter is optionally implemented by typed responses to set cookies.
type CookieSetter interface {
	Cookies() []*http.Cookie
}

// HeaderSetter is optionally implemented by typed responses to set response headers.
type HeaderSetter interface {
	SetHeaders(h http.Header)
}

// Typed adapts a struct-based handler. The request type is populated from
// the bound Input:
//
//	type GetPetReq struct {
//	    ID     int64    `path:"id"`
//	    Tags   []string `query:"tags"`
//	    Caller *contract.Principal
//	}
//
// Fields tagged path, query, header, cookie or form receive the parameter of
// that name. A Body field receives the decoded body; a request type with no
// tagged fields is decoded from the body as a whole. A *Principal field
// receives the authenticated principal and an embedded RawRequest the
// transport request.
//
// The response value becomes the body. A response implementing StatusCoder,
// HeaderSetter or CookieSetter controls the status, headers and cookies.
func Typed[Req, Resp any](h Handler[Req, Resp]) HandlerFunc {
	return func(ctx context.Context, in *Input) (*Response, error) {
		req, err := decodeInput[Req](in)
		if err != nil {
			return nil, err
		}

		if sv, ok := any(req).(SelfValidator); ok {
			if err := sv.Validate(); err != nil {
				return nil, err
			}
		}

		resp, err := h(ctx, req)
		if err != nil {
			return nil, err
		}
		return typedResponse(resp), nil
	}
}

func typedResponse[Resp any](resp *Resp) *Response {
	out := &Response{}
	if resp == nil || reflect.TypeFor[Resp]() == reflect.TypeFor[Void]() {
		return out
	}

	var v any = resp
	if s, ok := v.(*Stream); ok {
		out.Body = s
		return out
	}

	if sc, ok := v.(StatusCoder); ok {
		out.Status = sc.StatusCode()
	}
	if hs, ok := v.(HeaderSetter); ok {
		out.Header = make(http.Header)
		hs.SetHeaders(out.Header)
	}
	if cs, ok := v.(CookieSetter); ok {
		if out.Header == nil {
			out.Header = make(http.Header)
		}
		for _, c := range cs.Cookies() {
			out.Header.Add("Set-Cookie", c.String())
		}
	}
	out.Body = resp
	return out
}
