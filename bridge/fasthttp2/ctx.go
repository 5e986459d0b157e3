package fasthttp2

import "github.com/valyala/fasthttp"

// Ctx pairs a client request with the channel its eventual response (or
// error) arrives on. Conn.Write enqueues one per outbound request; the
// write loop assigns it a stream id, the read loop fills Response and
// closes Err once END_STREAM is seen.
type Ctx struct {
	Request  *fasthttp.Request
	Response *fasthttp.Response
	Err      chan error
}

// AcquireCtx builds a Ctx wrapping req/res.
func AcquireCtx(req *fasthttp.Request, res *fasthttp.Response) *Ctx {
	return &Ctx{
		Request:  req,
		Response: res,
		Err:      make(chan error, 1),
	}
}
