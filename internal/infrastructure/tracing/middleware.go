package tracing

import (
	"github.com/gin-gonic/gin"
)

// HTTPMiddleware creates Gin middleware running the same exchange as Wrap.
//
// gin recycles its context once the engine returns, so handlers that suspend
// the request must not write through c.Writer afterwards. The artifact is
// still closed on the async notification.
func (f *Filter) HTTPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		x := f.begin(c.Writer, c.Request)
		if x == nil {
			c.Next()
			return
		}
		defer x.recoverChain()

		c.Request = x.req.HTTPRequest()
		c.Writer = x.resp.WrapGin(c.Writer)

		c.Next()

		x.settle(c.Request, c.Writer.Status())
	}
}
