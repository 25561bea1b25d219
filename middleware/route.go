package middleware

import (
	midsec "collabgate/middleware/security"
	"github.com/gin-gonic/gin"
)

type RouteOpt struct {
	Bearer      bool   // require Authorization: Bearer
	InternalKey string // require X-Internal-Key; see midsec.RequireInternalKey
	Internal    bool
}

func (o RouteOpt) chain(h gin.HandlerFunc) []gin.HandlerFunc {
	var hs []gin.HandlerFunc
	if o.Internal {
		hs = append(hs, midsec.RequireInternalKey(o.InternalKey))
	}
	if o.Bearer {
		hs = append(hs, midsec.RequireBearer())
	}
	return append(hs, h)
}

func POST(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.POST(path, opt.chain(handler)...)
}

func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.GET(path, opt.chain(handler)...)
}
