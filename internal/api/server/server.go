package server

import (
	"net/http"

	"github.com/wb-go/wbf/ginext"
)

// New creates the HTTP server serving the notification API.
func New(addr string, router *ginext.Engine) *http.Server {
	return &http.Server{
		Addr:    addr,
		Handler: router,
	}
}
