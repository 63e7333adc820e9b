package proxy

import (
	"net/http"

	"github.com/elazarl/goproxy"
	"github.com/sirupsen/logrus"
)

// onRequest hands proxied requests to the worker. Requests it leaves unhandled
// continue through goproxy's default forwarding.
func (s *Server) onRequest(requ *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	resp, handled, err := s.registration.Fetch(requ.Context(), requ)
	if !handled {
		return requ, nil
	}

	if resp == nil {
		if err != nil {
			logrus.Debugf("No response for %s: %v", requ.URL, err)
		}
		return requ, goproxy.NewResponse(requ, goproxy.ContentTypeText, http.StatusBadGateway, "offline: the network could not be reached\n")
	}

	if resp.Request == nil {
		resp.Request = requ
	}
	return requ, resp
}
