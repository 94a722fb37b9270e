package gateway

import (
	"context"
	"net/http"

	"github.com/joao-fontenele/insureflow/internal/httpapi"
)

const headerSignature = "X-Signature"

// forwardedHeaders are the request headers services rely on. Everything else
// stays at the edge.
var forwardedHeaders = []string{"Content-Type", httpapi.HeaderUserID, httpapi.HeaderUserRole, headerSignature}

type ServiceProxy struct {
	baseURL string
	client  *http.Client
}

func NewServiceProxy(baseURL string, client *http.Client) *ServiceProxy {
	return &ServiceProxy{
		baseURL: baseURL,
		client:  client,
	}
}

func (p *ServiceProxy) ForwardRequest(ctx context.Context, r *http.Request, path string) (*http.Response, error) {
	target := p.baseURL + path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, r.Body)
	if err != nil {
		return nil, err
	}

	for _, h := range forwardedHeaders {
		if v := r.Header.Get(h); v != "" {
			req.Header.Set(h, v)
		}
	}

	return p.client.Do(req)
}
