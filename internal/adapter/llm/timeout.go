package llm

import (
	"context"
	"time"
)

// WithTimeout bounds every completion call made through c. A zero or
// negative timeout returns c unchanged.
func WithTimeout(c Client, timeout time.Duration) Client {
	if timeout <= 0 {
		return c
	}
	return &timeoutClient{Client: c, timeout: timeout}
}

type timeoutClient struct {
	Client
	timeout time.Duration
}

func (t *timeoutClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Client.Complete(ctx, req)
}

func (t *timeoutClient) Stream(ctx context.Context, req *Request, callback StreamCallback) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Client.Stream(ctx, req, callback)
}
