// Package xhttptest provides fakes for testing code that uses [xhttp.Client].
package xhttptest

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// Client allows to fake interactions with an [xhttp.Client].
// It is safe to use the client concurrently.
type Client struct {
	requests  []*http.Request
	responses []response
	mutex     sync.Mutex
}

// NewClient creates a http client for test purposes.
func NewClient() *Client {
	return &Client{}
}

// PushResponse will push the given response on the response queue of this [Client].
// Calls to [Client.Do] will use the provided responses and will give an error when no
// response is defined for a request. Pushed responses are handled in a FIFO manner (queue).
func (c *Client) PushResponse(res *http.Response) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.responses = append(c.responses, response{
		res: res,
	})
}

// PushBody will push a response with the given status code and body on the response queue,
// see [Client.PushResponse].
func (c *Client) PushBody(status int, body string) {
	c.PushResponse(&http.Response{
		StatusCode: status,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(body)),
	})
}

// PushError will push the given error on the response queue of this [Client].
// Calls to [Client.Do] will use the provided error as a result to a request.
// Errors are enqueued with success responses [Client.PushResponse].
func (c *Client) PushError(err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.responses = append(c.responses, response{
		err: err,
	})
}

// Requests returns all received requests on this client.
// It returns cloned requests, so the caller is guaranteed to not see any changes
// on the underlying requests.
func (c *Client) Requests() []*http.Request {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	clonedReqs := make([]*http.Request, len(c.requests))
	for i, req := range c.requests {
		clonedReqs[i] = req.Clone(req.Context())
	}
	return clonedReqs
}

// Do records requests and sends responses/errors.
// To control responses/error use [Client.PushResponse] and [Client.PushError].
// To check received requests use [Client.Requests].
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.requests = append(c.requests, req)

	if len(c.responses) == 0 {
		return nil, fmt.Errorf("no response configured on xhttptest.Client for request: %v", req)
	}

	response := c.responses[0]
	c.responses = c.responses[1:]
	return response.res, response.err
}

type response struct {
	res *http.Response
	err error
}
