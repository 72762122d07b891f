package api

import (
	"bufio"
	"bytes"
	"io"
	"net/http"

	"castd/internal/errors"
)

// maxBody bounds a request body.  The API has no write routes, so
// anything larger is a misbehaving client.
const maxBody = 64 << 10

// Response is a fully buffered HTTP reply.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// httpCodec frames HTTP/1.x requests and responses for a
// [connection.Peer].
type httpCodec struct{}

func (httpCodec) ReadRequest(r *bufio.Reader) (*http.Request, error) {
	req, err := http.ReadRequest(r)
	if err != nil {
		return nil, err
	}
	// The body must be consumed before the next request can be read.
	body, err := io.ReadAll(io.LimitReader(req.Body, maxBody+1))
	req.Body.Close()
	if err != nil {
		return nil, err
	}
	if len(body) > maxBody {
		return nil, errors.Protocol("read request", "", errors.ErrFrameTooLarge)
	}
	req.Body = io.NopCloser(bytes.NewReader(body))
	return req, nil
}

func (httpCodec) KeepAlive(req *http.Request) bool {
	return !req.Close
}

func (httpCodec) WriteResponse(w io.Writer, resp Response, keepAlive bool) error {
	header := resp.Header
	if header == nil {
		header = make(http.Header)
	}
	r := &http.Response{
		StatusCode:    resp.Status,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(resp.Body)),
		ContentLength: int64(len(resp.Body)),
		Close:         !keepAlive,
	}
	return r.Write(w)
}

func (httpCodec) ServerError() Response {
	return textResponse(http.StatusInternalServerError, "internal server error\n")
}

func textResponse(status int, text string) Response {
	h := make(http.Header)
	h.Set("Content-Type", "text/plain; charset=utf-8")
	return Response{Status: status, Header: h, Body: []byte(text)}
}

// recorder is the http.ResponseWriter the router writes into; its
// contents become a [Response].
type recorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newRecorder() *recorder {
	return &recorder{header: make(http.Header)}
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
}

func (r *recorder) Write(p []byte) (int, error) {
	r.WriteHeader(http.StatusOK)
	return r.body.Write(p)
}

func (r *recorder) response() Response {
	status := r.status
	if status == 0 {
		status = http.StatusOK
	}
	return Response{Status: status, Header: r.header, Body: r.body.Bytes()}
}
