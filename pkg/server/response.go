package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/getfaultd/faultd/pkg/stub"
)

// writeResponse serializes a stub response as a well-formed HTTP/1.1
// response with Connection: close. Serialization is delegated to net/http;
// only the fault paths hand-craft wire bytes.
func writeResponse(w io.Writer, req *http.Request, resp *stub.Response) error {
	hr := &http.Response{
		StatusCode:    resp.Status,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        make(http.Header),
		Body:          io.NopCloser(strings.NewReader(resp.Body)),
		ContentLength: int64(len(resp.Body)),
		Request:       req,
		Close:         true,
	}
	for name, value := range resp.Headers {
		hr.Header.Set(name, value)
	}
	return hr.Write(w)
}
