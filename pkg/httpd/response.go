package httpd

import (
	"net/http"
	"strconv"
)

const defaultMimeType = "text/plain"

var defaultBody = []byte("This is a minimal response")

// BuildResponse frames body as
//
//	HTTP/1.1 <code> <reason>\r\nContent-Type: <mimeType>\r\n\r\n<body>
//
// The body is appended verbatim. No Content-Length is written.
func BuildResponse(code int, reason string, body []byte, mimeType string) []byte {
	b := make([]byte, 0, len("HTTP/1.1 000 \r\nContent-Type: \r\n\r\n")+len(reason)+len(mimeType)+len(body))
	b = append(b, "HTTP/1.1 "...)
	b = strconv.AppendInt(b, int64(code), 10)
	b = append(b, ' ')
	b = append(b, reason...)
	b = append(b, "\r\nContent-Type: "...)
	b = append(b, mimeType...)
	b = append(b, "\r\n\r\n"...)
	return append(b, body...)
}

// ResponseOK returns a 200 response. An empty mimeType means text/plain and a
// nil body is replaced by a placeholder.
func ResponseOK(body []byte, mimeType string) []byte {
	if mimeType == "" {
		mimeType = defaultMimeType
	}
	if body == nil {
		body = defaultBody
	}
	return BuildResponse(http.StatusOK, http.StatusText(http.StatusOK), body, mimeType)
}

func ResponseMethodNotAllowed() []byte {
	return htmlResponse(http.StatusMethodNotAllowed, "Method Not Allowed")
}

func ResponseNotFound() []byte {
	return htmlResponse(http.StatusNotFound, "Content Not Found")
}

func ResponseTooLarge() []byte {
	return htmlResponse(http.StatusRequestEntityTooLarge, "Request Too Large")
}

func ResponseTimeout() []byte {
	return htmlResponse(http.StatusRequestTimeout, "Request Timeout")
}

func htmlResponse(code int, heading string) []byte {
	body := "<html><h1>" + heading + "</h1></html>"
	return BuildResponse(code, http.StatusText(code), []byte(body), "text/html")
}
