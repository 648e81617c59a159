package httpenforcer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// recordingKey is the context key under which a requestRecording is
// stashed for the duration of one proxied request.
type recordingKey struct{}

// requestRecording threads redaction directives and observed response size
// from ServeHTTP into the ReverseProxy's Director/ModifyResponse
// callbacks, which run on whatever goroutine net/http drives the proxy on.
type requestRecording struct {
	redact        []string
	requestID     string
	responseBytes int64
}

// direct is the ReverseProxy Director: it rewrites the request onto the
// configured upstream and strips every header that must not cross the
// trust boundary.
func (e *Enforcer) direct(req *http.Request) {
	stripHopByHop(req.Header)
	req.Header.Del("X-Tenant-ID")
	if !e.cfg.ForwardAuthHeader {
		req.Header.Del("Authorization")
	}

	upstream := e.cfg.Upstream
	req.URL.Scheme = upstream.Scheme
	req.URL.Host = upstream.Host
	req.Host = upstream.Host
	if upstream.Path != "" && upstream.Path != "/" {
		req.URL.Path = strings.TrimSuffix(upstream.Path, "/") + req.URL.Path
	}
}

// stripHopByHop removes the fixed hop-by-hop header set plus every header
// named in an incoming Connection directive.
func stripHopByHop(h http.Header) {
	if conn := h.Get("Connection"); conn != "" {
		for _, name := range strings.Split(conn, ",") {
			h.Del(strings.TrimSpace(name))
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// modifyResponse applies redaction to JSON bodies and records the
// (possibly shrunk) response size for bandwidth accounting.
func (e *Enforcer) modifyResponse(resp *http.Response) error {
	rec, _ := resp.Request.Context().Value(recordingKey{}).(*requestRecording)

	stripHopByHop(resp.Header)

	contentType := resp.Header.Get("Content-Type")
	if rec == nil || len(rec.redact) == 0 || !strings.Contains(contentType, "application/json") {
		if rec != nil {
			rec.responseBytes = resp.ContentLength
		}
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return err
	}

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		// Not a JSON object at the root (array, scalar, or malformed);
		// pass the original bytes through unchanged.
		resp.Body = io.NopCloser(bytes.NewReader(body))
		resp.ContentLength = int64(len(body))
		if rec != nil {
			rec.responseBytes = int64(len(body))
		}
		return nil
	}

	RedactJSON(doc, rec.redact)

	redacted, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	resp.Body = io.NopCloser(bytes.NewReader(redacted))
	resp.ContentLength = int64(len(redacted))
	resp.Header.Set("Content-Length", strconv.Itoa(len(redacted)))
	rec.responseBytes = int64(len(redacted))
	return nil
}

// proxyError maps ReverseProxy transport failures to the adapter's fixed
// error response shape: a deadline failure is a gateway timeout, anything
// else is an upstream error.
func (e *Enforcer) proxyError(w http.ResponseWriter, r *http.Request, err error) {
	rec, _ := r.Context().Value(recordingKey{}).(*requestRecording)
	requestID := ""
	if rec != nil {
		requestID = rec.requestID
	}
	if errors.Is(err, context.DeadlineExceeded) {
		writeUpstreamTimeout(w, requestID)
		return
	}
	writeUpstreamError(w, requestID)
}
