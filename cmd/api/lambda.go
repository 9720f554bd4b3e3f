package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
)

// startLambda blocks serving Function URL invocations.
func startLambda(h http.Handler) {
	lambda.Start(functionURLHandler(h))
}

// functionURLHandler adapts an http.Handler to Lambda Function URL events.
// Webhook signatures are computed over the exact body bytes, so the body is
// passed through untouched apart from base64 decoding.
func functionURLHandler(h http.Handler) func(context.Context, events.LambdaFunctionURLRequest) (events.LambdaFunctionURLResponse, error) {
	return func(ctx context.Context, req events.LambdaFunctionURLRequest) (events.LambdaFunctionURLResponse, error) {
		httpReq, err := toHTTPRequest(ctx, req)
		if err != nil {
			return events.LambdaFunctionURLResponse{}, err
		}

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httpReq)
		return toFunctionURLResponse(rec), nil
	}
}

func toHTTPRequest(ctx context.Context, req events.LambdaFunctionURLRequest) (*http.Request, error) {
	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return nil, fmt.Errorf("decoding base64 request body: %w", err)
		}
		body = decoded
	}

	path := req.RawPath
	if path == "" {
		path = "/"
	}
	target := path
	if req.RawQueryString != "" {
		target += "?" + req.RawQueryString
	}

	method := req.RequestContext.HTTP.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("building http request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if len(req.Cookies) > 0 {
		httpReq.Header.Set("Cookie", strings.Join(req.Cookies, "; "))
	}
	if host := req.Headers["host"]; host != "" {
		httpReq.Host = host
	}
	httpReq.RemoteAddr = req.RequestContext.HTTP.SourceIP
	httpReq.RequestURI = target
	return httpReq, nil
}

func toFunctionURLResponse(rec *httptest.ResponseRecorder) events.LambdaFunctionURLResponse {
	result := rec.Result()
	defer result.Body.Close()

	headers := make(map[string]string, len(result.Header))
	var cookies []string
	for k, v := range result.Header {
		if http.CanonicalHeaderKey(k) == "Set-Cookie" {
			cookies = append(cookies, v...)
			continue
		}
		headers[k] = strings.Join(v, ",")
	}

	return events.LambdaFunctionURLResponse{
		StatusCode: result.StatusCode,
		Headers:    headers,
		Body:       rec.Body.String(),
		Cookies:    cookies,
	}
}
