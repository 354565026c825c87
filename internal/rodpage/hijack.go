package rodpage

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Install mounts a capturing HijackRouter on page: a single "*"
// pattern with an empty resource type intercepts every request, the
// request is let through to the real network, and its outcome is
// handed to sink as an Exchange.
//
// Returns the running HijackRouter so the caller can defer router.Stop().
func Install(page *rod.Page, sourcePageURL string, sink func(Exchange)) *rod.HijackRouter {
	router := page.HijackRequests()

	_ = router.Add("*", "", func(ctx *rod.Hijack) {
		method := ctx.Request.Method()
		reqURL := ctx.Request.URL().String()
		resourceType := string(ctx.Request.Type())

		reqHeaders := make(map[string]string)
		for k, v := range ctx.Request.Headers() {
			reqHeaders[strings.ToLower(k)] = v.Str()
		}
		reqBody := []byte(ctx.Request.Body())

		start := time.Now()
		if err := ctx.LoadResponse(http.DefaultClient, true); err != nil {
			ctx.Response.Fail(proto.NetworkErrorReasonFailed)
			return
		}
		elapsed := time.Since(start)

		respHeaders := make(map[string]string)
		for k, vals := range ctx.Response.Headers() {
			respHeaders[strings.ToLower(k)] = strings.Join(vals, ", ")
		}

		sink(Exchange{
			Method:          method,
			URL:             reqURL,
			ResourceType:    resourceType,
			IsNavigation:    resourceType == string(proto.NetworkResourceTypeDocument),
			RequestHeaders:  reqHeaders,
			RequestBody:     reqBody,
			Status:          ctx.Response.Payload().ResponseCode,
			StatusText:      ctx.Response.Payload().ResponsePhrase,
			ResponseHeaders: respHeaders,
			ResponseBody:    []byte(ctx.Response.Body()),
			SourcePageURL:   sourcePageURL,
			ResponseTimeMs:  elapsed.Milliseconds(),
		})
	})

	// router.Run() blocks, so it must live in its own goroutine. It
	// exits when router.Stop() is called.
	go router.Run()

	return router
}
