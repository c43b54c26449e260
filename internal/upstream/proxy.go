package upstream

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"
)

// LegacyProxyConfig はLegacyProxyの設定。
type LegacyProxyConfig struct {
	BaseURL string // 例: https://api.groq.com/openai
	APIKey  string

	// ErrorHandler は上流に到達できなかった場合の応答を書く。
	ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)
}

// LegacyProxy は旧クライアントの /v1/* リクエストをそのままコマンド生成の上流に転送する。
// クライアントのAuthorizationヘッダーはサーバー側のAPIキーに置き換える。
type LegacyProxy struct {
	proxy    *httputil.ReverseProxy
	observer Observer
}

// NewLegacyProxy はLegacyProxyを生成する。observerはnilでもよい。
func NewLegacyProxy(transport http.RoundTripper, config LegacyProxyConfig, observer Observer) (*LegacyProxy, error) {
	target, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid upstream url %q", config.BaseURL)
	}
	if observer == nil {
		observer = nopObserver{}
	}

	errorHandler := config.ErrorHandler
	if errorHandler == nil {
		errorHandler = func(w http.ResponseWriter, _ *http.Request, _ error) {
			w.WriteHeader(http.StatusBadGateway)
		}
	}

	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.Header.Set("Authorization", "Bearer "+config.APIKey)
		},
		Transport:     transport,
		FlushInterval: -1,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			slog.Error("legacy proxy upstream call failed",
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)
			errorHandler(w, r, err)
		},
	}
	return &LegacyProxy{proxy: rp, observer: observer}, nil
}

// Forward はリクエストを転送し、クライアントに返したステータスコードを返す。
func (p *LegacyProxy) Forward(w http.ResponseWriter, r *http.Request) int {
	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	start := time.Now()
	p.proxy.ServeHTTP(sw, r)
	p.observer.ObserveUpstream(NameCommand, time.Since(start), sw.status >= 500)
	return sw.status
}

// statusWriter は書き込まれたステータスコードを記録する。
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.wroteHeader = true
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
